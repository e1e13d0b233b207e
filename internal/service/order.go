package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feldrin/BookstoreGo/internal/catalog"
	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/event"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	"github.com/feldrin/BookstoreGo/internal/repository"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// CheckoutInput holds the parameters for creating an order from a cart.
type CheckoutInput struct {
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	CustomerName  string `json:"customer_name"`
	PaymentMethod string `json:"payment_method" validate:"required"`
	Currency      string `json:"currency" validate:"required,len=3"`
	IPAddress     string `json:"-"`
	UserAgent     string `json:"-"`
}

// CheckoutResult carries the created order together with what the client
// needs to complete the payment.
type CheckoutResult struct {
	Order  *domain.Order   `json:"order"`
	Intent *gateway.Intent `json:"payment"`
}

// LinkIssuer issues download links for a paid order. Implemented by
// DownloadService; split out so the order ledger does not depend on it
// concretely.
type LinkIssuer interface {
	IssueForOrder(ctx context.Context, order *domain.Order) ([]domain.DownloadLink, error)
}

// OrderService implements the order ledger: checkout and the guarded order
// state machine. All mutations of one order run under its per-order lock.
type OrderService struct {
	orders   repository.OrderRepository
	carts    repository.CartRepository
	catalog  catalog.Catalog
	gateways *gateway.Resolver
	links    LinkIssuer
	producer event.Publisher
	locks    *OrderLocks
	logger   *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orders repository.OrderRepository,
	carts repository.CartRepository,
	cat catalog.Catalog,
	gateways *gateway.Resolver,
	links LinkIssuer,
	producer event.Publisher,
	locks *OrderLocks,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		carts:    carts,
		catalog:  cat,
		gateways: gateways,
		links:    links,
		producer: producer,
		locks:    locks,
		logger:   logger,
	}
}

// Checkout turns the user's cart into a pending order. Product names and
// prices are re-fetched from the catalog and snapshotted per line; the cart
// is cleared only after both the order and the payment intent exist.
func (s *OrderService) Checkout(ctx context.Context, userID string, input CheckoutInput) (*CheckoutResult, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if input.CustomerEmail == "" {
		return nil, apperrors.InvalidInput("customer email is required")
	}
	if !domain.IsValidPaymentMethod(input.PaymentMethod) {
		return nil, apperrors.InvalidInput("unknown payment method: " + input.PaymentMethod)
	}
	if !domain.IsValidCurrency(input.Currency) {
		return nil, apperrors.InvalidInput("unsupported currency: " + input.Currency)
	}

	gw, err := s.gateways.Resolve(input.PaymentMethod)
	if err != nil {
		return nil, err
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidInput("cart is empty")
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()

	var subtotal int64
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		product, err := s.catalog.GetProduct(ctx, ci.ProductID)
		if err != nil {
			return nil, fmt.Errorf("fetch product %s: %w", ci.ProductID, err)
		}
		if !product.IsActive {
			return nil, apperrors.InvalidInput("product is no longer available: " + product.Name)
		}

		price, err := product.PriceIn(input.Currency)
		if err != nil {
			return nil, err
		}

		lineSubtotal := price * int64(ci.Quantity)
		items = append(items, domain.OrderItem{
			ID:          uuid.New().String(),
			OrderID:     orderID,
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductSlug: product.Slug,
			Price:       price,
			Quantity:    ci.Quantity,
			Subtotal:    lineSubtotal,
			FileKey:     product.FileKey,
		})
		subtotal += lineSubtotal
	}

	// Digital goods carry no tax line here; the total still records both
	// components separately.
	var tax int64
	order := &domain.Order{
		ID:            orderID,
		UserID:        userID,
		CustomerEmail: input.CustomerEmail,
		CustomerName:  input.CustomerName,
		Status:        domain.OrderStatusPending,
		Items:         items,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         subtotal + tax,
		Currency:      input.Currency,
		PaymentMethod: input.PaymentMethod,
		IPAddress:     input.IPAddress,
		UserAgent:     input.UserAgent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	intent, err := gw.CreateIntent(ctx, &gateway.IntentInput{
		OrderID:       order.ID,
		Amount:        order.Total,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		Description:   fmt.Sprintf("Order %s", order.ID),
	})
	if err != nil {
		// The cart is untouched; cancel the orphaned order so the user can
		// retry checkout cleanly.
		if cancelErr := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, repository.ProviderRefs{}); cancelErr != nil {
			s.logger.ErrorContext(ctx, "failed to cancel order after intent failure",
				slog.String("order_id", order.ID),
				slog.String("error", cancelErr.Error()),
			)
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	refs := repository.ProviderRefs{}
	if input.PaymentMethod == domain.PaymentMethodStripe {
		refs.StripePaymentIntentID = intent.ProviderID
		order.StripePaymentIntentID = intent.ProviderID
	}
	if refs != (repository.ProviderRefs{}) {
		if err := s.orders.SetProviderRefs(ctx, order.ID, refs); err != nil {
			return nil, fmt.Errorf("record provider refs: %w", err)
		}
	}

	if err := s.carts.Delete(ctx, userID); err != nil {
		// The order is durable; an expiring stale cart is acceptable.
		s.logger.ErrorContext(ctx, "failed to clear cart after checkout",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("user_id", userID),
		slog.Int64("total", order.Total),
		slog.String("currency", order.Currency),
		slog.String("payment_method", order.PaymentMethod),
	)

	return &CheckoutResult{Order: order, Intent: intent}, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListOrders returns orders matching the filter with the total count.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	if filter.Status != nil && !domain.IsValidOrderStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput("invalid order status: " + *filter.Status)
	}
	return s.orders.List(ctx, filter)
}

// MarkPaid transitions a pending order to paid after confirming the payment
// with its provider, then issues download links and publishes order.paid.
// Calling it on an already paid order is a no-op; any other state is a
// conflict.
func (s *OrderService) MarkPaid(ctx context.Context, orderID string, refs repository.ProviderRefs) (*domain.Order, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusPaid {
		return order, nil
	}
	if !order.CanTransitionTo(domain.OrderStatusPaid) {
		return nil, apperrors.Conflict(fmt.Sprintf("order in status %s cannot be marked paid", order.Status))
	}

	providerPaymentID := providerRefFor(order.PaymentMethod, refs)
	if providerPaymentID == "" {
		providerPaymentID = order.ProviderPaymentID()
	}
	if providerPaymentID == "" {
		return nil, apperrors.InvalidInput("order has no provider payment reference")
	}

	gw, err := s.gateways.Resolve(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	status, err := gw.Confirm(ctx, providerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if status != gateway.StatusSucceeded {
		return nil, apperrors.PaymentFailed(fmt.Sprintf("payment %s is %s, not succeeded", providerPaymentID, status))
	}

	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusPaid, refs); err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	order.Status = domain.OrderStatusPaid
	applyProviderRefs(order, refs)

	if _, err := s.links.IssueForOrder(ctx, order); err != nil {
		// Links can be re-issued by support; the paid state is what must hold.
		s.logger.ErrorContext(ctx, "failed to issue download links",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishOrderPaid(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.paid event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order marked paid",
		slog.String("order_id", orderID),
		slog.String("provider_payment_id", providerPaymentID),
	)

	return order, nil
}

// MarkCancelled transitions a pending order to cancelled.
func (s *OrderService) MarkCancelled(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}
	if !order.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, apperrors.Conflict(fmt.Sprintf("order in status %s cannot be cancelled", order.Status))
	}

	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled, repository.ProviderRefs{}); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	order.Status = domain.OrderStatusCancelled

	if err := s.producer.PublishOrderCancelled(ctx, order, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.cancelled event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", orderID),
		slog.String("reason", reason),
	)

	return order, nil
}

// MarkRefunded transitions a paid order to refunded. The gateway refund has
// already happened by the time this is called (refund approval or a
// provider-initiated refund event).
func (s *OrderService) MarkRefunded(ctx context.Context, orderID, refundID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusRefunded {
		return order, nil
	}
	if !order.CanTransitionTo(domain.OrderStatusRefunded) {
		return nil, apperrors.Conflict(fmt.Sprintf("order in status %s cannot be refunded", order.Status))
	}

	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusRefunded, repository.ProviderRefs{}); err != nil {
		return nil, fmt.Errorf("mark order refunded: %w", err)
	}
	order.Status = domain.OrderStatusRefunded

	if err := s.producer.PublishOrderRefunded(ctx, order, refundID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.refunded event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order refunded", slog.String("order_id", orderID))

	return order, nil
}

// Locks exposes the shared per-order lock table so collaborating services
// serialize against the same locks.
func (s *OrderService) Locks() *OrderLocks {
	return s.locks
}

func providerRefFor(method string, refs repository.ProviderRefs) string {
	switch method {
	case domain.PaymentMethodStripe:
		return refs.StripePaymentIntentID
	case domain.PaymentMethodMercadoPago:
		return refs.MercadoPagoPaymentID
	}
	return ""
}

func applyProviderRefs(o *domain.Order, refs repository.ProviderRefs) {
	if refs.StripePaymentIntentID != "" {
		o.StripePaymentIntentID = refs.StripePaymentIntentID
	}
	if refs.StripeSessionID != "" {
		o.StripeSessionID = refs.StripeSessionID
	}
	if refs.MercadoPagoPaymentID != "" {
		o.MercadoPagoPaymentID = refs.MercadoPagoPaymentID
	}
}
