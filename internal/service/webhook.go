package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	"github.com/feldrin/BookstoreGo/internal/repository"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Webhook processing outcomes.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookUnmatched = "unmatched"
)

// WebhookResult describes what the reconciler did with a delivery.
type WebhookResult struct {
	Status    string `json:"status"`
	EventType string `json:"event_type,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
}

// OrderTransitions is the slice of the order ledger the reconciler drives.
// Implemented by OrderService.
type OrderTransitions interface {
	MarkPaid(ctx context.Context, orderID string, refs repository.ProviderRefs) (*domain.Order, error)
	MarkCancelled(ctx context.Context, orderID, reason string) (*domain.Order, error)
	MarkRefunded(ctx context.Context, orderID, refundID string) (*domain.Order, error)
}

// WebhookService reconciles provider webhook deliveries against the order
// ledger. Deliveries are verified, deduplicated through the processed-event
// ledger, and applied through the guarded order state machine, so redelivery
// and out-of-order arrival are safe.
type WebhookService struct {
	gateways *gateway.Resolver
	orders   repository.OrderRepository
	events   repository.WebhookEventRepository
	ledger   OrderTransitions
	logger   *slog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(
	gateways *gateway.Resolver,
	orders repository.OrderRepository,
	events repository.WebhookEventRepository,
	ledger OrderTransitions,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		gateways: gateways,
		orders:   orders,
		events:   events,
		ledger:   ledger,
		logger:   logger,
	}
}

// Process handles one webhook delivery for the given payment method. The
// signature is checked before anything else; a delivery that fails
// verification is discarded without touching the ledger.
func (s *WebhookService) Process(ctx context.Context, method string, payload []byte, headers http.Header, query url.Values) (*WebhookResult, error) {
	gw, err := s.gateways.Resolve(method)
	if err != nil {
		return nil, err
	}

	evt, err := gw.VerifyWebhook(payload, headers, query)
	if err != nil {
		return nil, err
	}

	if evt.Type == gateway.EventIgnored {
		s.logger.InfoContext(ctx, "webhook event ignored",
			slog.String("provider", gw.Name()),
			slog.String("event_id", evt.ID),
		)
		return &WebhookResult{Status: WebhookIgnored}, nil
	}

	eventType := evt.Type
	orderID := evt.OrderID

	// Notifications that only reference a payment are resolved against the
	// provider before they can be applied.
	if evt.Type == gateway.EventPaymentUpdated {
		info, err := gw.GetPayment(ctx, evt.ProviderPaymentID)
		if err != nil {
			return nil, fmt.Errorf("resolve payment %s: %w", evt.ProviderPaymentID, err)
		}
		eventType = eventTypeForStatus(info.Status)
		if eventType == gateway.EventIgnored {
			s.logger.InfoContext(ctx, "webhook payment still pending",
				slog.String("provider", gw.Name()),
				slog.String("provider_payment_id", evt.ProviderPaymentID),
			)
			return &WebhookResult{Status: WebhookIgnored}, nil
		}
		if orderID == "" {
			orderID = info.OrderID
		}
	}

	order, err := s.findOrder(ctx, method, orderID, evt.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		// Unknown references happen when providers replay very old events or
		// when a payment belongs to another environment. Acknowledge so the
		// provider stops retrying.
		s.logger.WarnContext(ctx, "webhook event matched no order",
			slog.String("provider", gw.Name()),
			slog.String("event_id", evt.ID),
			slog.String("provider_payment_id", evt.ProviderPaymentID),
		)
		return &WebhookResult{Status: WebhookUnmatched, EventType: eventType}, nil
	}

	processed, err := s.events.IsProcessed(ctx, gw.Name(), evt.ID)
	if err != nil {
		return nil, fmt.Errorf("check webhook event: %w", err)
	}
	if processed {
		s.logger.InfoContext(ctx, "duplicate webhook delivery",
			slog.String("provider", gw.Name()),
			slog.String("event_id", evt.ID),
			slog.String("order_id", order.ID),
		)
		return &WebhookResult{Status: WebhookDuplicate, EventType: eventType, OrderID: order.ID}, nil
	}

	if err := s.apply(ctx, method, eventType, order, evt.ProviderPaymentID); err != nil {
		return nil, err
	}

	// Recorded only after a successful apply, so a transient failure above
	// leaves the event unrecorded and the provider's redelivery retries it.
	// The per-order lock and the state-machine guards keep a concurrent
	// delivery of the same event harmless in the meantime.
	if _, err := s.events.MarkProcessed(ctx, &domain.ProcessedWebhookEvent{
		Provider:   gw.Name(),
		EventID:    evt.ID,
		OrderID:    order.ID,
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		// The apply already went through the guarded state machine, so a
		// redelivery of this event is safe to re-run.
		s.logger.WarnContext(ctx, "failed to record webhook event",
			slog.String("provider", gw.Name()),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "webhook event applied",
		slog.String("provider", gw.Name()),
		slog.String("event_id", evt.ID),
		slog.String("event_type", eventType),
		slog.String("order_id", order.ID),
	)

	return &WebhookResult{Status: WebhookProcessed, EventType: eventType, OrderID: order.ID}, nil
}

func (s *WebhookService) apply(ctx context.Context, method, eventType string, order *domain.Order, providerPaymentID string) error {
	switch eventType {
	case gateway.EventPaymentSucceeded:
		refs := repository.ProviderRefs{}
		switch method {
		case domain.PaymentMethodStripe:
			refs.StripePaymentIntentID = providerPaymentID
		case domain.PaymentMethodMercadoPago:
			refs.MercadoPagoPaymentID = providerPaymentID
		}
		_, err := s.ledger.MarkPaid(ctx, order.ID, refs)
		return err
	case gateway.EventPaymentFailed:
		_, err := s.ledger.MarkCancelled(ctx, order.ID, "payment failed")
		if errors.Is(err, apperrors.ErrConflict) {
			// A failure notice for an order that already moved on, for
			// example paid through a later attempt. Nothing to reconcile.
			s.logger.WarnContext(ctx, "payment failure ignored for settled order",
				slog.String("order_id", order.ID),
				slog.String("status", order.Status),
			)
			return nil
		}
		return err
	case gateway.EventPaymentRefunded:
		_, err := s.ledger.MarkRefunded(ctx, order.ID, "")
		return err
	}
	return apperrors.InvalidInput("unknown webhook event type: " + eventType)
}

// findOrder matches the event to an order by external reference first, then
// by provider payment ID. A nil order with nil error means no match.
func (s *WebhookService) findOrder(ctx context.Context, method, orderID, providerPaymentID string) (*domain.Order, error) {
	if orderID != "" {
		order, err := s.orders.GetByID(ctx, orderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("get order: %w", err)
		}
	}

	if providerPaymentID != "" {
		order, err := s.orders.GetByProviderPaymentID(ctx, method, providerPaymentID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("get order by payment id: %w", err)
		}
	}

	return nil, nil
}

func eventTypeForStatus(status gateway.Status) string {
	switch status {
	case gateway.StatusSucceeded:
		return gateway.EventPaymentSucceeded
	case gateway.StatusFailed:
		return gateway.EventPaymentFailed
	case gateway.StatusRefunded:
		return gateway.EventPaymentRefunded
	}
	return gateway.EventIgnored
}
