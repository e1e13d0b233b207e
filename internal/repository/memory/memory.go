// Package memory provides in-memory repository implementations. They back
// tests and the local development mode where no Postgres or Redis is
// available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/repository"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// CartRepository is an in-memory repository.CartRepository.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

// NewCartRepository creates an empty in-memory cart repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]*domain.Cart)}
}

// Get retrieves a cart by user ID.
func (r *CartRepository) Get(_ context.Context, userID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, apperrors.NotFound("cart", userID)
	}
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	return &cp, nil
}

// Save persists a cart.
func (r *CartRepository) Save(_ context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	r.carts[cart.UserID] = &cp
	return nil
}

// SaveIfVersion persists a cart only when the stored version still matches
// expectedVersion.
func (r *CartRepository) SaveIfVersion(_ context.Context, cart *domain.Cart, expectedVersion int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.carts[cart.UserID]
	if ok && current.Version != expectedVersion {
		return false, nil
	}
	if !ok && expectedVersion != 0 {
		return false, nil
	}

	cart.Version = expectedVersion + 1
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	r.carts[cart.UserID] = &cp
	return true, nil
}

// Delete removes a cart by user ID.
func (r *CartRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

// OrderRepository is an in-memory repository.OrderRepository.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewOrderRepository creates an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*domain.Order)}
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}

// Create inserts a new order.
func (r *OrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return apperrors.ErrAlreadyExists
	}
	r.orders[order.ID] = copyOrder(order)
	return nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyOrder(o), nil
}

// GetByProviderPaymentID retrieves the order carrying the given provider ref.
func (r *OrderRepository) GetByProviderPaymentID(_ context.Context, method, providerPaymentID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		switch method {
		case domain.PaymentMethodStripe:
			if o.StripePaymentIntentID == providerPaymentID || o.StripeSessionID == providerPaymentID {
				return copyOrder(o), nil
			}
		case domain.PaymentMethodMercadoPago:
			if o.MercadoPagoPaymentID == providerPaymentID {
				return copyOrder(o), nil
			}
		}
	}
	return nil, apperrors.ErrNotFound
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(_ context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Order, 0)
	for _, o := range r.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		matched = append(matched, *copyOrder(o))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	if offset >= len(matched) {
		return []domain.Order{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func applyRefs(o *domain.Order, refs repository.ProviderRefs) {
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

// SetProviderRefs records provider payment references on an order.
func (r *OrderRepository) SetProviderRefs(_ context.Context, id string, refs repository.ProviderRefs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	applyRefs(o, refs)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus changes the status of an order.
func (r *OrderRepository) UpdateStatus(_ context.Context, id string, status string, refs repository.ProviderRefs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.Status = status
	applyRefs(o, refs)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// DownloadRepository is an in-memory repository.DownloadRepository.
type DownloadRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.DownloadLink
	byToken map[string]string
}

// NewDownloadRepository creates an empty in-memory download repository.
func NewDownloadRepository() *DownloadRepository {
	return &DownloadRepository{
		byID:    make(map[string]*domain.DownloadLink),
		byToken: make(map[string]string),
	}
}

// Create inserts a new download link.
func (r *DownloadRepository) Create(_ context.Context, link *domain.DownloadLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *link
	r.byID[link.ID] = &cp
	r.byToken[link.Token] = link.ID
	return nil
}

// GetByToken retrieves a download link by token.
func (r *DownloadRepository) GetByToken(_ context.Context, token string) (*domain.DownloadLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// ListByOrder returns all download links issued for an order.
func (r *DownloadRepository) ListByOrder(_ context.Context, orderID string) ([]domain.DownloadLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	links := make([]domain.DownloadLink, 0)
	for _, l := range r.byID {
		if l.OrderID == orderID {
			links = append(links, *l)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
	return links, nil
}

// RegisterDownload increments the download count while the link is redeemable.
func (r *DownloadRepository) RegisterDownload(_ context.Context, id string, ip string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	if !l.Redeemable(at) {
		return false, nil
	}
	l.DownloadCount++
	l.LastIP = ip
	t := at
	l.LastDownloadedAt = &t
	l.UpdatedAt = at
	return true, nil
}

// RefundRepository is an in-memory repository.RefundRepository. Approve
// needs the order repository to mirror the transactional postgres behavior.
type RefundRepository struct {
	mu       sync.Mutex
	requests map[string]*domain.RefundRequest
	orders   *OrderRepository
}

// NewRefundRepository creates an empty in-memory refund repository bound to
// the given order repository.
func NewRefundRepository(orders *OrderRepository) *RefundRepository {
	return &RefundRepository{
		requests: make(map[string]*domain.RefundRequest),
		orders:   orders,
	}
}

// Create inserts a new refund request.
func (r *RefundRepository) Create(_ context.Context, req *domain.RefundRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

// GetByID retrieves a refund request by ID.
func (r *RefundRepository) GetByID(_ context.Context, id string) (*domain.RefundRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// HasPendingForOrder reports whether the order has a pending request.
func (r *RefundRepository) HasPendingForOrder(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, req := range r.requests {
		if req.OrderID == orderID && req.Status == domain.RefundStatusPending {
			return true, nil
		}
	}
	return false, nil
}

// List returns refund requests matching the filter, newest first.
func (r *RefundRepository) List(_ context.Context, filter repository.RefundFilter) ([]domain.RefundRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]domain.RefundRequest, 0)
	for _, req := range r.requests {
		if filter.OrderID != nil && req.OrderID != *filter.OrderID {
			continue
		}
		if filter.UserID != nil && req.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		matched = append(matched, *req)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	if offset >= len(matched) {
		return []domain.RefundRequest{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// Deny marks a pending request as denied.
func (r *RefundRepository) Deny(_ context.Context, id, adminID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if req.Status != domain.RefundStatusPending {
		return apperrors.Conflict("refund request already processed")
	}
	now := time.Now().UTC()
	req.Status = domain.RefundStatusDenied
	req.AdminNotes = notes
	req.ProcessedBy = adminID
	req.ProcessedAt = &now
	req.UpdatedAt = now
	return nil
}

// Approve marks a pending request as approved and moves its order to refunded.
func (r *RefundRepository) Approve(ctx context.Context, id, adminID, notes, orderID string) error {
	r.mu.Lock()
	req, ok := r.requests[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.ErrNotFound
	}
	if req.Status != domain.RefundStatusPending {
		r.mu.Unlock()
		return apperrors.Conflict("refund request already processed")
	}
	r.mu.Unlock()

	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPaid {
		return apperrors.Conflict("order is not in a refundable state")
	}
	if err := r.orders.UpdateStatus(ctx, orderID, domain.OrderStatusRefunded, repository.ProviderRefs{}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	req.Status = domain.RefundStatusApproved
	req.AdminNotes = notes
	req.ProcessedBy = adminID
	req.ProcessedAt = &now
	req.UpdatedAt = now
	return nil
}

// WebhookEventRepository is an in-memory idempotency ledger.
type WebhookEventRepository struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewWebhookEventRepository creates an empty in-memory ledger.
func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{seen: make(map[string]struct{})}
}

// IsProcessed reports whether the (provider, event_id) pair has been
// recorded.
func (r *WebhookEventRepository) IsProcessed(_ context.Context, provider, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.seen[provider+":"+eventID]
	return ok, nil
}

// MarkProcessed records the (provider, event_id) pair, reporting false when
// it was already recorded.
func (r *WebhookEventRepository) MarkProcessed(_ context.Context, event *domain.ProcessedWebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := event.Provider + ":" + event.EventID
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = struct{}{}
	return true, nil
}
