// Package repository defines the persistence interfaces for the commerce
// core, one per aggregate.
package repository

import (
	"context"
	"time"

	"github.com/feldrin/BookstoreGo/internal/domain"
)

// CartRepository defines the interface for cart persistence operations.
type CartRepository interface {
	// Get retrieves a cart by its user ID.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save persists a cart to the store, overwriting any existing cart for the user.
	Save(ctx context.Context, cart *domain.Cart) error

	// SaveIfVersion persists a cart only when the stored version still
	// matches expectedVersion, bumping the version on success. It reports
	// false on a concurrent modification.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error)

	// Delete removes a cart from the store by the user ID.
	Delete(ctx context.Context, userID string) error
}

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	UserID  *string
	Status  *string
	Page    int
	PerPage int
}

// ProviderRefs carries the provider-side payment references recorded against
// an order as the payment progresses.
type ProviderRefs struct {
	StripePaymentIntentID string
	StripeSessionID       string
	MercadoPagoPaymentID  string
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts a new order and its items into the store atomically.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier, including items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByProviderPaymentID retrieves the order carrying the given
	// provider-side payment reference for the given payment method.
	GetByProviderPaymentID(ctx context.Context, method, providerPaymentID string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// SetProviderRefs records provider payment references without touching
	// the order status.
	SetProviderRefs(ctx context.Context, id string, refs ProviderRefs) error

	// UpdateStatus changes the status of an order, optionally recording
	// provider refs learned from the status change.
	UpdateStatus(ctx context.Context, id string, status string, refs ProviderRefs) error
}

// DownloadRepository defines the interface for download link persistence.
type DownloadRepository interface {
	// Create inserts a new download link.
	Create(ctx context.Context, link *domain.DownloadLink) error

	// GetByToken retrieves a download link by its token.
	GetByToken(ctx context.Context, token string) (*domain.DownloadLink, error)

	// ListByOrder returns all download links issued for an order.
	ListByOrder(ctx context.Context, orderID string) ([]domain.DownloadLink, error)

	// RegisterDownload atomically increments the download count and records
	// the caller's IP, but only while the link is active, unexpired and under
	// its cap. It reports whether the download was registered.
	RegisterDownload(ctx context.Context, id string, ip string, at time.Time) (bool, error)
}

// RefundFilter defines filter criteria for listing refund requests.
type RefundFilter struct {
	OrderID *string
	UserID  *string
	Status  *string
	Page    int
	PerPage int
}

// RefundRepository defines the interface for refund request persistence.
type RefundRepository interface {
	// Create inserts a new refund request.
	Create(ctx context.Context, req *domain.RefundRequest) error

	// GetByID retrieves a refund request by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.RefundRequest, error)

	// HasPendingForOrder reports whether the order already has a pending
	// refund request.
	HasPendingForOrder(ctx context.Context, orderID string) (bool, error)

	// List returns refund requests matching the given filter with the total count.
	List(ctx context.Context, filter RefundFilter) ([]domain.RefundRequest, int, error)

	// Deny marks a pending request as denied with the admin's notes.
	Deny(ctx context.Context, id, adminID, notes string) error

	// Approve marks a pending request as approved and transitions its order
	// to refunded in the same transaction.
	Approve(ctx context.Context, id, adminID, notes, orderID string) error
}

// WebhookEventRepository is the idempotency ledger for webhook deliveries.
// Events are recorded only after successful handling, so a delivery that
// fails transiently stays unrecorded and the provider's redelivery gets a
// second attempt.
type WebhookEventRepository interface {
	// IsProcessed reports whether the (provider, event_id) pair has already
	// been recorded.
	IsProcessed(ctx context.Context, provider, eventID string) (bool, error)
	// MarkProcessed atomically records the (provider, event_id) pair. It
	// returns false when the pair was already recorded by a concurrent
	// delivery.
	MarkProcessed(ctx context.Context, event *domain.ProcessedWebhookEvent) (bool, error)
}
