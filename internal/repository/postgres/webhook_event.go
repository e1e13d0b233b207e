package postgres

import (
	"context"
	"fmt"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/pkg/database"
)

// WebhookEventRepository implements the webhook idempotency ledger using
// PostgreSQL.
type WebhookEventRepository struct {
	pool database.DBTX
}

// NewWebhookEventRepository creates a new PostgreSQL-backed ledger.
func NewWebhookEventRepository(pool database.DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{pool: pool}
}

// IsProcessed reports whether the (provider, event_id) pair has been
// recorded.
func (r *WebhookEventRepository) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processed_webhook_events
			WHERE provider = $1 AND event_id = $2
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed webhook event: %w", err)
	}
	return exists, nil
}

// MarkProcessed records the (provider, event_id) pair. ON CONFLICT DO
// NOTHING makes the check-and-insert atomic; a zero rows-affected count
// means another delivery already claimed the event.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, event *domain.ProcessedWebhookEvent) (bool, error) {
	query := `
		INSERT INTO processed_webhook_events (provider, event_id, order_id, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING`

	ct, err := r.pool.Exec(ctx, query, event.Provider, event.EventID, event.OrderID, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert processed webhook event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
