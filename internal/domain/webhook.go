package domain

import "time"

// ProcessedWebhookEvent records a provider event that has already been
// applied, keyed by (provider, event_id). Inserting the record is the
// idempotency gate for webhook deliveries.
type ProcessedWebhookEvent struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
