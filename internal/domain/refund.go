package domain

import "time"

// Refund request status constants.
const (
	RefundStatusPending  = "pending"
	RefundStatusApproved = "approved"
	RefundStatusDenied   = "denied"
)

// RefundRequest represents a customer request to refund a paid order.
// Approved and denied are terminal states.
type RefundRequest struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	UserID      string     `json:"user_id"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	AdminNotes  string     `json:"admin_notes,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ValidRefundStatuses returns all valid refund request statuses.
func ValidRefundStatuses() []string {
	return []string{RefundStatusPending, RefundStatusApproved, RefundStatusDenied}
}

// IsValidRefundStatus checks whether the given status is valid.
func IsValidRefundStatus(status string) bool {
	for _, s := range ValidRefundStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsProcessed reports whether the request has reached a terminal state.
func (r *RefundRequest) IsProcessed() bool {
	return r.Status == RefundStatusApproved || r.Status == RefundStatusDenied
}
