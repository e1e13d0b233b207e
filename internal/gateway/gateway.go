// Package gateway defines the payment gateway contract and normalizes
// provider-specific payment states into a single status set shared by the
// order ledger and the webhook reconciler.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/feldrin/BookstoreGo/internal/domain"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Status is a provider-agnostic payment status.
type Status string

// Normalized payment statuses. Every provider state maps into exactly one
// of these.
const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Event types produced by webhook verification.
const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventPaymentRefunded  = "payment_refunded"
	// EventPaymentUpdated signals a notification that only carries a payment
	// reference; the reconciler must look the payment up to learn its state.
	EventPaymentUpdated = "payment_updated"
	// EventIgnored marks notification types the reconciler does not act on.
	EventIgnored = "ignored"
)

// IntentInput holds the parameters for creating a payment intent.
type IntentInput struct {
	OrderID       string
	Amount        int64
	Currency      string
	CustomerEmail string
	Description   string
}

// Intent is the provider-side payment created for an order. Depending on the
// provider the client completes it with a client secret (Stripe) or by
// visiting a hosted checkout URL (Mercado Pago).
type Intent struct {
	ProviderID   string `json:"provider_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
	Status       Status `json:"status"`
}

// PaymentInfo is the provider's current view of a payment.
type PaymentInfo struct {
	ProviderID string
	Status     Status
	// OrderID is the external reference the payment was created with, when
	// the provider echoes it back.
	OrderID  string
	Amount   int64
	Currency string
}

// RefundResult holds the outcome of a refund call.
type RefundResult struct {
	RefundID string
	Status   Status
}

// Event is a verified, normalized webhook notification.
type Event struct {
	// ID is the provider's unique event identifier, used for idempotency.
	ID   string
	Type string
	// ProviderPaymentID references the payment the event is about.
	ProviderPaymentID string
	// OrderID is present when the provider includes the external reference
	// in the event payload.
	OrderID string
	Raw     json.RawMessage
}

// Gateway is the contract every payment provider implementation satisfies.
// Unreachable providers, timeouts and 5xx responses surface as
// GatewayUnavailable errors, never as a guessed payment outcome.
type Gateway interface {
	// Name returns the provider name ("stripe", "mercado_pago", "mock").
	Name() string

	// CreateIntent registers a payment with the provider for the given
	// amount. It must not be retried automatically.
	CreateIntent(ctx context.Context, input *IntentInput) (*Intent, error)

	// Confirm returns the provider's current status for a payment.
	Confirm(ctx context.Context, providerPaymentID string) (Status, error)

	// GetPayment returns the provider's full view of a payment, including
	// the external order reference when available.
	GetPayment(ctx context.Context, providerPaymentID string) (*PaymentInfo, error)

	// Refund refunds the given amount against a payment. It must not be
	// retried automatically.
	Refund(ctx context.Context, providerPaymentID string, amount int64) (*RefundResult, error)

	// VerifyWebhook authenticates a webhook delivery and normalizes it into
	// an Event. A failed signature check returns a BadSignature error and
	// the payload must be discarded.
	VerifyWebhook(payload []byte, headers http.Header, query url.Values) (*Event, error)
}

// ValidateIntentInput applies the local checks shared by all providers
// before any network call is made.
func ValidateIntentInput(input *IntentInput) error {
	if input.Amount <= 0 {
		return apperrors.InvalidInput("amount must be positive")
	}
	if !domain.IsValidCurrency(input.Currency) {
		return apperrors.InvalidInput("unsupported currency: " + input.Currency)
	}
	return nil
}
