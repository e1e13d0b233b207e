// Package mock provides a payment gateway that always succeeds. It is
// intended for development and testing purposes.
package mock

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/feldrin/BookstoreGo/internal/gateway"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// Gateway is a mock payment gateway. Created intents start as succeeded so
// checkout flows can be exercised end to end without a provider account.
type Gateway struct {
	mu       sync.Mutex
	payments map[string]*gateway.PaymentInfo
}

// New creates a new mock gateway.
func New() *Gateway {
	return &Gateway{payments: make(map[string]*gateway.PaymentInfo)}
}

// Name returns the provider name.
func (g *Gateway) Name() string {
	return "mock"
}

// CreateIntent simulates a payment that immediately succeeds.
func (g *Gateway) CreateIntent(_ context.Context, input *gateway.IntentInput) (*gateway.Intent, error) {
	if err := gateway.ValidateIntentInput(input); err != nil {
		return nil, err
	}

	id := "mock_pay_" + uuid.New().String()

	g.mu.Lock()
	g.payments[id] = &gateway.PaymentInfo{
		ProviderID: id,
		Status:     gateway.StatusSucceeded,
		OrderID:    input.OrderID,
		Amount:     input.Amount,
		Currency:   input.Currency,
	}
	g.mu.Unlock()

	return &gateway.Intent{
		ProviderID:   id,
		ClientSecret: "mock_secret_" + uuid.New().String(),
		Status:       gateway.StatusSucceeded,
	}, nil
}

// Confirm returns the recorded status for a payment.
func (g *Gateway) Confirm(ctx context.Context, providerPaymentID string) (gateway.Status, error) {
	info, err := g.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// GetPayment returns the recorded payment.
func (g *Gateway) GetPayment(_ context.Context, providerPaymentID string) (*gateway.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	info, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, apperrors.NotFound("payment", providerPaymentID)
	}
	cp := *info
	return &cp, nil
}

// Refund simulates a refund that always succeeds.
func (g *Gateway) Refund(_ context.Context, providerPaymentID string, amount int64) (*gateway.RefundResult, error) {
	if amount <= 0 {
		return nil, apperrors.InvalidInput("refund amount must be positive")
	}

	g.mu.Lock()
	if info, ok := g.payments[providerPaymentID]; ok {
		info.Status = gateway.StatusRefunded
	}
	g.mu.Unlock()

	return &gateway.RefundResult{
		RefundID: "mock_ref_" + uuid.New().String(),
		Status:   gateway.StatusRefunded,
	}, nil
}

// VerifyWebhook accepts any payload and echoes it back as an ignored event.
func (g *Gateway) VerifyWebhook(payload []byte, _ http.Header, _ url.Values) (*gateway.Event, error) {
	return &gateway.Event{
		ID:   "mock_evt_" + uuid.New().String(),
		Type: gateway.EventIgnored,
		Raw:  payload,
	}, nil
}
