// Package mercadopago implements the payment gateway contract against the
// Mercado Pago REST API (Checkout Pro preferences, payments and refunds).
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Doer executes HTTP requests. DoOnce is for requests that move money and
// must not be retried.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	DoOnce(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds Mercado Pago credentials.
type Config struct {
	AccessToken   string
	WebhookSecret string
	// NotificationURL is where Mercado Pago posts payment notifications.
	NotificationURL string
	// BaseURL overrides the API host, used in tests.
	BaseURL string
}

// Gateway is the Mercado Pago implementation of gateway.Gateway.
type Gateway struct {
	cfg      Config
	client   Doer
	verifier *webhookVerifier
}

// New creates a Mercado Pago gateway.
func New(cfg Config, client Doer) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Gateway{
		cfg:      cfg,
		client:   client,
		verifier: newWebhookVerifier(cfg.WebhookSecret),
	}
}

// Name returns the provider name.
func (g *Gateway) Name() string {
	return domain.PaymentMethodMercadoPago
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	AutoReturn        string           `json:"auto_return"`
	NotificationURL   string           `json:"notification_url,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type payment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount float64     `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
}

type refundResponse struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

type apiError struct {
	Message string `json:"message"`
}

// CreateIntent creates a Checkout Pro preference. The customer completes
// payment at the returned checkout URL; the actual payment ID arrives later
// through the notification webhook.
func (g *Gateway) CreateIntent(ctx context.Context, input *gateway.IntentInput) (*gateway.Intent, error) {
	if err := gateway.ValidateIntentInput(input); err != nil {
		return nil, err
	}

	title := input.Description
	if title == "" {
		title = "Order " + input.OrderID
	}

	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      title,
			Quantity:   1,
			UnitPrice:  float64(input.Amount) / 100,
			CurrencyID: input.Currency,
		}},
		ExternalReference: input.OrderID,
		AutoReturn:        "approved",
		NotificationURL:   g.cfg.NotificationURL,
	}

	var pref preferenceResponse
	if err := g.postJSON(ctx, "/checkout/preferences", body, &pref, true); err != nil {
		return nil, err
	}

	checkoutURL := pref.InitPoint
	if checkoutURL == "" {
		checkoutURL = pref.SandboxInitPoint
	}

	return &gateway.Intent{
		ProviderID:  pref.ID,
		CheckoutURL: checkoutURL,
		Status:      gateway.StatusPending,
	}, nil
}

// Confirm returns the provider's current status for a payment.
func (g *Gateway) Confirm(ctx context.Context, providerPaymentID string) (gateway.Status, error) {
	info, err := g.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// GetPayment retrieves a payment, including the external order reference.
func (g *Gateway) GetPayment(ctx context.Context, providerPaymentID string) (*gateway.PaymentInfo, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "/v1/payments/"+providerPaymentID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, apperrors.GatewayUnavailable(g.Name(), err)
	}
	defer resp.Body.Close()

	var p payment
	if err := g.decode(resp, &p, providerPaymentID); err != nil {
		return nil, err
	}

	return &gateway.PaymentInfo{
		ProviderID: p.ID.String(),
		Status:     mapStatus(p.Status),
		OrderID:    p.ExternalReference,
		Amount:     int64(p.TransactionAmount*100 + 0.5),
		Currency:   p.CurrencyID,
	}, nil
}

// Refund refunds the given amount against a payment. Never retried.
func (g *Gateway) Refund(ctx context.Context, providerPaymentID string, amount int64) (*gateway.RefundResult, error) {
	if amount <= 0 {
		return nil, apperrors.InvalidInput("refund amount must be positive")
	}

	body := map[string]float64{"amount": float64(amount) / 100}

	var r refundResponse
	if err := g.postJSON(ctx, "/v1/payments/"+providerPaymentID+"/refunds", body, &r, true); err != nil {
		return nil, err
	}

	status := gateway.StatusRefunded
	if r.Status != "approved" && r.Status != "refunded" {
		status = gateway.StatusPending
	}

	return &gateway.RefundResult{RefundID: r.ID.String(), Status: status}, nil
}

// VerifyWebhook authenticates a Mercado Pago notification. The payload only
// names a payment; the reconciler resolves its state with GetPayment.
func (g *Gateway) VerifyWebhook(payload []byte, headers http.Header, query url.Values) (*gateway.Event, error) {
	var note struct {
		Action string `json:"action"`
		Type   string `json:"type"`
		Data   struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, apperrors.InvalidInput("malformed mercado pago notification")
	}

	dataID := query.Get("data.id")
	if dataID == "" {
		dataID = note.Data.ID
	}

	if err := g.verifier.verify(headers.Get("x-signature"), headers.Get("x-request-id"), dataID); err != nil {
		return nil, err
	}

	eventType := gateway.EventIgnored
	if note.Type == "payment" && dataID != "" {
		eventType = gateway.EventPaymentUpdated
	}

	eventID := headers.Get("x-request-id")
	if eventID == "" {
		eventID = note.Action + ":" + dataID
	}

	return &gateway.Event{
		ID:                eventID,
		Type:              eventType,
		ProviderPaymentID: dataID,
		Raw:               payload,
	}, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create mercado pago request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (g *Gateway) postJSON(ctx context.Context, path string, body any, out any, once bool) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal mercado pago request: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPost, path, raw)
	if err != nil {
		return err
	}

	do := g.client.Do
	if once {
		do = g.client.DoOnce
	}

	resp, err := do(ctx, req)
	if err != nil {
		return apperrors.GatewayUnavailable(g.Name(), err)
	}
	defer resp.Body.Close()

	return g.decode(resp, out, "")
}

func (g *Gateway) decode(resp *http.Response, out any, lookupID string) error {
	switch {
	case resp.StatusCode >= 500:
		return apperrors.GatewayUnavailable(g.Name(), fmt.Errorf("mercado pago returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("payment", lookupID)
	case resp.StatusCode >= 400:
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return apperrors.PaymentFailed("mercado pago: " + apiErr.Message)
		}
		return apperrors.PaymentFailed(fmt.Sprintf("mercado pago returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode mercado pago response: %w", err)
	}
	return nil
}

// mapStatus normalizes Mercado Pago payment statuses.
func mapStatus(s string) gateway.Status {
	switch strings.ToLower(s) {
	case "approved":
		return gateway.StatusSucceeded
	case "rejected", "cancelled":
		return gateway.StatusFailed
	case "refunded", "charged_back":
		return gateway.StatusRefunded
	default:
		// pending, in_process, in_mediation, authorized.
		return gateway.StatusPending
	}
}
