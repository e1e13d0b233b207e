// Package stripe implements the payment gateway contract against the Stripe
// REST API (PaymentIntents and Refunds).
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

const defaultBaseURL = "https://api.stripe.com"

// Doer executes HTTP requests. Do retries idempotent requests; DoOnce is for
// requests that move money and must not be retried.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	DoOnce(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds Stripe credentials.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the Stripe API host, used in tests.
	BaseURL string
}

// Gateway is the Stripe implementation of gateway.Gateway.
type Gateway struct {
	cfg      Config
	client   Doer
	verifier *webhookVerifier
}

// New creates a Stripe gateway.
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
	return domain.PaymentMethodStripe
}

type paymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Metadata     struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
}

type refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent creates a Stripe PaymentIntent for the order total.
func (g *Gateway) CreateIntent(ctx context.Context, input *gateway.IntentInput) (*gateway.Intent, error) {
	if err := gateway.ValidateIntentInput(input); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(input.Amount, 10))
	form.Set("currency", strings.ToLower(input.Currency))
	form.Set("metadata[order_id]", input.OrderID)
	form.Set("automatic_payment_methods[enabled]", "true")
	if input.Description != "" {
		form.Set("description", input.Description)
	}
	if input.CustomerEmail != "" {
		form.Set("receipt_email", input.CustomerEmail)
	}

	var intent paymentIntent
	if err := g.post(ctx, "/v1/payment_intents", form, &intent, true); err != nil {
		return nil, err
	}

	return &gateway.Intent{
		ProviderID:   intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       mapStatus(intent.Status),
	}, nil
}

// Confirm returns the provider's current status for a PaymentIntent.
func (g *Gateway) Confirm(ctx context.Context, providerPaymentID string) (gateway.Status, error) {
	info, err := g.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

// GetPayment retrieves a PaymentIntent.
func (g *Gateway) GetPayment(ctx context.Context, providerPaymentID string) (*gateway.PaymentInfo, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "/v1/payment_intents/"+providerPaymentID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, apperrors.GatewayUnavailable(g.Name(), err)
	}
	defer resp.Body.Close()

	var intent paymentIntent
	if err := g.decode(resp, &intent, providerPaymentID); err != nil {
		return nil, err
	}

	return &gateway.PaymentInfo{
		ProviderID: intent.ID,
		Status:     mapStatus(intent.Status),
		OrderID:    intent.Metadata.OrderID,
		Amount:     intent.Amount,
		Currency:   strings.ToUpper(intent.Currency),
	}, nil
}

// Refund creates a refund against a PaymentIntent. Never retried.
func (g *Gateway) Refund(ctx context.Context, providerPaymentID string, amount int64) (*gateway.RefundResult, error) {
	if amount <= 0 {
		return nil, apperrors.InvalidInput("refund amount must be positive")
	}

	form := url.Values{}
	form.Set("payment_intent", providerPaymentID)
	form.Set("amount", strconv.FormatInt(amount, 10))

	var r refund
	if err := g.post(ctx, "/v1/refunds", form, &r, true); err != nil {
		return nil, err
	}

	status := gateway.StatusRefunded
	if r.Status == "pending" {
		status = gateway.StatusPending
	} else if r.Status == "failed" {
		status = gateway.StatusFailed
	}

	return &gateway.RefundResult{RefundID: r.ID, Status: status}, nil
}

// VerifyWebhook authenticates a Stripe webhook delivery and normalizes it.
func (g *Gateway) VerifyWebhook(payload []byte, headers http.Header, _ url.Values) (*gateway.Event, error) {
	if err := g.verifier.verify(payload, headers.Get("Stripe-Signature")); err != nil {
		return nil, err
	}

	var evt struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				Object        string `json:"object"`
				PaymentIntent string `json:"payment_intent"`
				Metadata      struct {
					OrderID string `json:"order_id"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, apperrors.InvalidInput("malformed stripe event payload")
	}

	// Checkout sessions and charges reference the intent indirectly.
	paymentID := evt.Data.Object.ID
	if evt.Data.Object.PaymentIntent != "" {
		paymentID = evt.Data.Object.PaymentIntent
	}

	eventType := gateway.EventIgnored
	switch evt.Type {
	case "payment_intent.succeeded", "checkout.session.completed":
		eventType = gateway.EventPaymentSucceeded
	case "payment_intent.payment_failed":
		eventType = gateway.EventPaymentFailed
	case "charge.refunded":
		eventType = gateway.EventPaymentRefunded
	}

	return &gateway.Event{
		ID:                evt.ID,
		Type:              eventType,
		ProviderPaymentID: paymentID,
		OrderID:           evt.Data.Object.Metadata.OrderID,
		Raw:               payload,
	}, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body *url.Values) (*http.Request, error) {
	var reader *strings.Reader
	if body != nil {
		reader = strings.NewReader(body.Encode())
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// post sends a form-encoded POST. once requests bypass retries.
func (g *Gateway) post(ctx context.Context, path string, form url.Values, out any, once bool) error {
	req, err := g.newRequest(ctx, http.MethodPost, path, &form)
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

// decode maps Stripe responses into results or AppErrors.
func (g *Gateway) decode(resp *http.Response, out any, lookupID string) error {
	switch {
	case resp.StatusCode >= 500:
		return apperrors.GatewayUnavailable(g.Name(), fmt.Errorf("stripe returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("payment", lookupID)
	case resp.StatusCode >= 400:
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return apperrors.PaymentFailed("stripe: " + apiErr.Error.Message)
		}
		return apperrors.PaymentFailed(fmt.Sprintf("stripe returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

// mapStatus normalizes Stripe PaymentIntent statuses.
func mapStatus(s string) gateway.Status {
	switch s {
	case "succeeded":
		return gateway.StatusSucceeded
	case "canceled":
		return gateway.StatusFailed
	default:
		// requires_payment_method, requires_confirmation, requires_action,
		// requires_capture, processing.
		return gateway.StatusPending
	}
}
