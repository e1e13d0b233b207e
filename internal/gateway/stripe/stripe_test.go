package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldrin/BookstoreGo/internal/gateway"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

const testSecret = "whsec_test"

// stubDoer returns a canned response and records which path was used.
type stubDoer struct {
	status   int
	body     string
	err      error
	lastReq  *http.Request
	usedOnce bool
}

func (d *stubDoer) Do(_ context.Context, req *http.Request) (*http.Response, error) {
	d.lastReq = req
	return d.resp()
}

func (d *stubDoer) DoOnce(_ context.Context, req *http.Request) (*http.Response, error) {
	d.usedOnce = true
	d.lastReq = req
	return d.resp()
}

func (d *stubDoer) resp() (*http.Response, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: d.status,
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Header:     http.Header{},
	}, nil
}

func newTestGateway(doer *stubDoer) *Gateway {
	return New(Config{SecretKey: "sk_test", WebhookSecret: testSecret}, doer)
}

// sign builds a Stripe-Signature header for the payload.
func sign(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func signedHeaders(secret string, payload []byte) http.Header {
	h := http.Header{}
	h.Set("Stripe-Signature", sign(secret, time.Now().Unix(), payload))
	return h
}

func TestVerifyWebhook_PaymentIntentSucceeded(t *testing.T) {
	g := newTestGateway(&stubDoer{})
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_123", "object": "payment_intent", "metadata": {"order_id": "order-1"}}}
	}`)

	evt, err := g.VerifyWebhook(payload, signedHeaders(testSecret, payload), nil)

	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, gateway.EventPaymentSucceeded, evt.Type)
	assert.Equal(t, "pi_123", evt.ProviderPaymentID)
	assert.Equal(t, "order-1", evt.OrderID)
}

func TestVerifyWebhook_CheckoutSessionReferencesIntent(t *testing.T) {
	g := newTestGateway(&stubDoer{})
	payload := []byte(`{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_99", "object": "checkout.session", "payment_intent": "pi_456", "metadata": {}}}
	}`)

	evt, err := g.VerifyWebhook(payload, signedHeaders(testSecret, payload), nil)

	require.NoError(t, err)
	assert.Equal(t, gateway.EventPaymentSucceeded, evt.Type)
	assert.Equal(t, "pi_456", evt.ProviderPaymentID)
}

func TestVerifyWebhook_UnhandledTypeIgnored(t *testing.T) {
	g := newTestGateway(&stubDoer{})
	payload := []byte(`{"id": "evt_3", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	evt, err := g.VerifyWebhook(payload, signedHeaders(testSecret, payload), nil)

	require.NoError(t, err)
	assert.Equal(t, gateway.EventIgnored, evt.Type)
}

func TestVerifyWebhook_WrongSecret(t *testing.T) {
	g := newTestGateway(&stubDoer{})
	payload := []byte(`{"id": "evt_4", "type": "payment_intent.succeeded"}`)

	_, err := g.VerifyWebhook(payload, signedHeaders("whsec_other", payload), nil)

	assert.True(t, errors.Is(err, apperrors.ErrBadSignature))
}

func TestVerifyWebhook_MissingHeader(t *testing.T) {
	g := newTestGateway(&stubDoer{})

	_, err := g.VerifyWebhook([]byte(`{}`), http.Header{}, nil)

	assert.True(t, errors.Is(err, apperrors.ErrBadSignature))
}

func TestVerifyWebhook_TamperedPayload(t *testing.T) {
	g := newTestGateway(&stubDoer{})
	payload := []byte(`{"id": "evt_5", "type": "payment_intent.succeeded"}`)
	headers := signedHeaders(testSecret, payload)

	_, err := g.VerifyWebhook([]byte(`{"id": "evt_5", "type": "charge.refunded"}`), headers, nil)

	assert.True(t, errors.Is(err, apperrors.ErrBadSignature))
}

func TestVerifyWebhook_StaleTimestamp(t *testing.T) {
	g := newTestGateway(&stubDoer{})
	g.verifier.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	payload := []byte(`{"id": "evt_6", "type": "payment_intent.succeeded"}`)

	_, err := g.VerifyWebhook(payload, signedHeaders(testSecret, payload), nil)

	assert.True(t, errors.Is(err, apperrors.ErrBadSignature))
}

func TestVerifyWebhook_NoSecretConfigured(t *testing.T) {
	g := New(Config{SecretKey: "sk_test"}, &stubDoer{})
	payload := []byte(`{}`)

	_, err := g.VerifyWebhook(payload, signedHeaders(testSecret, payload), nil)

	assert.True(t, errors.Is(err, apperrors.ErrGatewayUnavail))
}

func TestCreateIntent_PostsFormAndSkipsRetries(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{
		"id": "pi_123", "client_secret": "pi_123_secret", "status": "requires_payment_method"
	}`}
	g := newTestGateway(doer)

	intent, err := g.CreateIntent(context.Background(), &gateway.IntentInput{
		OrderID:  "order-1",
		Amount:   2750,
		Currency: "USD",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ProviderID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, gateway.StatusPending, intent.Status)

	assert.True(t, doer.usedOnce)
	require.NotNil(t, doer.lastReq)
	assert.Equal(t, "/v1/payment_intents", doer.lastReq.URL.Path)
	assert.Equal(t, "Bearer sk_test", doer.lastReq.Header.Get("Authorization"))
}

func TestCreateIntent_InvalidAmount(t *testing.T) {
	g := newTestGateway(&stubDoer{})

	_, err := g.CreateIntent(context.Background(), &gateway.IntentInput{
		OrderID:  "order-1",
		Amount:   0,
		Currency: "USD",
	})

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestCreateIntent_ServerErrorIsUnavailable(t *testing.T) {
	g := newTestGateway(&stubDoer{status: http.StatusBadGateway, body: "{}"})

	_, err := g.CreateIntent(context.Background(), &gateway.IntentInput{
		OrderID:  "order-1",
		Amount:   2750,
		Currency: "USD",
	})

	assert.True(t, errors.Is(err, apperrors.ErrGatewayUnavail))
}

func TestCreateIntent_CardErrorIsPaymentFailed(t *testing.T) {
	g := newTestGateway(&stubDoer{status: http.StatusPaymentRequired, body: `{
		"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."}
	}`})

	_, err := g.CreateIntent(context.Background(), &gateway.IntentInput{
		OrderID:  "order-1",
		Amount:   2750,
		Currency: "USD",
	})

	require.True(t, errors.Is(err, apperrors.ErrPaymentFailed))
	assert.Contains(t, err.Error(), "declined")
}

func TestGetPayment_MapsIntent(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{
		"id": "pi_123", "status": "succeeded", "amount": 2750, "currency": "usd",
		"metadata": {"order_id": "order-1"}
	}`}
	g := newTestGateway(doer)

	info, err := g.GetPayment(context.Background(), "pi_123")

	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSucceeded, info.Status)
	assert.Equal(t, "order-1", info.OrderID)
	assert.Equal(t, int64(2750), info.Amount)
	assert.Equal(t, "USD", info.Currency)
	assert.False(t, doer.usedOnce)
}

func TestGetPayment_NotFound(t *testing.T) {
	g := newTestGateway(&stubDoer{status: http.StatusNotFound, body: "{}"})

	_, err := g.GetPayment(context.Background(), "pi_missing")

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestGetPayment_TransportErrorIsUnavailable(t *testing.T) {
	g := newTestGateway(&stubDoer{err: errors.New("connection refused")})

	_, err := g.GetPayment(context.Background(), "pi_123")

	assert.True(t, errors.Is(err, apperrors.ErrGatewayUnavail))
}

func TestRefund_PostsOnce(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{"id": "re_1", "status": "succeeded"}`}
	g := newTestGateway(doer)

	result, err := g.Refund(context.Background(), "pi_123", 2750)

	require.NoError(t, err)
	assert.Equal(t, "re_1", result.RefundID)
	assert.Equal(t, gateway.StatusRefunded, result.Status)
	assert.True(t, doer.usedOnce)
	assert.Equal(t, "/v1/refunds", doer.lastReq.URL.Path)
}

func TestRefund_RejectsNonPositiveAmount(t *testing.T) {
	g := newTestGateway(&stubDoer{})

	_, err := g.Refund(context.Background(), "pi_123", 0)

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, gateway.StatusSucceeded, mapStatus("succeeded"))
	assert.Equal(t, gateway.StatusFailed, mapStatus("canceled"))
	assert.Equal(t, gateway.StatusPending, mapStatus("processing"))
	assert.Equal(t, gateway.StatusPending, mapStatus("requires_action"))
}
