package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// scriptedGW is a gateway whose webhook verification outcome is fixed up
// front, so handler tests can drive each reconciliation path.
type scriptedGW struct {
	event     *gateway.Event
	verifyErr error
}

func (g *scriptedGW) Name() string { return "stripe" }

func (g *scriptedGW) CreateIntent(_ context.Context, input *gateway.IntentInput) (*gateway.Intent, error) {
	if err := gateway.ValidateIntentInput(input); err != nil {
		return nil, err
	}
	return &gateway.Intent{ProviderID: "pi_123", Status: gateway.StatusSucceeded}, nil
}

func (g *scriptedGW) Confirm(context.Context, string) (gateway.Status, error) {
	return gateway.StatusSucceeded, nil
}

func (g *scriptedGW) GetPayment(_ context.Context, id string) (*gateway.PaymentInfo, error) {
	return &gateway.PaymentInfo{ProviderID: id, Status: gateway.StatusSucceeded}, nil
}

func (g *scriptedGW) Refund(_ context.Context, id string, amount int64) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{RefundID: "re_123", Status: gateway.StatusRefunded}, nil
}

func (g *scriptedGW) VerifyWebhook([]byte, http.Header, url.Values) (*gateway.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

func postWebhook(t *testing.T, env *handlerEnv, provider string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(`{"type":"test"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_PaymentSucceeded(t *testing.T) {
	gw := &scriptedGW{}
	env := newHandlerEnv(t, gw)
	orderID := env.checkout(t)
	gw.event = &gateway.Event{
		ID:                "evt_1",
		Type:              gateway.EventPaymentSucceeded,
		ProviderPaymentID: "pi_123",
		OrderID:           orderID,
	}

	rec := postWebhook(t, env, "stripe")

	require.Equal(t, http.StatusOK, rec.Code)
	var ack map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ack))
	assert.Equal(t, "ok", ack["status"])
	assert.Equal(t, gateway.EventPaymentSucceeded, ack["event_type"])

	order, err := env.orders.GetByID(t.Context(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestWebhook_BadSignature(t *testing.T) {
	gw := &scriptedGW{verifyErr: apperrors.BadSignature("stripe")}
	env := newHandlerEnv(t, gw)
	orderID := env.checkout(t)

	rec := postWebhook(t, env, "stripe")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_SIGNATURE", resp.Error.Code)

	order, err := env.orders.GetByID(t.Context(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestWebhook_UnknownProvider(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{event: &gateway.Event{Type: gateway.EventIgnored}})

	rec := postWebhook(t, env, "paypal")

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestWebhook_UnconfiguredProvider(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{event: &gateway.Event{Type: gateway.EventIgnored}})

	rec := postWebhook(t, env, "mercadopago")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	gw := &scriptedGW{event: &gateway.Event{ID: "evt_2", Type: gateway.EventIgnored}}
	env := newHandlerEnv(t, gw)

	rec := postWebhook(t, env, "stripe")

	require.Equal(t, http.StatusOK, rec.Code)
	var ack map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ack))
	assert.Equal(t, "ok", ack["status"])
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	gw := &scriptedGW{}
	env := newHandlerEnv(t, gw)
	orderID := env.checkout(t)
	gw.event = &gateway.Event{
		ID:                "evt_3",
		Type:              gateway.EventPaymentSucceeded,
		ProviderPaymentID: "pi_123",
		OrderID:           orderID,
	}

	rec := postWebhook(t, env, "stripe")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(t, env, "stripe")
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := env.orders.GetByID(t.Context(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestWebhook_UnmatchedEventAcked(t *testing.T) {
	gw := &scriptedGW{event: &gateway.Event{
		ID:                "evt_4",
		Type:              gateway.EventPaymentSucceeded,
		ProviderPaymentID: "pi_missing",
	}}
	env := newHandlerEnv(t, gw)

	rec := postWebhook(t, env, "stripe")

	assert.Equal(t, http.StatusOK, rec.Code)
}
