package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/service"
)

// paidOrder checks out and pays an order for the env user.
func paidOrder(t *testing.T, env *handlerEnv) string {
	t.Helper()
	orderID := env.checkout(t)
	rec := env.do(t, http.MethodPatch, "/api/v1/orders/"+orderID+"/mark_paid", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return orderID
}

func (e *handlerEnv) submitRefund(t *testing.T, orderID string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/refund-requests", service.SubmitRefundInput{
		OrderID: orderID,
		Reason:  "the book was not what I expected",
	}, map[string]string{"X-User-ID": e.userID})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	return resp.Data.(map[string]any)["id"].(string)
}

func TestSubmitRefund_Created(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/refund-requests", service.SubmitRefundInput{
		OrderID: orderID,
		Reason:  "the book was not what I expected",
	}, map[string]string{"X-User-ID": env.userID})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	data := resp.Data.(map[string]any)
	assert.Equal(t, orderID, data["order_id"])
	assert.Equal(t, domain.RefundStatusPending, data["status"])
}

func TestSubmitRefund_RequiresCaller(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/refund-requests", service.SubmitRefundInput{
		OrderID: orderID,
		Reason:  "the book was not what I expected",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestSubmitRefund_ReasonTooShort(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/refund-requests", service.SubmitRefundInput{
		OrderID: orderID,
		Reason:  "meh",
	}, map[string]string{"X-User-ID": env.userID})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestSubmitRefund_OrderNotPaid(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := env.checkout(t)

	rec := env.do(t, http.MethodPost, "/api/v1/refund-requests", service.SubmitRefundInput{
		OrderID: orderID,
		Reason:  "the book was not what I expected",
	}, map[string]string{"X-User-ID": env.userID})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessRefund_Approve(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)
	refundID := env.submitRefund(t, orderID)

	rec := env.do(t, http.MethodPatch, "/api/v1/refund-requests/"+refundID+"/process", service.ProcessRefundInput{
		Action: service.RefundActionApprove,
		Notes:  "verified with support",
	}, map[string]string{"X-User-ID": env.adminID})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	assert.Equal(t, domain.RefundStatusApproved, resp.Data.(map[string]any)["status"])

	order, err := env.orders.GetByID(t.Context(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
}

func TestProcessRefund_Deny(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)
	refundID := env.submitRefund(t, orderID)

	rec := env.do(t, http.MethodPatch, "/api/v1/refund-requests/"+refundID+"/process", service.ProcessRefundInput{
		Action: service.RefundActionDeny,
		Notes:  "outside the refund window",
	}, map[string]string{"X-User-ID": env.adminID})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, domain.RefundStatusDenied, resp.Data.(map[string]any)["status"])

	order, err := env.orders.GetByID(t.Context(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestProcessRefund_NonAdminForbidden(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)
	refundID := env.submitRefund(t, orderID)

	rec := env.do(t, http.MethodPatch, "/api/v1/refund-requests/"+refundID+"/process", service.ProcessRefundInput{
		Action: service.RefundActionApprove,
	}, map[string]string{"X-User-ID": env.userID})

	require.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestProcessRefund_AlreadyProcessed(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)
	refundID := env.submitRefund(t, orderID)

	input := service.ProcessRefundInput{Action: service.RefundActionDeny}
	headers := map[string]string{"X-User-ID": env.adminID}

	rec := env.do(t, http.MethodPatch, "/api/v1/refund-requests/"+refundID+"/process", input, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/refund-requests/"+refundID+"/process", input, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRefund_ReturnsRequest(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)
	refundID := env.submitRefund(t, orderID)

	rec := env.do(t, http.MethodGet, "/api/v1/refund-requests/"+refundID, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, refundID, resp.Data.(map[string]any)["id"])
}

func TestListRefunds_FiltersByOrder(t *testing.T) {
	env := newHandlerEnv(t, &scriptedGW{})
	orderID := paidOrder(t, env)
	env.submitRefund(t, orderID)

	rec := env.do(t, http.MethodGet, "/api/v1/refund-requests?order_id="+orderID, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
}
