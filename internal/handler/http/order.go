package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/feldrin/BookstoreGo/internal/repository"
	"github.com/feldrin/BookstoreGo/internal/service"
	"github.com/feldrin/BookstoreGo/pkg/httputil"
	"github.com/feldrin/BookstoreGo/pkg/validator"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orders    *service.OrderService
	downloads *service.DownloadService
	logger    *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(orders *service.OrderService, downloads *service.DownloadService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		downloads: downloads,
		logger:    logger,
	}
}

// --- Request DTOs ---

// CheckoutRequest is the JSON request body for checking out a cart.
type CheckoutRequest struct {
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	CustomerName  string `json:"customer_name" validate:"max=200"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=stripe mercado_pago"`
	Currency      string `json:"currency" validate:"required,len=3"`
}

// MarkPaidRequest is the JSON request body for manually reconciling an order.
// The provider reference is optional; when absent the one recorded at
// checkout is used.
type MarkPaidRequest struct {
	StripePaymentIntentID string `json:"stripe_payment_intent_id"`
	MercadoPagoPaymentID  string `json:"mercado_pago_payment_id"`
}

// --- Handlers ---

// Checkout handles POST /api/v1/orders/{userID}/checkout
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.orders.Checkout(r.Context(), userID.String(), service.CheckoutInput{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		PaymentMethod: req.PaymentMethod,
		Currency:      req.Currency,
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := repository.OrderFilter{
		Page:    1,
		PerPage: 20,
	}

	if v := r.URL.Query().Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "page must be a valid positive integer"},
			})
			return
		}
		filter.Page = page
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 || perPage > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "per_page must be a valid integer between 1 and 100"},
			})
			return
		}
		filter.PerPage = perPage
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, filter.Page, filter.PerPage))
}

// MarkPaid handles PATCH /api/v1/orders/{id}/mark_paid. It is the manual
// reconciliation path for support: the payment is re-confirmed with the
// provider before the order moves.
func (h *OrderHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req MarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty body means "use the recorded provider reference".
		req = MarkPaidRequest{}
	}

	order, err := h.orders.MarkPaid(r.Context(), id.String(), repository.ProviderRefs{
		StripePaymentIntentID: req.StripePaymentIntentID,
		MercadoPagoPaymentID:  req.MercadoPagoPaymentID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListDownloads handles GET /api/v1/orders/{id}/downloads
func (h *OrderHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	// 404 for unknown orders rather than an empty list.
	if _, err := h.orders.GetOrder(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	links, err := h.downloads.ListByOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: links})
}
