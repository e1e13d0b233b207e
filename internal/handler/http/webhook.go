package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/service"
	"github.com/feldrin/BookstoreGo/pkg/httputil"
)

// WebhookHandler receives payment provider webhook deliveries.
type WebhookHandler struct {
	service *service.WebhookService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook HTTP handler.
func NewWebhookHandler(svc *service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: svc,
		logger:  logger,
	}
}

// webhookAck is the acknowledgement body providers expect. It is
// intentionally not wrapped in the API envelope.
type webhookAck struct {
	Status    string `json:"status"`
	EventType string `json:"event_type,omitempty"`
}

// Receive handles POST /webhooks/{provider}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	method, ok := paymentMethodForProvider(chi.URLParam(r, "provider"))
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "unknown webhook provider"},
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "failed to read request body"},
		})
		return
	}

	result, err := h.service.Process(r.Context(), method, payload, r.Header, r.URL.Query())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(webhookAck{Status: "ok", EventType: result.EventType})
}

// paymentMethodForProvider maps the webhook path segment to a payment
// method. Both the compact and the canonical spelling of mercado_pago are
// accepted since provider dashboards are configured by hand.
func paymentMethodForProvider(provider string) (string, bool) {
	switch provider {
	case "stripe":
		return domain.PaymentMethodStripe, true
	case "mercadopago", "mercado_pago":
		return domain.PaymentMethodMercadoPago, true
	}
	return "", false
}
