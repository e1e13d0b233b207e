package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feldrin/BookstoreGo/internal/service"
	"github.com/feldrin/BookstoreGo/pkg/health"
	"github.com/feldrin/BookstoreGo/pkg/middleware"
)

// Services bundles the service layer the router exposes.
type Services struct {
	Cart     *service.CartService
	Orders   *service.OrderService
	Webhooks *service.WebhookService
	Download *service.DownloadService
	Refunds  *service.RefundService
}

// NewRouter creates a chi router with all commerce routes registered.
func NewRouter(
	services Services,
	checker *health.Checker,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("commerce"))
	r.Use(middleware.Tracing("commerce"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	cartHandler := NewCartHandler(services.Cart, logger)
	orderHandler := NewOrderHandler(services.Orders, services.Download, logger)
	webhookHandler := NewWebhookHandler(services.Webhooks, logger)
	downloadHandler := NewDownloadHandler(services.Download, logger)
	refundHandler := NewRefundHandler(services.Refunds, logger)

	// Provider webhooks carry their own authentication (signatures) and
	// content types, so they stay outside the JSON API group.
	r.Post("/webhooks/{provider}", webhookHandler.Receive)

	// Download links are shared in emails; tokens are the credential.
	r.Get("/downloads/{token}", downloadHandler.Get)
	r.Post("/downloads/{token}/track", downloadHandler.Track)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/cart/{userID}", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Patch("/items/{productID}", cartHandler.UpdateItem)
			r.Delete("/items/{productID}", cartHandler.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orderHandler.ListOrders)
			r.Post("/{userID}/checkout", orderHandler.Checkout)
			r.Get("/{id}", orderHandler.GetOrder)
			r.Get("/{id}/downloads", orderHandler.ListDownloads)
			r.Patch("/{id}/mark_paid", orderHandler.MarkPaid)
		})

		r.Route("/refund-requests", func(r chi.Router) {
			r.Post("/", refundHandler.Submit)
			r.Get("/", refundHandler.List)
			r.Get("/{id}", refundHandler.Get)
			r.Patch("/{id}/process", refundHandler.Process)
		})
	})

	return r
}
