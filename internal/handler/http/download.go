package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/feldrin/BookstoreGo/internal/service"
	"github.com/feldrin/BookstoreGo/pkg/httputil"
)

// DownloadHandler handles HTTP requests for download link endpoints.
type DownloadHandler struct {
	service *service.DownloadService
	logger  *slog.Logger
}

// NewDownloadHandler creates a new download HTTP handler.
func NewDownloadHandler(svc *service.DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		service: svc,
		logger:  logger,
	}
}

// Get handles GET /downloads/{token}
func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: view})
}

// Track handles POST /downloads/{token}/track. A successful response counts
// one redemption against the link.
func (h *DownloadHandler) Track(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Track(r.Context(), chi.URLParam(r, "token"), clientIP(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: view})
}
