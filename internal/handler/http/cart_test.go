package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldrin/BookstoreGo/internal/catalog"
	"github.com/feldrin/BookstoreGo/internal/directory"
	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/event"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	gwmock "github.com/feldrin/BookstoreGo/internal/gateway/mock"
	"github.com/feldrin/BookstoreGo/internal/repository/memory"
	"github.com/feldrin/BookstoreGo/internal/service"
	"github.com/feldrin/BookstoreGo/internal/storage"
	"github.com/feldrin/BookstoreGo/pkg/health"
	"github.com/feldrin/BookstoreGo/pkg/httputil"
)

// --- Test Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// handlerEnv wires the full stack over in-memory repositories and the mock
// payment gateway, routed exactly like production.
type handlerEnv struct {
	router    http.Handler
	carts     *memory.CartRepository
	orders    *memory.OrderRepository
	downloads *memory.DownloadRepository
	refunds   *memory.RefundRepository

	userID      string
	adminID     string
	prodGo      string
	prodSQL     string
	prodRetired string
}

func newHandlerEnv(t *testing.T, gw gateway.Gateway) *handlerEnv {
	t.Helper()

	env := &handlerEnv{
		carts:       memory.NewCartRepository(),
		orders:      memory.NewOrderRepository(),
		downloads:   memory.NewDownloadRepository(),
		userID:      uuid.New().String(),
		adminID:     uuid.New().String(),
		prodGo:      uuid.New().String(),
		prodSQL:     uuid.New().String(),
		prodRetired: uuid.New().String(),
	}
	env.refunds = memory.NewRefundRepository(env.orders)

	cat := catalog.NewMemoryCatalog()
	cat.Put(&catalog.Product{
		ID: env.prodGo, Name: "Practical Go", Slug: "practical-go",
		PriceUSD: 1000, PriceBRL: 6000, FileKey: "books/practical-go.epub", IsActive: true,
	})
	cat.Put(&catalog.Product{
		ID: env.prodSQL, Name: "SQL Performance", Slug: "sql-performance",
		PriceUSD: 1750, PriceBRL: 9500, FileKey: "books/sql-performance.epub", IsActive: true,
	})
	cat.Put(&catalog.Product{
		ID: env.prodRetired, Name: "Legacy Handbook", Slug: "legacy-handbook",
		PriceUSD: 500, PriceBRL: 2500, IsActive: false,
	})

	dir := directory.NewMemoryDirectory()
	dir.Put(&directory.Profile{ID: env.userID, Email: "reader@example.com", Role: directory.RoleCustomer})
	dir.Put(&directory.Profile{ID: env.adminID, Email: "admin@example.com", Role: directory.RoleAdmin})

	logger := testLogger()
	resolver := gateway.NewResolver(map[string]gateway.Gateway{
		domain.PaymentMethodStripe: gw,
	})
	locks := service.NewOrderLocks()
	publisher := event.NopPublisher{}

	downloadSvc := service.NewDownloadService(
		env.downloads,
		storage.NewBaseURLResolver("https://files.example.com"),
		publisher,
		logger,
		service.DefaultMaxDownloads,
		service.DefaultLinkValidity,
	)
	cartSvc := service.NewCartService(env.carts, cat, logger, 7*24*time.Hour)
	orderSvc := service.NewOrderService(env.orders, env.carts, cat, resolver, downloadSvc, publisher, locks, logger)
	webhookSvc := service.NewWebhookService(resolver, env.orders, memory.NewWebhookEventRepository(), orderSvc, logger)
	refundSvc := service.NewRefundService(env.refunds, env.orders, resolver, dir, publisher, locks, logger)

	env.router = NewRouter(Services{
		Cart:     cartSvc,
		Orders:   orderSvc,
		Webhooks: webhookSvc,
		Download: downloadSvc,
		Refunds:  refundSvc,
	}, health.NewChecker(time.Second), logger, nil)

	return env
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decodeResponse reads the response body into the httputil.Response struct.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// seedCart puts a cart for the env user directly into the repository.
func (e *handlerEnv) seedCart(t *testing.T, items ...domain.CartItem) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.carts.Save(context.Background(), &domain.Cart{
		ID:        uuid.New().String(),
		UserID:    e.userID,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))
}

// --- Tests ---

func TestGetCart_ReturnsEmptyCart(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	rec := env.do(t, http.MethodGet, "/api/v1/cart/"+env.userID, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	data := resp.Data.(map[string]any)
	assert.Equal(t, env.userID, data["user_id"])
	assert.Empty(t, data["items"])
}

func TestGetCart_InvalidUserID(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	rec := env.do(t, http.MethodGet, "/api/v1/cart/not-a-uuid", nil, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
}

func TestAddItem_Created(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	rec := env.do(t, http.MethodPost, "/api/v1/cart/"+env.userID+"/items", AddItemRequest{
		ProductID: env.prodGo,
		Quantity:  2,
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	data := resp.Data.(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, env.prodGo, item["product_id"])
	assert.Equal(t, float64(2), item["quantity"])
}

func TestAddItem_ValidationError(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	rec := env.do(t, http.MethodPost, "/api/v1/cart/"+env.userID+"/items", AddItemRequest{
		ProductID: env.prodGo,
		Quantity:  0,
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestAddItem_InactiveProduct(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	rec := env.do(t, http.MethodPost, "/api/v1/cart/"+env.userID+"/items", AddItemRequest{
		ProductID: env.prodRetired,
		Quantity:  1,
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestAddItem_RejectsNonJSONContentType(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/"+env.userID+"/items", bytes.NewReader([]byte("<xml/>")))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUpdateItem_ChangesQuantity(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())
	env.seedCart(t, domain.CartItem{ProductID: env.prodGo, Quantity: 1})

	rec := env.do(t, http.MethodPatch, "/api/v1/cart/"+env.userID+"/items/"+env.prodGo, UpdateQuantityRequest{
		Quantity: 4,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)

	data := resp.Data.(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(4), items[0].(map[string]any)["quantity"])
}

func TestUpdateItem_MissingItem(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())
	env.seedCart(t, domain.CartItem{ProductID: env.prodGo, Quantity: 1})

	rec := env.do(t, http.MethodPatch, "/api/v1/cart/"+env.userID+"/items/"+env.prodSQL, UpdateQuantityRequest{
		Quantity: 1,
	}, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveItem_NoContent(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())
	env.seedCart(t, domain.CartItem{ProductID: env.prodGo, Quantity: 1})

	rec := env.do(t, http.MethodDelete, "/api/v1/cart/"+env.userID+"/items/"+env.prodGo, nil, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	cart, err := env.carts.Get(context.Background(), env.userID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestClearCart_NoContent(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())
	env.seedCart(t, domain.CartItem{ProductID: env.prodGo, Quantity: 1})

	rec := env.do(t, http.MethodDelete, "/api/v1/cart/"+env.userID, nil, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthLive(t *testing.T) {
	env := newHandlerEnv(t, gwmock.New())

	rec := env.do(t, http.MethodGet, "/health/live", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
