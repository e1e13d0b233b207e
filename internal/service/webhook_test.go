package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	"github.com/feldrin/BookstoreGo/internal/repository/memory"
	"github.com/feldrin/BookstoreGo/internal/storage"
	apperrors "github.com/feldrin/BookstoreGo/pkg/errors"
)

// --- Test Helpers ---

// scriptedGateway returns canned webhook events and payment lookups.
type scriptedGateway struct {
	name          string
	event         *gateway.Event
	verifyErr     error
	payment       *gateway.PaymentInfo
	getPaymentErr error
	confirmStatus gateway.Status
	confirmErr    error // returned by the next Confirm call, then cleared
}

func (g *scriptedGateway) Name() string { return g.name }

func (g *scriptedGateway) CreateIntent(context.Context, *gateway.IntentInput) (*gateway.Intent, error) {
	return nil, errors.New("not implemented")
}

func (g *scriptedGateway) Confirm(context.Context, string) (gateway.Status, error) {
	if g.confirmErr != nil {
		err := g.confirmErr
		g.confirmErr = nil
		return "", err
	}
	if g.confirmStatus == "" {
		return gateway.StatusSucceeded, nil
	}
	return g.confirmStatus, nil
}

func (g *scriptedGateway) GetPayment(context.Context, string) (*gateway.PaymentInfo, error) {
	if g.getPaymentErr != nil {
		return nil, g.getPaymentErr
	}
	return g.payment, nil
}

func (g *scriptedGateway) Refund(context.Context, string, int64) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{RefundID: "ref-1", Status: gateway.StatusRefunded}, nil
}

func (g *scriptedGateway) VerifyWebhook([]byte, http.Header, url.Values) (*gateway.Event, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

type webhookTestEnv struct {
	svc       *WebhookService
	orders    *memory.OrderRepository
	events    *memory.WebhookEventRepository
	publisher *recordingPublisher
}

func newWebhookTestEnv(t *testing.T, gw gateway.Gateway) *webhookTestEnv {
	t.Helper()

	orders := memory.NewOrderRepository()
	events := memory.NewWebhookEventRepository()
	publisher := &recordingPublisher{}
	locks := NewOrderLocks()
	logger := newTestLogger()

	links := NewDownloadService(
		memory.NewDownloadRepository(),
		storage.NewBaseURLResolver("https://files.example.com"),
		publisher,
		logger,
		DefaultMaxDownloads,
		DefaultLinkValidity,
	)

	resolver := gateway.NewResolver(map[string]gateway.Gateway{
		domain.PaymentMethodStripe: gw,
	})

	ledger := NewOrderService(orders, memory.NewCartRepository(), newTestCatalog(), resolver, links, publisher, locks, logger)
	svc := NewWebhookService(resolver, orders, events, ledger, logger)

	return &webhookTestEnv{svc: svc, orders: orders, events: events, publisher: publisher}
}

func (e *webhookTestEnv) seedOrder(t *testing.T, status string) *domain.Order {
	t.Helper()
	order := &domain.Order{
		ID:                    "order-1",
		UserID:                "user-1",
		CustomerEmail:         "reader@example.com",
		Status:                status,
		Currency:              domain.CurrencyUSD,
		Total:                 4500,
		PaymentMethod:         domain.PaymentMethodStripe,
		StripePaymentIntentID: "pi_123",
	}
	require.NoError(t, e.orders.Create(context.Background(), order))
	return order
}

// --- Tests ---

func TestProcessWebhook_BadSignature(t *testing.T) {
	gw := &scriptedGateway{name: "stripe", verifyErr: apperrors.BadSignature("stripe")}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBadSignature))

	// Nothing was applied.
	order, getErr := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestProcessWebhook_UnconfiguredProvider(t *testing.T) {
	env := newWebhookTestEnv(t, &scriptedGateway{name: "stripe"})

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodMercadoPago, []byte("{}"), http.Header{}, url.Values{})

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGatewayUnavail))
}

func TestProcessWebhook_PaymentSucceeded(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_1",
			Type:              gateway.EventPaymentSucceeded,
			ProviderPaymentID: "pi_123",
			OrderID:           "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	assert.Equal(t, gateway.EventPaymentSucceeded, result.EventType)
	assert.Equal(t, "order-1", result.OrderID)

	order, err := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)

	paid, _, _, _ := env.publisher.counts()
	assert.Equal(t, 1, paid)
}

func TestProcessWebhook_DuplicateDelivery(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_1",
			Type:              gateway.EventPaymentSucceeded,
			ProviderPaymentID: "pi_123",
			OrderID:           "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)
	ctx := context.Background()

	first, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})
	require.NoError(t, err)
	require.Equal(t, WebhookProcessed, first.Status)

	second, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, second.Status)

	paid, _, _, _ := env.publisher.counts()
	assert.Equal(t, 1, paid)
}

func TestProcessWebhook_RedeliveryAfterTransientFailure(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_1",
			Type:              gateway.EventPaymentSucceeded,
			ProviderPaymentID: "pi_123",
			OrderID:           "order-1",
		},
		confirmErr: apperrors.GatewayUnavailable("stripe", errors.New("timeout")),
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)
	ctx := context.Background()

	// The confirm call times out, so the first delivery fails and the event
	// must not be recorded as processed.
	first, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})
	assert.Nil(t, first)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGatewayUnavail))

	order, err := env.orders.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	// The provider redelivers the same event id once the gateway recovers.
	second, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, second.Status)

	order, err = env.orders.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestProcessWebhook_OutOfOrderRefundRetried(t *testing.T) {
	refundEvt := &gateway.Event{
		ID:                "evt_2",
		Type:              gateway.EventPaymentRefunded,
		ProviderPaymentID: "pi_123",
		OrderID:           "order-1",
	}
	gw := &scriptedGateway{name: "stripe", event: refundEvt}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)
	ctx := context.Background()

	// A refund notice arriving before the payment notice conflicts with the
	// pending order and stays unrecorded.
	first, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})
	assert.Nil(t, first)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	// The payment notice lands, then the provider redelivers the refund.
	gw.event = &gateway.Event{
		ID:                "evt_1",
		Type:              gateway.EventPaymentSucceeded,
		ProviderPaymentID: "pi_123",
		OrderID:           "order-1",
	}
	paid, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})
	require.NoError(t, err)
	require.Equal(t, WebhookProcessed, paid.Status)

	gw.event = refundEvt
	second, err := env.svc.Process(ctx, domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, second.Status)

	order, err := env.orders.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
}

func TestProcessWebhook_MatchesByProviderPaymentID(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_1",
			Type:              gateway.EventPaymentSucceeded,
			ProviderPaymentID: "pi_123",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	assert.Equal(t, "order-1", result.OrderID)
}

func TestProcessWebhook_Unmatched(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_1",
			Type:              gateway.EventPaymentSucceeded,
			ProviderPaymentID: "pi_unknown",
		},
	}
	env := newWebhookTestEnv(t, gw)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookUnmatched, result.Status)
	assert.Empty(t, result.OrderID)
}

func TestProcessWebhook_IgnoredEventType(t *testing.T) {
	gw := &scriptedGateway{
		name:  "stripe",
		event: &gateway.Event{ID: "evt_1", Type: gateway.EventIgnored},
	}
	env := newWebhookTestEnv(t, gw)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)
}

func TestProcessWebhook_PaymentUpdated_ResolvedSucceeded(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "req_42",
			Type:              gateway.EventPaymentUpdated,
			ProviderPaymentID: "pi_123",
		},
		payment: &gateway.PaymentInfo{
			ProviderID: "pi_123",
			Status:     gateway.StatusSucceeded,
			OrderID:    "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	assert.Equal(t, gateway.EventPaymentSucceeded, result.EventType)

	order, err := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}

func TestProcessWebhook_PaymentUpdated_StillPending(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "req_42",
			Type:              gateway.EventPaymentUpdated,
			ProviderPaymentID: "pi_123",
		},
		payment: &gateway.PaymentInfo{
			ProviderID: "pi_123",
			Status:     gateway.StatusPending,
			OrderID:    "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)

	order, err := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestProcessWebhook_PaymentUpdated_LookupFails(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "req_42",
			Type:              gateway.EventPaymentUpdated,
			ProviderPaymentID: "pi_123",
		},
		getPaymentErr: apperrors.GatewayUnavailable("stripe", errors.New("timeout")),
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGatewayUnavail))
}

func TestProcessWebhook_RefundEvent(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_2",
			Type:              gateway.EventPaymentRefunded,
			ProviderPaymentID: "pi_123",
			OrderID:           "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPaid)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	order, err := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
}

func TestProcessWebhook_FailureEvent_CancelsPending(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_3",
			Type:              gateway.EventPaymentFailed,
			ProviderPaymentID: "pi_123",
			OrderID:           "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPending)

	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	order, err := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestProcessWebhook_FailureEvent_SettledOrder(t *testing.T) {
	gw := &scriptedGateway{
		name: "stripe",
		event: &gateway.Event{
			ID:                "evt_3",
			Type:              gateway.EventPaymentFailed,
			ProviderPaymentID: "pi_123",
			OrderID:           "order-1",
		},
	}
	env := newWebhookTestEnv(t, gw)
	env.seedOrder(t, domain.OrderStatusPaid)

	// A stale failure notice for an order that was paid through a later
	// attempt is acknowledged without changing anything.
	result, err := env.svc.Process(context.Background(), domain.PaymentMethodStripe, []byte("{}"), http.Header{}, url.Values{})

	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	order, err := env.orders.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
}
