// Package app wires together all dependencies and runs the commerce
// service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/feldrin/BookstoreGo/internal/catalog"
	"github.com/feldrin/BookstoreGo/internal/config"
	"github.com/feldrin/BookstoreGo/internal/directory"
	"github.com/feldrin/BookstoreGo/internal/domain"
	"github.com/feldrin/BookstoreGo/internal/event"
	"github.com/feldrin/BookstoreGo/internal/gateway"
	"github.com/feldrin/BookstoreGo/internal/gateway/mercadopago"
	gwmock "github.com/feldrin/BookstoreGo/internal/gateway/mock"
	"github.com/feldrin/BookstoreGo/internal/gateway/stripe"
	handler "github.com/feldrin/BookstoreGo/internal/handler/http"
	"github.com/feldrin/BookstoreGo/internal/repository/postgres"
	redisrepo "github.com/feldrin/BookstoreGo/internal/repository/redis"
	"github.com/feldrin/BookstoreGo/internal/service"
	"github.com/feldrin/BookstoreGo/internal/storage"
	"github.com/feldrin/BookstoreGo/migrations"
	"github.com/feldrin/BookstoreGo/pkg/database"
	"github.com/feldrin/BookstoreGo/pkg/health"
	"github.com/feldrin/BookstoreGo/pkg/httpclient"
	pkgkafka "github.com/feldrin/BookstoreGo/pkg/kafka"
)

// App holds the long-lived components of the service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *redis.Client
	producer   *pkgkafka.Producer
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// PostgreSQL pool for the order ledger, downloads and refunds.
	pgCfg := cfg.PostgresConfig()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis holds carts.
	redisCfg := cfg.RedisConfig()
	rdb, err := database.NewRedisClient(ctx, &redisCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// Kafka producer for domain events. Without brokers the service runs
	// with publishing disabled.
	var (
		producer  *pkgkafka.Producer
		publisher event.Publisher = event.NopPublisher{}
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("kafka brokers not configured, event publishing disabled")
	}

	// Upstream HTTP clients behind circuit breakers.
	catalogClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		logger,
	)
	directoryClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("directory"),
		logger,
	)

	cat := catalog.NewHTTPCatalog(cfg.CatalogBaseURL, catalogClient)
	dir := directory.NewHTTPDirectory(cfg.DirectoryBaseURL, directoryClient)
	files := storage.NewBaseURLResolver(cfg.FilesBaseURL)

	gateways := buildGateways(cfg, logger)
	resolver := gateway.NewResolver(gateways)

	// Repositories.
	cartTTL := time.Duration(cfg.CartTTL) * time.Hour
	carts := redisrepo.NewCartRepository(rdb, cartTTL)
	orders := postgres.NewOrderRepository(pool)
	downloads := postgres.NewDownloadRepository(pool)
	refunds := postgres.NewRefundRepository(pool)
	webhookEvents := postgres.NewWebhookEventRepository(pool)

	// Services.
	locks := service.NewOrderLocks()
	downloadService := service.NewDownloadService(
		downloads, files, publisher, logger,
		cfg.DownloadMaxCount,
		time.Duration(cfg.DownloadValidityDays)*24*time.Hour,
	)
	cartService := service.NewCartService(carts, cat, logger, cartTTL)
	orderService := service.NewOrderService(orders, carts, cat, resolver, downloadService, publisher, locks, logger)
	webhookService := service.NewWebhookService(resolver, orders, webhookEvents, orderService, logger)
	refundService := service.NewRefundService(refunds, orders, resolver, dir, publisher, locks, logger)

	// Health checks.
	checker := health.NewChecker(5 * time.Second)
	checker.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	checker.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if producer != nil {
		checker.Register("kafka", producer.Ping)
	}

	router := handler.NewRouter(handler.Services{
		Cart:     cartService,
		Orders:   orderService,
		Webhooks: webhookService,
		Download: downloadService,
		Refunds:  refundService,
	}, checker, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		rdb:        rdb,
		producer:   producer,
		httpServer: httpServer,
	}, nil
}

// buildGateways constructs the configured payment providers. A provider
// without credentials is left out; requests naming it get a 503 from the
// resolver.
func buildGateways(cfg *config.Config, logger *slog.Logger) map[string]gateway.Gateway {
	gateways := make(map[string]gateway.Gateway)

	if cfg.StripeSecretKey != "" {
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("stripe"),
			logger,
		)
		sg := stripe.New(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		}, client)
		gateways[sg.Name()] = sg
	}

	if cfg.MercadoPagoAccessToken != "" {
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("mercadopago"),
			logger,
		)
		mg := mercadopago.New(mercadopago.Config{
			AccessToken:     cfg.MercadoPagoAccessToken,
			WebhookSecret:   cfg.MercadoPagoWebhookSecret,
			NotificationURL: cfg.MercadoPagoNotificationURL,
		}, client)
		gateways[mg.Name()] = mg
	}

	// For local development the mock provider fills any payment method slot
	// that has no real credentials.
	if cfg.EnableMockGateway {
		mg := gwmock.New()
		for _, method := range domain.ValidPaymentMethods() {
			if _, ok := gateways[method]; !ok {
				gateways[method] = mg
			}
		}
		logger.Warn("mock payment gateway enabled")
	}

	return gateways
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return nil
}
