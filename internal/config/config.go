// Package config loads the service configuration from environment
// variables.
package config

import (
	"fmt"

	pkgconfig "github.com/feldrin/BookstoreGo/pkg/config"
	"github.com/feldrin/BookstoreGo/pkg/database"
)

// Config holds all configuration for the commerce service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"COMMERCE_HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"bookstore"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"bookstore_secret"`
	PostgresDB   string `env:"COMMERCE_DB_NAME" envDefault:"bookstore"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (cart store)
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. Empty brokers disable event publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Cart lifetime in hours.
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// Download links.
	DownloadMaxCount     int `env:"DOWNLOAD_MAX_COUNT" envDefault:"5"`
	DownloadValidityDays int `env:"DOWNLOAD_VALIDITY_DAYS" envDefault:"7"`

	// Upstream services.
	CatalogBaseURL   string `env:"CATALOG_BASE_URL" envDefault:"http://localhost:8001"`
	DirectoryBaseURL string `env:"DIRECTORY_BASE_URL" envDefault:"http://localhost:8002"`
	FilesBaseURL     string `env:"FILES_BASE_URL" envDefault:"http://localhost:8003/files"`

	// Stripe
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY" envDefault:""`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" envDefault:""`

	// Mercado Pago
	MercadoPagoAccessToken     string `env:"MERCADOPAGO_ACCESS_TOKEN" envDefault:""`
	MercadoPagoWebhookSecret   string `env:"MERCADOPAGO_WEBHOOK_SECRET" envDefault:""`
	MercadoPagoNotificationURL string `env:"MERCADOPAGO_NOTIFICATION_URL" envDefault:""`

	// EnableMockGateway registers the mock provider for local development.
	EnableMockGateway bool `env:"ENABLE_MOCK_GATEWAY" envDefault:"false"`

	// PprofAllowedCIDRs restricts /debug/pprof to these networks.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load commerce config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.CartTTL < 1 {
		return fmt.Errorf("cart TTL must be at least one hour, got %d", c.CartTTL)
	}
	if c.DownloadMaxCount < 1 {
		return fmt.Errorf("download max count must be positive, got %d", c.DownloadMaxCount)
	}
	if c.DownloadValidityDays < 1 {
		return fmt.Errorf("download validity must be at least one day, got %d", c.DownloadValidityDays)
	}
	return nil
}

// PostgresConfig builds the connection pool configuration.
func (c *Config) PostgresConfig() database.PostgresConfig {
	pc := database.DefaultPostgresConfig()
	pc.Host = c.PostgresHost
	pc.Port = c.PostgresPort
	pc.User = c.PostgresUser
	pc.Password = c.PostgresPass
	pc.DBName = c.PostgresDB
	pc.SSLMode = c.PostgresSSL
	return pc
}

// RedisConfig builds the Redis client configuration.
func (c *Config) RedisConfig() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPass
	rc.DB = c.RedisDB
	return rc
}
