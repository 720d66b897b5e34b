package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service identity reported to logs, traces and metrics.
const (
	ServiceName    = "marketplace-orderflow"
	ServiceVersion = "0.1.0"
)

// OpenTelemetry export settings.
const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// Kafka writer settings.
const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaBatchSize    = 100
)

// Config holds everything that changes between environments.
type Config struct {
	ProductsTable     string
	CartsTable        string
	OrdersTable       string
	OrderNumbersTable string
	ReviewsTable      string
	SellersTable      string
	IdempotencyTable  string

	JobsQueueURL string

	KafkaBrokers []string
	EventsTopic  string

	OtelEndpoint   string
	OtelAuthHeader string

	MetricsNamespace string

	IdempotencyTTL     time.Duration
	StockRetryAttempts int
	LogLevel           string
	HTTPAddr           string
	RunLocal           bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		ProductsTable:     getEnvOrDefault("PRODUCTS_TABLE", "products"),
		CartsTable:        getEnvOrDefault("CARTS_TABLE", "carts"),
		OrdersTable:       getEnvOrDefault("ORDERS_TABLE", "orders"),
		OrderNumbersTable: getEnvOrDefault("ORDER_NUMBERS_TABLE", "order_numbers"),
		ReviewsTable:      getEnvOrDefault("REVIEWS_TABLE", "reviews"),
		SellersTable:      getEnvOrDefault("SELLERS_TABLE", "sellers"),
		IdempotencyTable:  getEnvOrDefault("IDEMPOTENCY_TABLE", "idempotency"),
		JobsQueueURL:      os.Getenv("JOBS_QUEUE_URL"),
		EventsTopic:       getEnvOrDefault("EVENTS_TOPIC", "marketplace.orders"),
		OtelEndpoint:      os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader:    os.Getenv("OTEL_AUTH_HEADER"),
		MetricsNamespace:  getEnvOrDefault("METRICS_NAMESPACE", "Marketplace/Orders"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPAddr:          getEnvOrDefault("HTTP_ADDR", ":8080"),
		RunLocal:          os.Getenv("RUN_LOCAL") == "true",
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	ttl, err := time.ParseDuration(getEnvOrDefault("IDEMPOTENCY_TTL", "48h"))
	if err != nil {
		return nil, fmt.Errorf("IDEMPOTENCY_TTL: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", ttl)
	}
	cfg.IdempotencyTTL = ttl

	attempts, err := strconv.Atoi(getEnvOrDefault("STOCK_RETRY_ATTEMPTS", "8"))
	if err != nil {
		return nil, fmt.Errorf("STOCK_RETRY_ATTEMPTS: %w", err)
	}
	if attempts < 1 {
		return nil, fmt.Errorf("STOCK_RETRY_ATTEMPTS must be at least 1, got %d", attempts)
	}
	cfg.StockRetryAttempts = attempts

	if cfg.OtelEndpoint != "" && cfg.OtelAuthHeader == "" {
		return nil, fmt.Errorf("OTEL_AUTH_HEADER environment variable is required when OTEL_ENDPOINT is set")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
