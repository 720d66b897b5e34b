package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"ORDERS_TABLE", "KAFKA_BROKERS", "IDEMPOTENCY_TTL", "STOCK_RETRY_ATTEMPTS", "OTEL_ENDPOINT", "OTEL_AUTH_HEADER", "RUN_LOCAL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.OrdersTable)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 8, cfg.StockRetryAttempts)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.RunLocal)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORDERS_TABLE", "prod-orders")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("STOCK_RETRY_ATTEMPTS", "3")
	t.Setenv("RUN_LOCAL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod-orders", cfg.OrdersTable)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 3, cfg.StockRetryAttempts)
	assert.True(t, cfg.RunLocal)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("STOCK_RETRY_ATTEMPTS", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STOCK_RETRY_ATTEMPTS", "")
	t.Setenv("IDEMPOTENCY_TTL", "soon")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("IDEMPOTENCY_TTL", "")
	t.Setenv("OTEL_ENDPOINT", "otlp.example.com")
	t.Setenv("OTEL_AUTH_HEADER", "")
	_, err = Load()
	assert.Error(t, err)
}
