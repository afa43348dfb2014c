package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	// StorageDriverMemory — in-memory store для разработки и тестов.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverPostgres — Postgres store для production.
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса оформления заказов.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers            string
	KafkaConsumerGroup      string
	KafkaConsumerMaxRetries int

	GatewayBaseURL     string
	GatewayCallbackURL string
	GatewayMerchantID  string
	GatewayTimeout     time.Duration

	GatewayRetryMaxAttempts   int
	GatewayRetryInitialDelay  time.Duration
	GatewayRetryMaxDelay      time.Duration
	GatewayRetryBackoffFactor float64

	BreakerWindowSize   int
	BreakerMinCalls     int
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	ReconcileScanInterval time.Duration
	ReconcileStaleAfter   time.Duration
	ReconcileBatchSize    int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию по умолчанию: in-memory store,
// без Kafka, с mock-шлюзом (GatewayBaseURL пустой).
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaConsumerMaxRetries: 3,

		GatewayTimeout: 3 * time.Second,

		GatewayRetryMaxAttempts:   3,
		GatewayRetryInitialDelay:  100 * time.Millisecond,
		GatewayRetryMaxDelay:      2 * time.Second,
		GatewayRetryBackoffFactor: 2.0,

		BreakerWindowSize:   10,
		BreakerMinCalls:     5,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  10 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		ReconcileScanInterval: 30 * time.Second,
		ReconcileStaleAfter:   2 * time.Minute,
		ReconcileBatchSize:    50,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig строит конфигурацию из переменных окружения поверх значений
// по умолчанию. Все переменные имеют префикс CHECKOUT_.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("CHECKOUT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("CHECKOUT_METRICS_ADDR", cfg.MetricsAddr)

	cfg.PostgresDSN = envString("CHECKOUT_POSTGRES_DSN", cfg.PostgresDSN)
	if driver := envString("CHECKOUT_STORAGE_DRIVER", ""); driver != "" {
		cfg.StorageDriver = StorageDriver(driver)
	} else if cfg.PostgresDSN != "" {
		// Заданный DSN без явного драйвера означает Postgres.
		cfg.StorageDriver = StorageDriverPostgres
	}
	cfg.PostgresAutoMigrate = envBool("CHECKOUT_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	cfg.KafkaBrokers = envString("CHECKOUT_KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envString("CHECKOUT_KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaConsumerMaxRetries = envInt("CHECKOUT_KAFKA_CONSUMER_MAX_RETRIES", cfg.KafkaConsumerMaxRetries)

	cfg.GatewayBaseURL = envString("CHECKOUT_GATEWAY_URL", cfg.GatewayBaseURL)
	cfg.GatewayCallbackURL = envString("CHECKOUT_GATEWAY_CALLBACK_URL", cfg.GatewayCallbackURL)
	cfg.GatewayMerchantID = envString("CHECKOUT_GATEWAY_MERCHANT_ID", cfg.GatewayMerchantID)
	cfg.GatewayTimeout = envDuration("CHECKOUT_GATEWAY_TIMEOUT", cfg.GatewayTimeout)

	cfg.GatewayRetryMaxAttempts = envInt("CHECKOUT_GATEWAY_RETRY_MAX_ATTEMPTS", cfg.GatewayRetryMaxAttempts)
	cfg.GatewayRetryInitialDelay = envDuration("CHECKOUT_GATEWAY_RETRY_INITIAL_DELAY", cfg.GatewayRetryInitialDelay)
	cfg.GatewayRetryMaxDelay = envDuration("CHECKOUT_GATEWAY_RETRY_MAX_DELAY", cfg.GatewayRetryMaxDelay)
	cfg.GatewayRetryBackoffFactor = envFloat("CHECKOUT_GATEWAY_RETRY_BACKOFF_FACTOR", cfg.GatewayRetryBackoffFactor)

	cfg.BreakerWindowSize = envInt("CHECKOUT_BREAKER_WINDOW_SIZE", cfg.BreakerWindowSize)
	cfg.BreakerMinCalls = envInt("CHECKOUT_BREAKER_MIN_CALLS", cfg.BreakerMinCalls)
	cfg.BreakerFailureRatio = envFloat("CHECKOUT_BREAKER_FAILURE_RATIO", cfg.BreakerFailureRatio)
	cfg.BreakerOpenTimeout = envDuration("CHECKOUT_BREAKER_OPEN_TIMEOUT", cfg.BreakerOpenTimeout)

	cfg.OutboxPollInterval = envDuration("CHECKOUT_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("CHECKOUT_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("CHECKOUT_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDuration("CHECKOUT_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.ReconcileScanInterval = envDuration("CHECKOUT_RECONCILE_SCAN_INTERVAL", cfg.ReconcileScanInterval)
	cfg.ReconcileStaleAfter = envDuration("CHECKOUT_RECONCILE_STALE_AFTER", cfg.ReconcileStaleAfter)
	cfg.ReconcileBatchSize = envInt("CHECKOUT_RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize)

	cfg.IdempotencyCleanupInterval = envDuration("CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = envInt("CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)

	return cfg
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(name string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(name string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
