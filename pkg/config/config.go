// Package config loads the application configuration from environment
// variables with sensible defaults. Database connection settings live in
// pkg/database and are loaded separately.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentlensai/agentlens/pkg/queue"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the application configuration assembled from the environment.
type Config struct {
	HTTPPort     string
	CORSOrigin   string
	AuthDisabled bool

	// StorageDriver selects the event store backend.
	StorageDriver string

	// RedisURL enables the Redis queue and the quota fast path when set.
	RedisURL              string
	BackpressureThreshold int64
	WriterBatchSize       int
	WriterMaxRetries      int

	EmbeddingEndpoint   string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingQueueSize  int

	// WebhookSecrets maps webhook source names to their HMAC secrets.
	WebhookSecrets map[string]string

	AlertInterval     time.Duration
	GuardrailInterval time.Duration

	NotifyGroupWindow time.Duration
	NotifyGroupLimit  int
	AllowInternalURLs bool

	// DefaultEventQuota is the monthly event quota of the fallback plan.
	// Zero means unlimited.
	DefaultEventQuota int64
	DefaultPlanPaid   bool

	// RetentionDays drives the retention sweep. Zero keeps data forever.
	RetentionDays   int
	CleanupInterval time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:     getEnvOrDefault("HTTP_PORT", "8080"),
		CORSOrigin:   getEnvOrDefault("CORS_ORIGIN", "*"),
		AuthDisabled: getEnvBool("AUTH_DISABLED", false),

		StorageDriver: getEnvOrDefault("STORAGE_DRIVER", StorageMemory),

		RedisURL:              os.Getenv("REDIS_URL"),
		BackpressureThreshold: getEnvInt64("BACKPRESSURE_THRESHOLD", queue.DefaultBackpressureThreshold),
		WriterBatchSize:       getEnvInt("WRITER_BATCH_SIZE", queue.DefaultBatchSize),
		WriterMaxRetries:      getEnvInt("WRITER_MAX_RETRIES", queue.DefaultMaxRetries),

		EmbeddingEndpoint:   os.Getenv("EMBEDDING_ENDPOINT"),
		EmbeddingAPIKey:     os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		EmbeddingQueueSize:  getEnvInt("EMBEDDING_QUEUE_SIZE", 1000),

		WebhookSecrets: loadWebhookSecrets(),

		AlertInterval:     getEnvDuration("ALERT_INTERVAL", time.Minute),
		GuardrailInterval: getEnvDuration("GUARDRAIL_INTERVAL", time.Minute),

		NotifyGroupWindow: getEnvDuration("NOTIFY_GROUP_WINDOW", time.Minute),
		NotifyGroupLimit:  getEnvInt("NOTIFY_GROUP_LIMIT", 20),
		AllowInternalURLs: getEnvBool("ALLOW_INTERNAL_URLS", false),

		DefaultEventQuota: getEnvInt64("DEFAULT_EVENT_QUOTA", 0),
		DefaultPlanPaid:   getEnvBool("DEFAULT_PLAN_PAID", false),

		RetentionDays:   getEnvInt("RETENTION_DAYS", 0),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	switch cfg.StorageDriver {
	case StorageMemory, StoragePostgres:
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: must be %s or %s",
			cfg.StorageDriver, StorageMemory, StoragePostgres)
	}
	if cfg.BackpressureThreshold <= 0 {
		return nil, fmt.Errorf("BACKPRESSURE_THRESHOLD must be positive, got %d", cfg.BackpressureThreshold)
	}
	return cfg, nil
}

// loadWebhookSecrets collects WEBHOOK_SECRET_<SOURCE> variables. The source
// name is lowercased, so WEBHOOK_SECRET_FORMBRIDGE configures "formbridge".
func loadWebhookSecrets() map[string]string {
	secrets := make(map[string]string)
	for _, source := range []string{"formbridge", "agentgate", "generic"} {
		key := "WEBHOOK_SECRET_" + strings.ToUpper(source)
		if v := os.Getenv(key); v != "" {
			secrets[source] = v
		}
	}
	return secrets
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
