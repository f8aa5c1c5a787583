package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application, loaded from
// environment variables with documented defaults.
type Config struct {
	Port        string
	MetricsPort string
	DatabaseURL string
	RedisURL    string
	NumWorkers  int

	DeliveryTimeout  time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryFactor      int
	MaxRetryDelay    time.Duration
	LogRetentionAge  time.Duration
	CacheExpiry      time.Duration
	SweepInterval    time.Duration
	RescueInterval   time.Duration
	RescueStaleAfter time.Duration

	WebhookSecretHeader    string
	WebhookEventTypeHeader string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")

	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9100"),
		DatabaseURL: dbURL,
		RedisURL:    redisURL,
		NumWorkers:  getEnvInt("NUM_WORKERS", 50),

		DeliveryTimeout:  getEnvSeconds("DELIVERY_TIMEOUT_SECONDS", 10),
		MaxRetries:       getEnvInt("MAX_RETRIES", 5),
		RetryBaseDelay:   getEnvSeconds("RETRY_BASE_DELAY_SECONDS", 10),
		RetryFactor:      getEnvInt("RETRY_FACTOR", 3),
		MaxRetryDelay:    getEnvSeconds("MAX_RETRY_DELAY_SECONDS", 900),
		LogRetentionAge:  time.Duration(getEnvInt("LOG_RETENTION_HOURS", 72)) * time.Hour,
		CacheExpiry:      getEnvSeconds("CACHE_EXPIRY_SECONDS", 3600),
		SweepInterval:    time.Duration(getEnvInt("SWEEP_INTERVAL_HOURS", 6)) * time.Hour,
		RescueInterval:   getEnvSeconds("RESCUE_INTERVAL_SECONDS", 300),
		RescueStaleAfter: getEnvSeconds("RESCUE_STALE_AFTER_SECONDS", 600),

		WebhookSecretHeader:    getEnv("WEBHOOK_SECRET_HEADER", "X-Hub-Signature-256"),
		WebhookEventTypeHeader: getEnv("WEBHOOK_EVENT_TYPE_HEADER", "X-Event-Type"),
	}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}
