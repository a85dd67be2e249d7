package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// JWT
	JWTSecret string

	// Token storage encryption (AES-256-GCM key material)
	TokenEncryptionKey string

	// OAuth - Google (mail provider collaborator)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Worker
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int

	// Detection
	ScanBatchSize   int     // messages pulled per provider page during a full scan
	ScanConcurrency int     // concurrent per-sender tasks during a scan (0 = NumCPU)
	RecordThreshold float64 // confidence at which a subscription record is first created

	// Unsubscribe executor
	UnsubscribeTimeout time.Duration // bound on a single outbound unsubscribe action
	BulkConcurrency    int           // concurrent outbound actions for bulk unsubscribe
	OutboundRatePerSec int           // provider-facing rate cap for outbound actions

	// Storage retry
	StorageMaxRetries int
	StorageRetryBase  time.Duration

	// Deferred re-scan
	DeferredCheckInterval time.Duration

	// Cache
	WhitelistCacheTTL time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Falls back to the JWT secret so a single-secret deployment works.
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", getEnv("JWT_SECRET", "")),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:       getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Detection
		ScanBatchSize:   getEnvInt("SCAN_BATCH_SIZE", 200),
		ScanConcurrency: getEnvInt("SCAN_CONCURRENCY", 0),
		RecordThreshold: getEnvFloat("RECORD_THRESHOLD", 0.4),

		// Unsubscribe executor
		UnsubscribeTimeout: time.Duration(getEnvInt("UNSUBSCRIBE_TIMEOUT_SEC", 10)) * time.Second,
		BulkConcurrency:    getEnvInt("BULK_CONCURRENCY", 8),
		OutboundRatePerSec: getEnvInt("OUTBOUND_RATE_PER_SEC", 5),

		// Storage retry
		StorageMaxRetries: getEnvInt("STORAGE_MAX_RETRIES", 3),
		StorageRetryBase:  time.Duration(getEnvInt("STORAGE_RETRY_BASE_MS", 200)) * time.Millisecond,

		// Deferred re-scan
		DeferredCheckInterval: time.Duration(getEnvInt("DEFERRED_CHECK_SEC", 60)) * time.Second,

		// Cache
		WhitelistCacheTTL: time.Duration(getEnvInt("WHITELIST_CACHE_TTL_HOUR", 24)) * time.Hour,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
