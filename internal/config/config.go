// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration, loaded from environment
// variables. Unknown environment keys are ignored.
type Config struct {
	// Server
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// AI providers: model/key per provider, tried in the order listed in
	// PrimaryProvider/FallbackProvider.
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	PrimaryProvider  string // "anthropic" | "openai" | "openrouter"
	PrimaryModel     string
	FallbackProvider string
	FallbackModel    string
	CircuitBreakerFailureThreshold uint32
	CircuitBreakerOpenTimeout      time.Duration

	// Browser adapter
	BrowserServiceURL string
	BrowserSecret     string
	BrowserTimeout    time.Duration // default per-request timeout, clamped 1-60s
	MaxContentChars   int

	// Fallback (proxy) browser provider, used when the primary browser is
	// blocked and a second attempt is permitted.
	FallbackProxyEnabled   bool
	FallbackProxyURL       string
	FallbackProxySecret    string
	FallbackProxyAllowlist []string
	FallbackProxyForce     bool

	// CORS
	CORSOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Request body size
	MaxRequestSizeMB int

	// Cache
	CacheEnabled bool
	CacheTTL     time.Duration

	// Anonymous access (no API key required on extract routes)
	AnonymousMode bool

	// Webhooks
	WebhookDefaultSecret string
	WebhookTimeout       time.Duration

	// Session cookies (loaded from the environment; no route reads them)
	SessionCookieName     string
	SessionCookieSecure   bool
	SessionCookieSameSite string

	// Object storage (S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	// Retention janitor
	CleanupEnabled        bool
	CleanupMaxAgeResults  time.Duration
	CleanupMaxAgeLogs     time.Duration
	CleanupInterval       time.Duration

	// Queue worker
	WorkerPollInterval        time.Duration
	WorkerMaxPollInterval     time.Duration
	WorkerConcurrency         int
	WorkerShutdownGracePeriod time.Duration

	// Schedules
	ScheduleTickInterval time.Duration

	// Batch limits
	MaxBatchSize int

	// Scale-to-zero idle shutdown (0 = disabled)
	IdleTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying the
// defaults the teacher's Load() uses as a baseline.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:webextract.db?_journal=WAL&_timeout=5000"),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		PrimaryProvider:  getEnv("LLM_PRIMARY_PROVIDER", "anthropic"),
		PrimaryModel:     getEnv("LLM_PRIMARY_MODEL", "claude-3-5-haiku-latest"),
		FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
		FallbackModel:    getEnv("LLM_FALLBACK_MODEL", ""),
		CircuitBreakerFailureThreshold: uint32(getEnvInt("LLM_CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5)),
		CircuitBreakerOpenTimeout:      getEnvDuration("LLM_CIRCUIT_BREAKER_OPEN_TIMEOUT", 60*time.Second),

		BrowserServiceURL: getEnv("BROWSER_SERVICE_URL", ""),
		BrowserSecret:     getEnv("BROWSER_SECRET", ""),
		BrowserTimeout:    clampDuration(getEnvDuration("BROWSER_TIMEOUT", 15*time.Second), time.Second, 60*time.Second),
		MaxContentChars:   getEnvInt("MAX_CONTENT_CHARS", 20_000),

		FallbackProxyEnabled:   getEnvBool("FALLBACK_PROXY_ENABLED", false),
		FallbackProxyURL:       getEnv("FALLBACK_PROXY_URL", ""),
		FallbackProxySecret:    getEnv("FALLBACK_PROXY_SECRET", ""),
		FallbackProxyAllowlist: getEnvSlice("FALLBACK_PROXY_ALLOWLIST", nil),
		FallbackProxyForce:     getEnvBool("FALLBACK_PROXY_FORCE", false),

		CORSOrigins: getEnvSlice("CORS_ORIGIN", []string{"*"}),

		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		MaxRequestSizeMB: getEnvInt("MAX_REQUEST_SIZE_MB", 5),

		CacheEnabled: getEnvBool("CACHE_ENABLED", true),
		CacheTTL:     getEnvDuration("CACHE_TTL", 15*time.Minute),

		AnonymousMode: getEnvBool("ANONYMOUS_MODE", false),

		WebhookDefaultSecret: getEnv("WEBHOOK_DEFAULT_SECRET", ""),
		WebhookTimeout:       getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),

		SessionCookieName:     getEnv("SESSION_COOKIE_NAME", "webextract_session"),
		SessionCookieSecure:   getEnvBool("SESSION_COOKIE_SECURE", true),
		SessionCookieSameSite: getEnv("SESSION_COOKIE_SAMESITE", "lax"),

		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),

		CleanupEnabled:       getEnvBool("CLEANUP_ENABLED", true),
		CleanupMaxAgeResults: getEnvDuration("CLEANUP_MAX_AGE_RESULTS", 30*24*time.Hour),
		CleanupMaxAgeLogs:    getEnvDuration("CLEANUP_MAX_AGE_LOGS", 14*24*time.Hour),
		CleanupInterval:      getEnvDuration("CLEANUP_INTERVAL", time.Hour),

		WorkerPollInterval:        getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		WorkerMaxPollInterval:     getEnvDuration("WORKER_MAX_POLL_INTERVAL", 30*time.Second),
		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 3),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute),

		ScheduleTickInterval: getEnvDuration("SCHEDULE_TICK_INTERVAL", 30*time.Second),

		MaxBatchSize: getEnvInt("MAX_BATCH_SIZE", 50),

		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),
	}

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if v, ok := os.LookupEnv("LLM_PRIMARY_PROVIDER"); (ok && strings.TrimSpace(v) == "") || cfg.PrimaryProvider == "" {
		return nil, fmt.Errorf("LLM_PRIMARY_PROVIDER must be set")
	}

	return cfg, nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
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

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}
