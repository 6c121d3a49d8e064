package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisAddr   string

	// External generation service.
	GenAPIBaseURL string
	GenAPIKey     string

	// Admission control.
	QueueMaxSize          int
	QueueWarningThreshold int
	AvgJobDuration        time.Duration
	PerUserActiveLimit    int

	// Cache.
	CacheTTL    time.Duration
	DedupWindow time.Duration

	// Worker execution.
	WorkerConcurrency int
	MaxRetries        int
	JobTimeout        time.Duration
	TimeoutGrace      time.Duration
	ProgressPollEvery time.Duration
	ClaimPollEvery    time.Duration
	LeaseTTL          time.Duration

	// Observability.
	MonitorCacheWindow time.Duration
	HealthTimeout      time.Duration
	HealthCacheWindow  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDRESS", "localhost:6379"),

		GenAPIBaseURL: getEnv("GEN_API_BASE_URL", "https://api.pixellab.ai/v1"),
		GenAPIKey:     os.Getenv("GEN_API_KEY"),

		QueueMaxSize:          getEnvInt("QUEUE_MAX_SIZE", 500),
		QueueWarningThreshold: getEnvInt("QUEUE_WARNING_THRESHOLD", 400),
		AvgJobDuration:        getEnvDuration("AVG_JOB_SECONDS", time.Second, 60*time.Second),
		PerUserActiveLimit:    getEnvInt("PER_USER_ACTIVE_LIMIT", 3),

		CacheTTL:    time.Duration(getEnvInt("CACHE_TTL_DAYS", 30)) * 24 * time.Hour,
		DedupWindow: getEnvDuration("DEDUP_WINDOW_MS", time.Millisecond, 5*time.Second),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 1),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT_MS", time.Millisecond, 10*time.Minute),
		TimeoutGrace:      getEnvDuration("TIMEOUT_GRACE_MS", time.Millisecond, 100*time.Millisecond),
		ProgressPollEvery: getEnvDuration("PROGRESS_POLL_MS", time.Millisecond, 2*time.Second),
		ClaimPollEvery:    getEnvDuration("CLAIM_POLL_MS", time.Millisecond, 2*time.Second),
		LeaseTTL:          getEnvDuration("LEASE_TTL_MS", time.Millisecond, 30*time.Second),

		MonitorCacheWindow: getEnvDuration("MONITOR_CACHE_MS", time.Millisecond, time.Second),
		HealthTimeout:      getEnvDuration("HEALTH_TIMEOUT_MS", time.Millisecond, time.Second),
		HealthCacheWindow:  getEnvDuration("HEALTH_CACHE_MS", time.Millisecond, 5*time.Second),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.QueueWarningThreshold >= cfg.QueueMaxSize {
		return nil, fmt.Errorf("QUEUE_WARNING_THRESHOLD must be below QUEUE_MAX_SIZE")
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * unit
		}
	}
	return fallback
}
