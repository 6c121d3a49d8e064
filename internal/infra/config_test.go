package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/spriteforge_test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.QueueMaxSize != 500 || cfg.QueueWarningThreshold != 400 {
		t.Fatalf("queue limits = %d/%d", cfg.QueueWarningThreshold, cfg.QueueMaxSize)
	}
	if cfg.AvgJobDuration != 60*time.Second {
		t.Fatalf("AvgJobDuration = %v", cfg.AvgJobDuration)
	}
	if cfg.CacheTTL != 30*24*time.Hour {
		t.Fatalf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.JobTimeout != 10*time.Minute || cfg.TimeoutGrace != 100*time.Millisecond {
		t.Fatalf("timeouts = %v/%v", cfg.JobTimeout, cfg.TimeoutGrace)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.MonitorCacheWindow != time.Second || cfg.HealthCacheWindow != 5*time.Second {
		t.Fatalf("cache windows = %v/%v", cfg.MonitorCacheWindow, cfg.HealthCacheWindow)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/spriteforge_test")
	t.Setenv("QUEUE_MAX_SIZE", "100")
	t.Setenv("QUEUE_WARNING_THRESHOLD", "80")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("JOB_TIMEOUT_MS", "5000")
	t.Setenv("CACHE_TTL_DAYS", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.QueueMaxSize != 100 || cfg.QueueWarningThreshold != 80 {
		t.Fatalf("queue limits = %d/%d", cfg.QueueWarningThreshold, cfg.QueueMaxSize)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
	if cfg.JobTimeout != 5*time.Second {
		t.Fatalf("JobTimeout = %v", cfg.JobTimeout)
	}
	if cfg.CacheTTL != 7*24*time.Hour {
		t.Fatalf("CacheTTL = %v", cfg.CacheTTL)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected an error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/spriteforge_test")
	t.Setenv("QUEUE_WARNING_THRESHOLD", "600")
	t.Setenv("QUEUE_MAX_SIZE", "500")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected an error when the warning threshold exceeds the limit")
	}
}
