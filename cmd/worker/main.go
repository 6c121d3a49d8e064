package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spriteforge/internal/cache"
	"spriteforge/internal/domain"
	"spriteforge/internal/genapi"
	"spriteforge/internal/infra"
	"spriteforge/internal/live"
	"spriteforge/internal/metrics"
	"spriteforge/internal/pipeline"
	"spriteforge/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("worker: redis unavailable, running degraded")
	}

	q := queue.New(runner, logger, cfg.MaxRetries, cfg.LeaseTTL)
	if err := q.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: queue schema failed")
	}

	fastTier := cache.NewRedisTier(redisClient)
	durableTier := cache.NewPostgresTier(runner, logger)
	if err := durableTier.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: cache schema failed")
	}
	resultCache := cache.NewTieredCache(fastTier, durableTier, logger)

	api := genapi.NewHTTPClient(genapi.Options{
		BaseURL:    cfg.GenAPIBaseURL,
		APIKey:     cfg.GenAPIKey,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})

	collector := metrics.NewCollector()
	broadcaster := live.NewRedisPublisher(redisClient, logger)
	integrator := pipeline.NewIntegrator(q, broadcaster, cfg.ProgressPollEvery, logger)
	processor := pipeline.NewProcessor(api, resultCache, q, integrator, collector, logger, cfg.CacheTTL)
	timeout := pipeline.NewTimeoutHandler(cfg.JobTimeout, cfg.TimeoutGrace, logger)

	runtime := pipeline.NewRuntime(q, timeout, processor, integrator, collector, logger, cfg.WorkerConcurrency, cfg.ClaimPollEvery, true)
	if err := runtime.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker: start failed")
	}

	<-ctx.Done()
	if err := runtime.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		logger.Error().Err(err).Msg("worker: stop failed")
	}
	logger.Info().Msg("worker: stopped")
}
