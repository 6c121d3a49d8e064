package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"spriteforge/internal/admission"
	"spriteforge/internal/cache"
	"spriteforge/internal/health"
	"spriteforge/internal/http/handlers"
	"spriteforge/internal/http/httpapi"
	"spriteforge/internal/infra"
	"spriteforge/internal/live"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
	"spriteforge/internal/submit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		// The fast tier is an optimization; the API stays up without it
		// and the health probe reports the degradation.
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("api: redis unavailable, running degraded")
	}

	q := queue.New(runner, logger, cfg.MaxRetries, cfg.LeaseTTL)
	if err := q.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: queue schema failed")
	}
	tracker := queue.NewTracker(q, logger)

	durableTier := cache.NewPostgresTier(runner, logger)
	if err := durableTier.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: cache schema failed")
	}

	monitor := admission.NewMonitor(q, logger, cfg.MonitorCacheWindow, cfg.QueueWarningThreshold, cfg.QueueMaxSize)
	controller := admission.NewController(monitor, logger, cfg.QueueMaxSize, cfg.QueueWarningThreshold, cfg.AvgJobDuration.Seconds(), cfg.WorkerConcurrency)

	thresholdEvents := monitor.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-thresholdEvents:
				lvl := zerolog.WarnLevel
				if ev.Level == admission.ThresholdCritical {
					lvl = zerolog.ErrorLevel
				}
				logger.WithLevel(lvl).
					Str("level", string(ev.Level)).
					Int("total", ev.Total).
					Int("threshold", ev.Threshold).
					Msg("api: queue depth threshold crossed")
			}
		}
	}()

	collector := metrics.NewCollector()
	hub := live.NewHub(logger)
	go live.Subscribe(ctx, redisClient, hub, logger)

	var locker submit.Locker
	if redisClient != nil {
		locker = infra.NewLocker(redisClient)
	}
	service := submit.NewService(controller, q, tracker, locker, collector, logger, cfg.DedupWindow, cfg.PerUserActiveLimit)

	checker := health.NewChecker(
		health.PingFunc(func(c context.Context) error { return redisClient.Ping(c).Err() }),
		health.PingFunc(pool.Ping),
		q,
		logger,
		cfg.HealthTimeout,
		cfg.HealthCacheWindow,
		cfg.QueueMaxSize,
		cfg.QueueWarningThreshold,
	)

	app := handlers.NewApp(service, tracker, checker, collector, hub, logger)
	router := httpapi.NewRouter(app, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
