package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/live"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
	"spriteforge/internal/submit"
)

// StatusReader answers job status queries; *queue.Tracker satisfies it.
type StatusReader interface {
	GetJobStatus(ctx context.Context, jobID string) (*domain.QueueJob, bool, error)
	GetUserJobs(ctx context.Context, userID string, limit int) ([]domain.QueueJob, error)
	GetQueueMetrics(ctx context.Context) (queue.QueueMetrics, error)
}

// Submitter accepts new generation requests; *submit.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (submit.Receipt, error)
}

// HealthChecker reports service health; *health.Checker satisfies it.
type HealthChecker interface {
	Check(ctx context.Context) domain.HealthStatus
}

// App carries the handler dependencies.
type App struct {
	Submitter Submitter
	Tracker   StatusReader
	Health    HealthChecker
	Metrics   *metrics.Collector
	Hub       *live.Hub
	Logger    zerolog.Logger
}

func NewApp(submitter Submitter, tracker StatusReader, healthChecker HealthChecker, collector *metrics.Collector, hub *live.Hub, logger zerolog.Logger) *App {
	return &App{
		Submitter: submitter,
		Tracker:   tracker,
		Health:    healthChecker,
		Metrics:   collector,
		Hub:       hub,
		Logger:    logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
