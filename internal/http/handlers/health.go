package handlers

import (
	"net/http"

	"spriteforge/internal/domain"
)

// HealthHandler maps the derived health status onto 200/503.
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := a.Health.Check(r.Context())
	code := http.StatusOK
	if status.Status != domain.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, status)
}

// MetricsHandler reports the pipeline counters plus queue gauges.
func (a *App) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Metrics.Snapshot(r.Context(), a.Tracker))
}
