package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"spriteforge/internal/http/handlers"
	"spriteforge/internal/middleware"
)

// NewRouter wires the API surface over the pipeline core.
func NewRouter(app *handlers.App, rateLimitPerMin int) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))

	r.Get("/v1/healthz", app.HealthHandler)
	r.Get("/v1/metrics", app.MetricsHandler)

	r.Route("/v1/jobs", func(r chi.Router) {
		if rateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(rateLimitPerMin, time.Minute))
		}
		r.Post("/", app.SubmitJob)
		r.Get("/{id}", app.GetJobStatus)
	})

	r.Route("/v1/users/{userId}", func(r chi.Router) {
		r.Get("/jobs", app.ListUserJobs)
		r.Get("/updates", app.LiveUpdates)
	})

	return r
}
