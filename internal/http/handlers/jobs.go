package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"spriteforge/internal/domain"
	"spriteforge/internal/submit"
)

// SubmitJob accepts a generation request, runs it through admission and
// enqueues it. Capacity rejections come back as 503 with the reason;
// validation problems as 400.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submit.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := a.Submitter.Submit(r.Context(), req)
	if err != nil {
		var capErr *domain.CapacityError
		var valErr *domain.ValidationError
		switch {
		case errors.As(err, &capErr):
			a.json(w, http.StatusServiceUnavailable, map[string]any{
				"error":            capErr.Error(),
				"currentQueueSize": capErr.CurrentSize,
				"maxQueueSize":     capErr.Limit,
			})
		case errors.As(err, &valErr):
			a.jsonError(w, http.StatusBadRequest, valErr.Error())
		case errors.Is(err, domain.ErrDuplicate):
			a.jsonError(w, http.StatusConflict, "identical request already in flight")
		default:
			a.Logger.Error().Err(err).Msg("handlers: submit failed")
			a.jsonError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	a.json(w, http.StatusAccepted, receipt)
}

// GetJobStatus reports one job. Absence is 404, distinct from 500.
func (a *App) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, found, err := a.Tracker.GetJobStatus(r.Context(), jobID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: status lookup failed")
		a.jsonError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	if !found {
		a.jsonError(w, http.StatusNotFound, "job not found")
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// ListUserJobs reports the user's recent jobs.
func (a *App) ListUserJobs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := a.Tracker.GetUserJobs(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: user jobs lookup failed")
		a.jsonError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views})
}

// LiveUpdates upgrades to a websocket feed of the user's job progress.
func (a *App) LiveUpdates(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		a.jsonError(w, http.StatusBadRequest, "userId required")
		return
	}
	a.Hub.ServeWS(w, r, userID)
}

// jobView shapes the response; frame payloads are summarized, not inlined.
func jobView(job *domain.QueueJob) map[string]any {
	view := map[string]any{
		"jobId":     job.ID,
		"userId":    job.UserID,
		"status":    job.Status,
		"progress":  job.Progress,
		"cacheKey":  job.CacheKey,
		"createdAt": job.CreatedAt,
		"retries":   job.RetryCount,
	}
	if job.StartedAt != nil {
		view["startedAt"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		view["completedAt"] = job.CompletedAt
	}
	if job.ErrorMessage != "" {
		view["error"] = job.ErrorMessage
	}
	if job.Result != nil {
		view["result"] = map[string]any{
			"frameCount":       job.Result.FrameCount,
			"width":            job.Result.Width,
			"height":           job.Result.Height,
			"generationTimeMs": job.Result.GenerationTimeMs,
			"cacheHit":         job.Result.CacheHit,
			"externalId":       job.Result.ExternalID,
		}
	}
	return view
}
