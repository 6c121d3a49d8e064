package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
	"spriteforge/internal/submit"
)

type fakeTracker struct {
	jobs    map[string]*domain.QueueJob
	userJob []domain.QueueJob
	err     error
	gauges  queue.QueueMetrics
}

func (f *fakeTracker) GetJobStatus(_ context.Context, jobID string) (*domain.QueueJob, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	job, ok := f.jobs[jobID]
	return job, ok, nil
}

func (f *fakeTracker) GetUserJobs(context.Context, string, int) ([]domain.QueueJob, error) {
	return f.userJob, f.err
}

func (f *fakeTracker) GetQueueMetrics(context.Context) (queue.QueueMetrics, error) {
	return f.gauges, f.err
}

type fakeSubmitter struct {
	receipt submit.Receipt
	err     error
}

func (f *fakeSubmitter) Submit(context.Context, submit.Request) (submit.Receipt, error) {
	return f.receipt, f.err
}

type fakeHealth struct {
	status domain.HealthStatus
}

func (f *fakeHealth) Check(context.Context) domain.HealthStatus { return f.status }

func newTestApp(submitter Submitter, tracker StatusReader, healthChecker HealthChecker) *App {
	return NewApp(submitter, tracker, healthChecker, metrics.NewCollector(), nil, zerolog.Nop())
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestSubmitJobResponses(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		receipt  submit.Receipt
		err      error
		wantCode int
	}{
		{
			name:     "accepted",
			body:     `{"userId":"user-1","structuredPrompt":{"type":"character","size":{"width":32,"height":32}}}`,
			receipt:  submit.Receipt{JobID: "job-1", Status: domain.JobStatusPending},
			wantCode: http.StatusAccepted,
		},
		{
			name:     "capacity rejection is 503",
			body:     `{"userId":"user-1","structuredPrompt":{"type":"character","size":{"width":32,"height":32}}}`,
			err:      &domain.CapacityError{CurrentSize: 500, Limit: 500},
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "validation failure is 400",
			body:     `{"userId":"","structuredPrompt":{"type":"character"}}`,
			err:      &domain.ValidationError{Field: "userId", Reason: "missing"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "duplicate is 409",
			body:     `{"userId":"user-1","structuredPrompt":{"type":"character","size":{"width":32,"height":32}}}`,
			err:      domain.ErrDuplicate,
			wantCode: http.StatusConflict,
		},
		{
			name:     "malformed body is 400",
			body:     `{not json`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeSubmitter{receipt: tt.receipt, err: tt.err}, &fakeTracker{}, &fakeHealth{})

			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			app.SubmitJob(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestSubmitJobCapacityBodyCarriesSizes(t *testing.T) {
	app := newTestApp(&fakeSubmitter{err: &domain.CapacityError{CurrentSize: 500, Limit: 500}}, &fakeTracker{}, &fakeHealth{})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs",
		strings.NewReader(`{"userId":"user-1","structuredPrompt":{"type":"character","size":{"width":32,"height":32}}}`))
	rr := httptest.NewRecorder()
	app.SubmitJob(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["currentQueueSize"] != float64(500) || body["maxQueueSize"] != float64(500) {
		t.Fatalf("body = %v", body)
	}
}

func TestGetJobStatus(t *testing.T) {
	started := time.Now()
	tracker := &fakeTracker{jobs: map[string]*domain.QueueJob{
		"job-1": {
			ID:        "job-1",
			UserID:    "user-1",
			Status:    domain.JobStatusProcessing,
			Progress:  42,
			StartedAt: &started,
		},
	}}
	app := newTestApp(&fakeSubmitter{}, tracker, &fakeHealth{})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil), "id", "job-1")
	rr := httptest.NewRecorder()
	app.GetJobStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["jobId"] != "job-1" || body["progress"] != float64(42) {
		t.Fatalf("body = %v", body)
	}

	// Unknown jobs are 404, not 500.
	req = withURLParam(httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil), "id", "missing")
	rr = httptest.NewRecorder()
	app.GetJobStatus(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		state    domain.HealthState
		wantCode int
	}{
		{state: domain.HealthHealthy, wantCode: http.StatusOK},
		{state: domain.HealthDegraded, wantCode: http.StatusServiceUnavailable},
		{state: domain.HealthUnhealthy, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			app := newTestApp(&fakeSubmitter{}, &fakeTracker{}, &fakeHealth{
				status: domain.HealthStatus{Status: tt.state},
			})

			rr := httptest.NewRecorder()
			app.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	app := newTestApp(&fakeSubmitter{}, &fakeTracker{gauges: queue.QueueMetrics{Pending: 3}}, &fakeHealth{})
	app.Metrics.JobSubmitted()

	rr := httptest.NewRecorder()
	app.MetricsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if snap.Submitted != 1 || snap.Queue.Pending != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
