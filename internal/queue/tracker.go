package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
)

// Tracker maps native queue records to the domain status model callers see.
// Absence of a job is a normal, reportable outcome, not an error.
type Tracker struct {
	queue  *Queue
	logger zerolog.Logger
}

func NewTracker(q *Queue, logger zerolog.Logger) *Tracker {
	return &Tracker{queue: q, logger: logger}
}

// GetJobStatus returns the domain view of a job, or found=false when no
// such job exists. Errors are reserved for actual system failures so that
// callers can distinguish "not found" from "status unavailable".
func (t *Tracker) GetJobStatus(ctx context.Context, jobID string) (*domain.QueueJob, bool, error) {
	rec, err := t.queue.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	job := MapRecord(rec)
	return &job, true, nil
}

// GetUserJobs returns the domain view of a user's recent jobs.
func (t *Tracker) GetUserJobs(ctx context.Context, userID string, limit int) ([]domain.QueueJob, error) {
	recs, err := t.queue.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.QueueJob, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, MapRecord(rec))
	}
	return jobs, nil
}

// QueueMetrics aggregates native counts plus the dead-letter size.
type QueueMetrics struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`
}

// GetQueueMetrics reports aggregate job counts including DLQ size.
func (t *Tracker) GetQueueMetrics(ctx context.Context) (QueueMetrics, error) {
	c, err := t.queue.Counts(ctx)
	if err != nil {
		return QueueMetrics{}, err
	}
	return QueueMetrics{
		Pending:    c.Pending,
		Processing: c.Processing,
		Completed:  c.Completed,
		Failed:     c.Failed,
		DeadLetter: c.Dead,
	}, nil
}

// MapRecord derives the domain job from a native record.
//
// Status precedence: finished with a result is COMPLETED; finished with a
// failure and an exhausted retry budget is FAILED; unfinished with prior
// failed attempts is RETRYING; started is PROCESSING; otherwise PENDING.
//
// Progress: COMPLETED always reports 100. FAILED keeps the last known
// progress rather than resetting to zero. Everything else reports the
// stored value.
func MapRecord(rec Record) domain.QueueJob {
	job := domain.QueueJob{
		ID:           rec.ID,
		UserID:       rec.UserID,
		CacheKey:     rec.CacheKey,
		Progress:     rec.Progress,
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.FinishedAt,
		RetryCount:   rec.Attempts,
		ErrorMessage: rec.ErrorMessage,
	}

	if prompt, err := domain.UnmarshalPrompt(rec.PromptJSON); err == nil {
		job.StructuredPrompt = prompt
	}
	if len(rec.ResultJSON) > 0 {
		var result domain.GenerationResult
		if err := json.Unmarshal(rec.ResultJSON, &result); err == nil {
			job.Result = &result
		}
	}

	switch {
	case rec.Finished() && job.Result != nil:
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
	case rec.Finished() && rec.ErrorMessage != "" && (rec.Dead || rec.Attempts >= rec.MaxRetries+1):
		// Dead covers jobs killed early by a non-retryable failure, before
		// the retry budget was spent.
		job.Status = domain.JobStatusFailed
	case !rec.Finished() && rec.Attempts > 0:
		job.Status = domain.JobStatusRetrying
	case !rec.Finished() && rec.StartedAt != nil:
		job.Status = domain.JobStatusProcessing
	default:
		job.Status = domain.JobStatusPending
	}
	return job
}
