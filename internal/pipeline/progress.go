package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/genapi"
	"spriteforge/internal/live"
)

// The external execution stage owns the 10..90 slice of overall progress;
// submission and result handling own the edges.
const (
	progressSubmitted = 10
	progressDecoded   = 90
)

// Broadcaster pushes live updates to a user's listeners. Implementations
// must be best-effort and non-blocking; *live.Hub satisfies it.
type Broadcaster interface {
	Broadcast(userID string, update live.Update)
}

// ProgressSink persists job progress; *queue.Queue satisfies it.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, jobID string, progress int) error
}

// PollFunc fetches the current external status of a remote job.
type PollFunc func(ctx context.Context) (genapi.PollResult, error)

// Integrator polls external progress on a fixed interval, remaps it into
// the overall progress window, persists it, and pushes live updates.
type Integrator struct {
	sink      ProgressSink
	broadcast Broadcaster
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewIntegrator(sink ProgressSink, broadcast Broadcaster, interval time.Duration, logger zerolog.Logger) *Integrator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Integrator{sink: sink, broadcast: broadcast, interval: interval, logger: logger, now: time.Now}
}

// MapExternalProgress remaps external 0..100 linearly into the overall
// window reserved for the external execution stage.
func MapExternalProgress(external int) int {
	if external < 0 {
		external = 0
	}
	if external > 100 {
		external = 100
	}
	return progressSubmitted + external*(progressDecoded-progressSubmitted)/100
}

// TrackProgress polls until the external status reports a terminal state
// or ctx ends. Poll failures are non-fatal: the last known progress is
// retained and still broadcast so listeners see a heartbeat; the job is
// never aborted because a progress poll failed. A poll that succeeds but
// reports the remote job itself failed is terminal and surfaces as a
// final error. The final poll result (which carries the payload) is
// returned.
func (i *Integrator) TrackProgress(ctx context.Context, jobID, userID, externalID string, poll PollFunc) (genapi.PollResult, error) {
	started := i.now()
	var last genapi.PollResult

	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for {
		result, err := poll(ctx)
		if err != nil {
			i.logger.Warn().Err(err).Str("job_id", jobID).Str("external_id", externalID).
				Msg("pipeline: progress poll failed, keeping last known progress")
			i.push(ctx, jobID, userID, started, last)
		} else {
			last = result
			if last.Failed() {
				msg := last.Message
				if msg == "" {
					msg = "remote job reported status " + last.Status
				}
				return last, &domain.ExternalServiceError{
					Subtype: domain.ExternalFailed,
					Err:     errors.New(msg),
				}
			}
			i.push(ctx, jobID, userID, started, last)
			if last.Done() {
				return last, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (i *Integrator) push(ctx context.Context, jobID, userID string, started time.Time, last genapi.PollResult) {
	overall := MapExternalProgress(last.Progress)
	if err := i.sink.UpdateProgress(ctx, jobID, overall); err != nil {
		i.logger.Warn().Err(err).Str("job_id", jobID).Msg("pipeline: progress persist failed")
	}

	update := live.Update{
		JobID:     jobID,
		Status:    domain.JobStatusProcessing,
		Progress:  overall,
		Message:   last.Message,
		Timestamp: i.now(),
	}
	if remaining, ok := i.estimateRemaining(started, last.Progress); ok {
		update.EstimatedTimeRemaining = &remaining
	}
	i.send(userID, update)
}

// estimateRemaining projects seconds left from the elapsed-vs-completed
// ratio. Unknown until the external side reports any progress.
func (i *Integrator) estimateRemaining(started time.Time, external int) (int, bool) {
	if external <= 0 || external >= 100 {
		return 0, false
	}
	elapsed := i.now().Sub(started)
	total := time.Duration(float64(elapsed) * 100 / float64(external))
	return int((total - elapsed).Seconds()), true
}

// BroadcastStateChange announces a job lifecycle transition. Best-effort.
func (i *Integrator) BroadcastStateChange(jobID, userID string, from, to domain.JobStatus) {
	i.send(userID, live.Update{
		JobID:     jobID,
		Status:    to,
		Message:   string(from) + " -> " + string(to),
		Timestamp: i.now(),
	})
}

// BroadcastCompletion announces the final result. Best-effort.
func (i *Integrator) BroadcastCompletion(jobID, userID string, result *domain.GenerationResult) {
	i.send(userID, live.Update{
		JobID:     jobID,
		Status:    domain.JobStatusCompleted,
		Progress:  100,
		Timestamp: i.now(),
		Result:    result,
	})
}

// send delivers one update; delivery failures must never fail the job, so
// a nil broadcaster is simply a no-op.
func (i *Integrator) send(userID string, update live.Update) {
	if i.broadcast == nil {
		return
	}
	i.broadcast.Broadcast(userID, update)
}
