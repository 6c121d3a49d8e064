package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
)

// ProcessorFunc runs one job to completion under the handler's deadline.
type ProcessorFunc func(ctx context.Context) (*domain.GenerationResult, error)

// TimeoutHandler bounds the execution time of a job. The deadline it
// enforces is timeout+grace: a job finishing essentially at the deadline
// gets to return its real result instead of having the work discarded.
// Past the deadline the execution context is cancelled, but an external
// call already in flight may run to completion remotely; its result is
// simply discarded.
type TimeoutHandler struct {
	defaultTimeout time.Duration
	grace          time.Duration
	logger         zerolog.Logger
}

func NewTimeoutHandler(defaultTimeout, grace time.Duration, logger zerolog.Logger) *TimeoutHandler {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Minute
	}
	if grace < 0 {
		grace = 0
	}
	return &TimeoutHandler{defaultTimeout: defaultTimeout, grace: grace, logger: logger}
}

// Execute runs fn under the effective timeout. Precedence: the explicit
// override (when positive) beats the configured default. On overrun it
// returns a retryable TimeoutError carrying the elapsed time and the
// configured timeout.
func (h *TimeoutHandler) Execute(ctx context.Context, jobID string, override time.Duration, fn ProcessorFunc) (*domain.GenerationResult, error) {
	timeout := h.defaultTimeout
	if override > 0 {
		timeout = override
	}

	start := time.Now()
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *domain.GenerationResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(execCtx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout + h.grace)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		cancel()
		elapsed := time.Since(start)
		h.logger.Warn().Str("job_id", jobID).
			Dur("elapsed", elapsed).Dur("timeout", timeout).
			Msg("pipeline: job exceeded execution deadline")
		return nil, &domain.TimeoutError{JobID: jobID, Elapsed: elapsed, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
