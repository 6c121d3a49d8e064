package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
)

// JobQueue is the slice of the durable queue the runtime drives.
type JobQueue interface {
	Claim(ctx context.Context, workerID string) (queue.Record, error)
	Ack(ctx context.Context, jobID string, resultJSON []byte) error
	Fail(ctx context.Context, rec queue.Record, errMsg string, retryable bool) error
}

// Runtime pulls jobs from the queue and runs them through the timeout
// handler and processor with bounded concurrency. The queue guarantees a
// job is leased by exactly one worker, so no per-job state is shared
// between workers.
type Runtime struct {
	queue       JobQueue
	timeout     *TimeoutHandler
	processor   *Processor
	integrator  *Integrator
	metrics     *metrics.Collector
	logger      zerolog.Logger
	concurrency int
	pollEvery   time.Duration

	// Per-job timeout overrides (prompt option "timeout_ms") only apply
	// when enabled; the explicit per-call override still wins.
	perJobOverrides bool

	mu         sync.Mutex
	running    bool
	stopClaims context.CancelFunc
	stopJobs   context.CancelFunc
	wg         sync.WaitGroup
	sigCh      chan os.Signal
}

func NewRuntime(q JobQueue, timeout *TimeoutHandler, processor *Processor, integrator *Integrator, collector *metrics.Collector, logger zerolog.Logger, concurrency int, pollEvery time.Duration, perJobOverrides bool) *Runtime {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &Runtime{
		queue:           q,
		timeout:         timeout,
		processor:       processor,
		integrator:      integrator,
		metrics:         collector,
		logger:          logger,
		concurrency:     concurrency,
		pollEvery:       pollEvery,
		perJobOverrides: perJobOverrides,
	}
}

// Start launches the worker pool and installs shutdown-signal handling.
// Claiming and execution run under separate contexts so a drain can stop
// the former without aborting the latter.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	if rt.running {
		rt.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	claimCtx, stopClaims := context.WithCancel(context.Background())
	jobCtx, stopJobs := context.WithCancel(context.Background())
	rt.stopClaims = stopClaims
	rt.stopJobs = stopJobs
	rt.running = true
	rt.sigCh = make(chan os.Signal, 1)
	signal.Notify(rt.sigCh, os.Interrupt, syscall.SIGTERM)
	rt.mu.Unlock()

	for i := 0; i < rt.concurrency; i++ {
		workerID := "worker-" + uuid.NewString()[:8]
		rt.wg.Add(1)
		go rt.runLoop(claimCtx, jobCtx, workerID)
	}

	go func() {
		select {
		case sig, ok := <-rt.sigCh:
			if !ok {
				return
			}
			rt.logger.Info().Str("signal", sig.String()).Msg("runtime: shutdown signal received")
			_ = rt.Stop()
		case <-claimCtx.Done():
		}
	}()

	rt.logger.Info().Int("concurrency", rt.concurrency).Msg("runtime: started")
	return nil
}

// Stop drains the pool: no new jobs are claimed, in-flight jobs run to
// their Ack or Fail (each is already bounded by the execution deadline,
// so the wait terminates), then resources are released. Stopping a
// runtime that is not running is an error.
func (rt *Runtime) Stop() error {
	rt.mu.Lock()
	if !rt.running {
		rt.mu.Unlock()
		return domain.ErrNotRunning
	}
	rt.running = false
	stopClaims := rt.stopClaims
	stopJobs := rt.stopJobs
	sigCh := rt.sigCh
	rt.mu.Unlock()

	signal.Stop(sigCh)
	stopClaims()
	rt.wg.Wait()
	stopJobs()
	rt.logger.Info().Msg("runtime: stopped")
	return nil
}

// IsRunning reports whether the pool is accepting work.
func (rt *Runtime) IsRunning() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.running
}

func (rt *Runtime) runLoop(claimCtx, jobCtx context.Context, workerID string) {
	defer rt.wg.Done()
	log := rt.logger.With().Str("worker_id", workerID).Logger()
	log.Info().Msg("runtime: worker started")

	for {
		select {
		case <-claimCtx.Done():
			log.Info().Msg("runtime: worker stopped")
			return
		default:
		}

		rec, err := rt.queue.Claim(claimCtx, workerID)
		if err != nil {
			if errors.Is(err, domain.ErrQueueEmpty) {
				rt.sleep(claimCtx, rt.pollEvery)
				continue
			}
			if claimCtx.Err() != nil {
				continue
			}
			// Connectivity trouble is logged, not fatal to the process.
			log.Error().Err(err).Msg("runtime: claim failed")
			rt.sleep(claimCtx, rt.pollEvery)
			continue
		}

		// The job context outlives a Stop call: a claimed job is drained to
		// its Ack or Fail rather than aborted and charged a retry.
		rt.handle(jobCtx, log, rec)
	}
}

func (rt *Runtime) handle(ctx context.Context, log zerolog.Logger, rec queue.Record) {
	log.Info().Str("job_id", rec.ID).Int("attempts", rec.Attempts).
		Msg("runtime: job waiting -> active")
	rt.integrator.BroadcastStateChange(rec.ID, rec.UserID, domain.JobStatusPending, domain.JobStatusProcessing)
	if rec.Attempts > 0 {
		rt.metrics.JobRetried()
	}

	result, err := rt.timeout.Execute(ctx, rec.ID, rt.overrideFor(rec), func(execCtx context.Context) (*domain.GenerationResult, error) {
		return rt.processor.Process(execCtx, rec)
	})
	if err != nil {
		retryable := domain.Retryable(err)
		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) {
			rt.metrics.JobTimedOut()
		}
		log.Error().Err(err).Str("job_id", rec.ID).Bool("retryable", retryable).
			Msg("runtime: job failed")
		rt.metrics.JobFailed()
		// The failure is handed to the queue's retry/backoff policy
		// untouched; classification decides whether it reschedules.
		if failErr := rt.queue.Fail(context.WithoutCancel(ctx), rec, err.Error(), retryable); failErr != nil {
			log.Error().Err(failErr).Str("job_id", rec.ID).Msg("runtime: recording failure failed")
		}
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("runtime: encode result failed")
		_ = rt.queue.Fail(context.WithoutCancel(ctx), rec, "encode result: "+err.Error(), false)
		return
	}
	if err := rt.queue.Ack(context.WithoutCancel(ctx), rec.ID, resultJSON); err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("runtime: ack failed")
		return
	}
	log.Info().Str("job_id", rec.ID).Msg("runtime: job active -> completed")
}

// overrideFor resolves the per-job timeout override when enabled.
func (rt *Runtime) overrideFor(rec queue.Record) time.Duration {
	if !rt.perJobOverrides {
		return 0
	}
	prompt, err := domain.UnmarshalPrompt(rec.PromptJSON)
	if err != nil {
		return 0
	}
	if raw, ok := prompt.Options["timeout_ms"]; ok {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

func (rt *Runtime) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
