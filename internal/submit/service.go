package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spriteforge/internal/admission"
	"spriteforge/internal/cache"
	"spriteforge/internal/domain"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
)

// Request is the submission payload.
type Request struct {
	UserID string                  `json:"userId"`
	Prompt domain.StructuredPrompt `json:"structuredPrompt"`
}

// Receipt is returned for an accepted submission.
type Receipt struct {
	JobID    string             `json:"jobId"`
	CacheKey string             `json:"cacheKey"`
	Status   domain.JobStatus   `json:"status"`
	Warning  *admission.Warning `json:"warning,omitempty"`
	// Deduplicated marks a submission collapsed onto an identical job
	// still inside the dedup window.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// Locker is the dedup-window lock contract; *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Service ties admission control to the durable enqueue. The admission
// check stays advisory and non-atomic: the queue enforces real ordering,
// and a rejection moments after another submission passed is accepted
// behavior, not a defect.
type Service struct {
	controller  *admission.Controller
	queue       *queue.Queue
	tracker     *queue.Tracker
	locker      Locker
	metrics     *metrics.Collector
	logger      zerolog.Logger
	dedupWindow time.Duration
	userLimit   int
}

func NewService(controller *admission.Controller, q *queue.Queue, tracker *queue.Tracker, locker Locker, collector *metrics.Collector, logger zerolog.Logger, dedupWindow time.Duration, perUserActiveLimit int) *Service {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Second
	}
	return &Service{
		controller:  controller,
		queue:       q,
		tracker:     tracker,
		locker:      locker,
		metrics:     collector,
		logger:      logger,
		dedupWindow: dedupWindow,
		userLimit:   perUserActiveLimit,
	}
}

// Submit validates, deduplicates and admits one generation request, then
// durably enqueues it as PENDING.
func (s *Service) Submit(ctx context.Context, req Request) (Receipt, error) {
	s.metrics.JobSubmitted()

	if req.UserID == "" {
		return Receipt{}, &domain.ValidationError{Field: "userId", Reason: "missing"}
	}
	if err := req.Prompt.Validate(); err != nil {
		return Receipt{}, err
	}

	cacheKey := cache.KeyForPrompt(req.Prompt, req.UserID)

	// Dedup window: identical concurrent submissions collapse onto the
	// job that won the lock.
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "spriteforge:dedup:"+cacheKey, s.dedupWindow, nil)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				if existing, ok := s.recentDuplicate(ctx, req.UserID, cacheKey); ok {
					s.logger.Info().Str("job_id", existing.ID).Str("cache_key", cacheKey).
						Msg("submit: duplicate within dedup window, reusing job")
					return Receipt{JobID: existing.ID, CacheKey: cacheKey, Status: existing.Status, Deduplicated: true}, nil
				}
				return Receipt{}, domain.ErrDuplicate
			}
			// Lock infrastructure trouble must not block submissions.
			s.logger.Warn().Err(err).Msg("submit: dedup lock unavailable, continuing without it")
		} else {
			// Held for the window; expiry releases it.
			_ = lock
		}
	}

	if s.userLimit > 0 {
		active, err := s.activeJobs(ctx, req.UserID)
		if err != nil {
			return Receipt{}, fmt.Errorf("check user activity: %w", err)
		}
		if active >= s.userLimit {
			s.metrics.JobRejected()
			return Receipt{}, &domain.ValidationError{
				Field:  "userId",
				Reason: fmt.Sprintf("user has %d active jobs (limit %d)", active, s.userLimit),
			}
		}
	}

	decision, err := s.controller.CheckCapacity(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if !decision.Allowed {
		s.metrics.JobRejected()
		return Receipt{}, decision.Err
	}
	s.metrics.JobAdmitted()

	jobID := uuid.NewString()
	promptJSON, err := domain.MarshalPrompt(req.Prompt)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode prompt: %w", err)
	}
	if err := s.queue.Enqueue(ctx, jobID, req.UserID, promptJSON, cacheKey); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		JobID:    jobID,
		CacheKey: cacheKey,
		Status:   domain.JobStatusPending,
		Warning:  decision.Warning,
	}, nil
}

func (s *Service) recentDuplicate(ctx context.Context, userID, cacheKey string) (*domain.QueueJob, bool) {
	jobs, err := s.tracker.GetUserJobs(ctx, userID, 20)
	if err != nil {
		return nil, false
	}
	for i := range jobs {
		if jobs[i].CacheKey == cacheKey && !jobs[i].Status.Terminal() {
			return &jobs[i], true
		}
	}
	return nil, false
}

func (s *Service) activeJobs(ctx context.Context, userID string) (int, error) {
	jobs, err := s.tracker.GetUserJobs(ctx, userID, 100)
	if err != nil {
		return 0, err
	}
	active := 0
	for _, j := range jobs {
		if !j.Status.Terminal() {
			active++
		}
	}
	return active, nil
}
