package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spriteforge/internal/cache"
	"spriteforge/internal/domain"
	"spriteforge/internal/genapi"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
	"spriteforge/internal/sprite"
)

// ResultCache is the slice of the tiered cache the processor needs.
type ResultCache interface {
	Get(ctx context.Context, key string) cache.Lookup
	Set(ctx context.Context, key string, entry *domain.CacheEntry)
}

// Processor orchestrates one job's full lifecycle: validate, submit, poll,
// decode, cache, notify. Every stage failure is classified before being
// rethrown so the queue's retry policy can act on the retryable flag.
type Processor struct {
	api        genapi.Client
	cache      ResultCache
	sink       ProgressSink
	integrator *Integrator
	metrics    *metrics.Collector
	logger     zerolog.Logger
	cacheTTL   time.Duration
	now        func() time.Time
}

func NewProcessor(api genapi.Client, resultCache ResultCache, sink ProgressSink, integrator *Integrator, collector *metrics.Collector, logger zerolog.Logger, cacheTTL time.Duration) *Processor {
	if cacheTTL <= 0 {
		cacheTTL = 30 * 24 * time.Hour
	}
	return &Processor{
		api:        api,
		cache:      resultCache,
		sink:       sink,
		integrator: integrator,
		metrics:    collector,
		logger:     logger,
		cacheTTL:   cacheTTL,
		now:        time.Now,
	}
}

// Process runs the job and returns its result. The cache short-circuit
// path completes the job without contacting the external service at all.
func (p *Processor) Process(ctx context.Context, rec queue.Record) (*domain.GenerationResult, error) {
	log := p.logger.With().Str("job_id", rec.ID).Str("user_id", rec.UserID).Logger()
	started := p.now()

	prompt, err := p.validate(rec)
	if err != nil {
		return nil, p.fail(log, "validate", err)
	}

	if result, ok := p.tryCache(ctx, log, rec); ok {
		return result, nil
	}
	p.metrics.CacheMiss()

	request := genapi.MapPrompt(prompt)
	log.Debug().Str("sprite_type", request.SpriteType).
		Int("width", request.Width).Int("height", request.Height).
		Msg("processor: submitting to generation service")

	submitted, err := p.api.Submit(ctx, request)
	if err != nil {
		return nil, p.fail(log, "submit", err)
	}
	log.Info().Str("external_id", submitted.ExternalID).Msg("processor: job submitted")
	p.advance(ctx, log, rec.ID, progressSubmitted)

	final, err := p.integrator.TrackProgress(ctx, rec.ID, rec.UserID, submitted.ExternalID, func(pollCtx context.Context) (genapi.PollResult, error) {
		return p.api.Poll(pollCtx, submitted.ExternalID)
	})
	if err != nil {
		return nil, p.fail(log, "poll", err)
	}

	if len(final.Frames) == 0 {
		return nil, p.fail(log, "result", &domain.ValidationError{
			Field:  "result",
			Reason: "generation service returned an empty result payload",
		})
	}

	frames, err := sprite.DecodeFrames(final.Frames, prompt.Size.Width, prompt.Size.Height)
	if err != nil {
		return nil, p.fail(log, "decode", err)
	}

	result := &domain.GenerationResult{
		Frames:           frames,
		FrameCount:       len(frames),
		Width:            prompt.Size.Width,
		Height:           prompt.Size.Height,
		GenerationTimeMs: p.now().Sub(started).Milliseconds(),
		CacheHit:         false,
		ExternalID:       submitted.ExternalID,
	}
	p.advance(ctx, log, rec.ID, progressDecoded)

	// Cache-write failure must not fail the job: generation already
	// succeeded. TieredCache logs and degrades internally.
	now := p.now()
	p.cache.Set(ctx, rec.CacheKey, &domain.CacheEntry{
		CacheKey:         rec.CacheKey,
		UserID:           rec.UserID,
		StructuredPrompt: prompt,
		Result:           *result,
		CreatedAt:        now,
		ExpiresAt:        now.Add(p.cacheTTL),
		LastAccessedAt:   now,
	})

	p.advance(ctx, log, rec.ID, 100)
	p.integrator.BroadcastCompletion(rec.ID, rec.UserID, result)
	p.metrics.JobCompleted()
	log.Info().Int("frames", result.FrameCount).
		Int64("generation_ms", result.GenerationTimeMs).
		Msg("processor: job completed")
	return result, nil
}

// validate checks the payload the pipeline depends on and decodes the
// stored prompt. Failures are fatal, never retried.
func (p *Processor) validate(rec queue.Record) (domain.StructuredPrompt, error) {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return domain.StructuredPrompt{}, &domain.ValidationError{Field: "jobId", Reason: "missing"}
	case strings.TrimSpace(rec.UserID) == "":
		return domain.StructuredPrompt{}, &domain.ValidationError{Field: "userId", Reason: "missing"}
	case strings.TrimSpace(rec.CacheKey) == "":
		return domain.StructuredPrompt{}, &domain.ValidationError{Field: "cacheKey", Reason: "missing"}
	case len(rec.PromptJSON) == 0:
		return domain.StructuredPrompt{}, &domain.ValidationError{Field: "structuredPrompt", Reason: "missing"}
	}
	prompt, err := domain.UnmarshalPrompt(rec.PromptJSON)
	if err != nil {
		return domain.StructuredPrompt{}, &domain.ValidationError{Field: "structuredPrompt", Reason: err.Error()}
	}
	if err := prompt.Validate(); err != nil {
		return domain.StructuredPrompt{}, err
	}
	return prompt, nil
}

// tryCache completes the job from a valid cache entry, skipping the
// external call entirely.
func (p *Processor) tryCache(ctx context.Context, log zerolog.Logger, rec queue.Record) (*domain.GenerationResult, bool) {
	lookup := p.cache.Get(ctx, rec.CacheKey)
	if !lookup.Hit {
		return nil, false
	}
	result := lookup.Entry.Result
	result.CacheHit = true
	p.advance(ctx, log, rec.ID, 100)
	p.integrator.BroadcastCompletion(rec.ID, rec.UserID, &result)
	p.metrics.CacheHit()
	p.metrics.JobCompleted()
	log.Info().Str("source", lookup.Source).Msg("processor: served from cache")
	return &result, true
}

func (p *Processor) advance(ctx context.Context, log zerolog.Logger, jobID string, progress int) {
	if err := p.sink.UpdateProgress(ctx, jobID, progress); err != nil {
		log.Warn().Err(err).Int("progress", progress).Msg("processor: progress update failed")
	}
}

// fail logs the classified stage failure and rethrows it wrapped with the
// stage name; the classification survives the wrap for errors.As.
func (p *Processor) fail(log zerolog.Logger, stage string, err error) error {
	log.Error().Err(err).Str("stage", stage).
		Bool("retryable", domain.Retryable(err)).
		Msg("processor: stage failed")
	return fmt.Errorf("%s: %w", stage, err)
}
