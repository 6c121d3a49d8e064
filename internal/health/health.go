package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/queue"
)

// Pinger probes one dependency's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to the Pinger contract.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// CountsSource supplies queue counts for the capacity check.
type CountsSource interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

// Checker derives service health from the fast tier, the durable tier and
// queue capacity. The whole probe is bounded by a timeout so it can never
// hang callers, and its result is cached briefly to absorb health-check
// storms. Probe failures downgrade the status; they are never propagated.
type Checker struct {
	fastTier    Pinger
	durableTier Pinger
	counts      CountsSource
	logger      zerolog.Logger

	timeout       time.Duration
	cacheWindow   time.Duration
	queueLimit    int
	warnThreshold int
	now           func() time.Time

	mu        sync.Mutex
	cached    domain.HealthStatus
	cachedAt  time.Time
	haveCache bool
}

func NewChecker(fastTier, durableTier Pinger, counts CountsSource, logger zerolog.Logger, timeout, cacheWindow time.Duration, queueLimit, warnThreshold int) *Checker {
	if timeout <= 0 {
		timeout = time.Second
	}
	if cacheWindow <= 0 {
		cacheWindow = 5 * time.Second
	}
	return &Checker{
		fastTier:      fastTier,
		durableTier:   durableTier,
		counts:        counts,
		logger:        logger,
		timeout:       timeout,
		cacheWindow:   cacheWindow,
		queueLimit:    queueLimit,
		warnThreshold: warnThreshold,
		now:           time.Now,
	}
}

// Check returns the current health report, serving the cached one while
// it is fresh.
func (c *Checker) Check(ctx context.Context) domain.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.haveCache && now.Sub(c.cachedAt) < c.cacheWindow {
		return c.cached
	}

	status := c.probe(ctx)
	c.cached = status
	c.cachedAt = now
	c.haveCache = true
	return status
}

func (c *Checker) probe(ctx context.Context) domain.HealthStatus {
	start := c.now()
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		fast  domain.CheckResult
		store domain.CheckResult
		qSize int
		queue domain.CheckResult
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome

		out.fast = domain.CheckUp
		if err := c.fastTier.Ping(probeCtx); err != nil {
			c.logger.Warn().Err(err).Msg("health: fast tier probe failed")
			out.fast = domain.CheckDown
		}

		out.store = domain.CheckUp
		if err := c.durableTier.Ping(probeCtx); err != nil {
			c.logger.Warn().Err(err).Msg("health: durable tier probe failed")
			out.store = domain.CheckDown
		}

		out.queue = domain.CheckUp
		counts, err := c.counts.Counts(probeCtx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("health: queue probe failed")
			out.queue = domain.CheckDown
		} else {
			out.qSize = counts.Pending + counts.Processing
			switch {
			case out.qSize >= c.queueLimit:
				out.queue = domain.CheckFull
			case out.qSize >= c.warnThreshold:
				out.queue = domain.CheckWarning
			}
		}
		done <- out
	}()

	status := domain.HealthStatus{
		Timestamp: start,
		Checks:    map[string]domain.CheckResult{},
		Details:   domain.HealthDetails{QueueLimit: c.queueLimit},
	}

	select {
	case <-probeCtx.Done():
		// Conservative: a probe that cannot answer in time is unhealthy.
		status.Status = domain.HealthUnhealthy
		status.Checks["fastTier"] = domain.CheckDown
		status.Checks["durableTier"] = domain.CheckDown
		status.Checks["queue"] = domain.CheckDown
		status.Details.ResponseTimeMs = c.now().Sub(start).Milliseconds()
		c.logger.Error().Dur("timeout", c.timeout).Msg("health: probe timed out")
		return status
	case out := <-done:
		status.Checks["fastTier"] = out.fast
		status.Checks["durableTier"] = out.store
		status.Checks["queue"] = out.queue
		status.Details.QueueSize = out.qSize
		status.Details.ResponseTimeMs = c.now().Sub(start).Milliseconds()
		status.Status = classify(out.fast, out.store, out.queue)
		return status
	}
}

// classify: unhealthy when the fast tier is down or the queue is full;
// degraded when the durable tier is down or the queue is at warning level;
// healthy otherwise.
func classify(fast, store, q domain.CheckResult) domain.HealthState {
	if fast == domain.CheckDown || q == domain.CheckFull {
		return domain.HealthUnhealthy
	}
	if store == domain.CheckDown || q == domain.CheckWarning || q == domain.CheckDown {
		return domain.HealthDegraded
	}
	return domain.HealthHealthy
}
