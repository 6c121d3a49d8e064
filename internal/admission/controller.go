package admission

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
)

// Warning accompanies an admitted submission when the queue is busy.
type Warning struct {
	CurrentQueueSize     int    `json:"currentQueueSize"`
	Threshold            int    `json:"threshold"`
	EstimatedWaitSeconds int    `json:"estimatedWaitTime"`
	CanProceed           bool   `json:"canProceed"`
	Message              string `json:"message"`
}

// Decision is the advisory admission outcome.
type Decision struct {
	Allowed bool
	Warning *Warning
	Err     error
}

// Controller decides whether to accept new work before committing
// resources to it. The check is point-in-time and non-atomic by design:
// the durable enqueue that follows may race with other submissions, and
// the queue itself still enforces ordering. Callers get advisory
// feedback, not a capacity guarantee.
type Controller struct {
	monitor       *Monitor
	logger        zerolog.Logger
	maxQueueSize  int
	warnThreshold int
	avgJobSeconds float64
	workerCount   int
}

func NewController(monitor *Monitor, logger zerolog.Logger, maxQueueSize, warnThreshold int, avgJobSeconds float64, workerCount int) *Controller {
	if workerCount < 1 {
		workerCount = 1
	}
	if avgJobSeconds <= 0 {
		avgJobSeconds = 60
	}
	return &Controller{
		monitor:       monitor,
		logger:        logger,
		maxQueueSize:  maxQueueSize,
		warnThreshold: warnThreshold,
		avgJobSeconds: avgJobSeconds,
		workerCount:   workerCount,
	}
}

// CheckCapacity reads a fresh queue-depth snapshot and applies the
// admission policy. A metrics read failure propagates: unknown capacity
// means the submission cannot safely be admitted.
func (c *Controller) CheckCapacity(ctx context.Context) (Decision, error) {
	metrics, err := c.monitor.GetQueueSize(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read queue metrics: %w", err)
	}

	total := metrics.Total
	if total >= c.maxQueueSize {
		capErr := &domain.CapacityError{CurrentSize: total, Limit: c.maxQueueSize}
		c.logger.Warn().Int("total", total).Int("limit", c.maxQueueSize).
			Msg("admission: submission rejected, queue at capacity")
		return Decision{Allowed: false, Err: capErr}, nil
	}

	if total >= c.warnThreshold {
		wait := c.EstimateWaitSeconds(total)
		c.logger.Info().Int("total", total).Int("threshold", c.warnThreshold).
			Int("estimated_wait_s", wait).
			Msg("admission: queue busy, admitting with warning")
		return Decision{
			Allowed: true,
			Warning: &Warning{
				CurrentQueueSize:     total,
				Threshold:            c.warnThreshold,
				EstimatedWaitSeconds: wait,
				CanProceed:           true,
				Message: fmt.Sprintf("queue is busy (%d jobs ahead); estimated wait %ds", total, wait),
			},
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// EstimateWaitSeconds projects how long a newly admitted job will wait:
// round(total * averageJobDuration / workerCount).
func (c *Controller) EstimateWaitSeconds(total int) int {
	return int(math.Round(float64(total) * c.avgJobSeconds / float64(c.workerCount)))
}
