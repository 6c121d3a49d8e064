package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"spriteforge/internal/queue"
)

// Collector accumulates pipeline counters for external monitoring. All
// methods are nil-safe so instrumented code never has to guard against a
// missing collector.
type Collector struct {
	submitted   atomic.Int64
	admitted    atomic.Int64
	rejected    atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	retried     atomic.Int64
	timeouts    atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	startedAt   time.Time
}

func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

func (c *Collector) JobSubmitted() {
	if c != nil {
		c.submitted.Add(1)
	}
}

func (c *Collector) JobAdmitted() {
	if c != nil {
		c.admitted.Add(1)
	}
}

func (c *Collector) JobRejected() {
	if c != nil {
		c.rejected.Add(1)
	}
}

func (c *Collector) JobCompleted() {
	if c != nil {
		c.completed.Add(1)
	}
}

func (c *Collector) JobFailed() {
	if c != nil {
		c.failed.Add(1)
	}
}

func (c *Collector) JobRetried() {
	if c != nil {
		c.retried.Add(1)
	}
}

func (c *Collector) JobTimedOut() {
	if c != nil {
		c.timeouts.Add(1)
	}
}

func (c *Collector) CacheHit() {
	if c != nil {
		c.cacheHits.Add(1)
	}
}

func (c *Collector) CacheMiss() {
	if c != nil {
		c.cacheMisses.Add(1)
	}
}

// Snapshot is the point-in-time metrics report.
type Snapshot struct {
	UptimeSeconds int64              `json:"uptime_seconds"`
	Submitted     int64              `json:"submitted"`
	Admitted      int64              `json:"admitted"`
	Rejected      int64              `json:"rejected"`
	Completed     int64              `json:"completed"`
	Failed        int64              `json:"failed"`
	Retried       int64              `json:"retried"`
	Timeouts      int64              `json:"timeouts"`
	CacheHits     int64              `json:"cache_hits"`
	CacheMisses   int64              `json:"cache_misses"`
	Queue         queue.QueueMetrics `json:"queue"`
}

// CountsSource supplies queue gauges for the snapshot; *queue.Tracker
// satisfies it.
type CountsSource interface {
	GetQueueMetrics(ctx context.Context) (queue.QueueMetrics, error)
}

// Snapshot combines the counters with live queue gauges. A failing gauge
// read leaves the queue section zeroed rather than failing the report.
func (c *Collector) Snapshot(ctx context.Context, source CountsSource) Snapshot {
	if c == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Submitted:     c.submitted.Load(),
		Admitted:      c.admitted.Load(),
		Rejected:      c.rejected.Load(),
		Completed:     c.completed.Load(),
		Failed:        c.failed.Load(),
		Retried:       c.retried.Load(),
		Timeouts:      c.timeouts.Load(),
		CacheHits:     c.cacheHits.Load(),
		CacheMisses:   c.cacheMisses.Load(),
	}
	if source != nil {
		if qm, err := source.GetQueueMetrics(ctx); err == nil {
			snap.Queue = qm
		}
	}
	return snap
}
