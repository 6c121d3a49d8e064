package admission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/queue"
)

// CountsSource supplies native queue counts. *queue.Queue satisfies it.
type CountsSource interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

// ThresholdLevel classifies a queue-depth crossing.
type ThresholdLevel string

const (
	ThresholdWarning  ThresholdLevel = "warning"
	ThresholdCritical ThresholdLevel = "critical"
)

// ThresholdEvent is emitted when a fresh snapshot crosses a threshold.
type ThresholdEvent struct {
	Level     ThresholdLevel
	Total     int
	Threshold int
	Timestamp time.Time
}

// Monitor provides debounced queue-depth snapshots. The last snapshot is
// cached for a short window to bound load on the backing store; each fresh
// snapshot re-arms the threshold flags so repeated breaches in later
// snapshot periods notify again, but at most once per period per level.
type Monitor struct {
	source        CountsSource
	logger        zerolog.Logger
	cacheWindow   time.Duration
	warnThreshold int
	critThreshold int
	now           func() time.Time

	mu              sync.Mutex
	snapshot        domain.QueueSizeMetrics
	snapshotTaken   time.Time
	haveSnapshot    bool
	warningEmitted  bool
	criticalEmitted bool
	subscribers     []chan ThresholdEvent
}

func NewMonitor(source CountsSource, logger zerolog.Logger, cacheWindow time.Duration, warnThreshold, critThreshold int) *Monitor {
	if cacheWindow <= 0 {
		cacheWindow = time.Second
	}
	return &Monitor{
		source:        source,
		logger:        logger,
		cacheWindow:   cacheWindow,
		warnThreshold: warnThreshold,
		critThreshold: critThreshold,
		now:           time.Now,
	}
}

// Subscribe returns a channel of threshold crossings. The api process
// attaches an operator-alert logger to it at startup. Delivery is
// non-blocking; a slow subscriber misses events rather than stalling the
// snapshot path.
func (m *Monitor) Subscribe() <-chan ThresholdEvent {
	ch := make(chan ThresholdEvent, 16)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// GetQueueSize returns the current snapshot, rebuilding it when the cache
// window has lapsed. On a failed rebuild the last good snapshot is served
// (logged as degraded); with no snapshot to fall back on, the error
// propagates.
func (m *Monitor) GetQueueSize(ctx context.Context) (domain.QueueSizeMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.haveSnapshot && now.Sub(m.snapshotTaken) < m.cacheWindow {
		return m.snapshot, nil
	}

	counts, err := m.source.Counts(ctx)
	if err != nil {
		if m.haveSnapshot {
			m.logger.Warn().Err(err).
				Time("snapshot_at", m.snapshotTaken).
				Msg("monitor: count query failed, serving last good snapshot")
			return m.snapshot, nil
		}
		return domain.QueueSizeMetrics{}, err
	}

	m.snapshot = domain.QueueSizeMetrics{
		Total:      counts.Pending + counts.Processing,
		Pending:    counts.Pending,
		Processing: counts.Processing,
		Completed:  counts.Completed,
		Failed:     counts.Failed,
		Timestamp:  now,
	}
	m.snapshotTaken = now
	m.haveSnapshot = true

	// Fresh snapshot: re-arm so this period can notify once per level.
	m.warningEmitted = false
	m.criticalEmitted = false
	m.evaluateThresholdsLocked(now)

	return m.snapshot, nil
}

// evaluateThresholdsLocked publishes at most one crossing per level per
// snapshot period; critical supersedes warning. Reacting to the event
// (logging, alerting) is the subscriber's job.
func (m *Monitor) evaluateThresholdsLocked(now time.Time) {
	total := m.snapshot.Total
	if total >= m.critThreshold && !m.criticalEmitted {
		m.criticalEmitted = true
		m.publishLocked(ThresholdEvent{Level: ThresholdCritical, Total: total, Threshold: m.critThreshold, Timestamp: now})
		return
	}
	if total >= m.warnThreshold && !m.warningEmitted {
		m.warningEmitted = true
		m.publishLocked(ThresholdEvent{Level: ThresholdWarning, Total: total, Threshold: m.warnThreshold, Timestamp: now})
	}
}

func (m *Monitor) publishLocked(ev ThresholdEvent) {
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
