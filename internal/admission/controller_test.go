package admission

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/queue"
)

type stubCounts struct {
	counts queue.Counts
	err    error
	calls  int
}

func (s *stubCounts) Counts(context.Context) (queue.Counts, error) {
	s.calls++
	return s.counts, s.err
}

func controllerFor(t *testing.T, pending int, workers int) (*Controller, *stubCounts) {
	t.Helper()
	src := &stubCounts{counts: queue.Counts{Pending: pending}}
	mon := NewMonitor(src, zerolog.Nop(), 0, 400, 500)
	return NewController(mon, zerolog.Nop(), 500, 400, 60, workers), src
}

func TestCheckCapacity(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		workers     int
		wantAllowed bool
		wantWarning bool
		wantWaitSec int
	}{
		{name: "empty queue admits silently", total: 0, workers: 1, wantAllowed: true},
		{name: "below warning admits silently", total: 399, workers: 1, wantAllowed: true},
		{name: "at warning admits with estimate", total: 400, workers: 1, wantAllowed: true, wantWarning: true, wantWaitSec: 24000},
		{name: "busy queue scales by workers", total: 450, workers: 4, wantAllowed: true, wantWarning: true, wantWaitSec: 6750},
		{name: "at capacity rejects", total: 500, workers: 4, wantAllowed: false},
		{name: "over capacity rejects", total: 730, workers: 4, wantAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := controllerFor(t, tt.total, tt.workers)

			dec, err := c.CheckCapacity(context.Background())
			if err != nil {
				t.Fatalf("CheckCapacity: %v", err)
			}
			if dec.Allowed != tt.wantAllowed {
				t.Fatalf("Allowed = %v, want %v", dec.Allowed, tt.wantAllowed)
			}
			if tt.wantWarning != (dec.Warning != nil) {
				t.Fatalf("Warning = %+v, want present=%v", dec.Warning, tt.wantWarning)
			}
			if tt.wantWarning {
				if dec.Warning.EstimatedWaitSeconds != tt.wantWaitSec {
					t.Fatalf("EstimatedWaitSeconds = %d, want %d", dec.Warning.EstimatedWaitSeconds, tt.wantWaitSec)
				}
				if !dec.Warning.CanProceed {
					t.Fatalf("warning must not block the submission")
				}
			}
			if !tt.wantAllowed {
				var capErr *domain.CapacityError
				if !errors.As(dec.Err, &capErr) {
					t.Fatalf("rejection must carry a CapacityError, got %v", dec.Err)
				}
				if capErr.Limit != 500 || capErr.CurrentSize != tt.total {
					t.Fatalf("CapacityError = %+v", capErr)
				}
				if !strings.Contains(strings.ToLower(capErr.Error()), "capacity") {
					t.Fatalf("rejection message should mention capacity: %q", capErr.Error())
				}
			}
		})
	}
}

func TestCheckCapacityPropagatesMetricsFailure(t *testing.T) {
	src := &stubCounts{err: errors.New("connection refused")}
	mon := NewMonitor(src, zerolog.Nop(), 0, 400, 500)
	c := NewController(mon, zerolog.Nop(), 500, 400, 60, 1)

	if _, err := c.CheckCapacity(context.Background()); err == nil {
		t.Fatalf("expected an error when queue depth is unknown")
	}
}

func TestEstimateWaitSecondsRounds(t *testing.T) {
	mon := NewMonitor(&stubCounts{}, zerolog.Nop(), 0, 400, 500)
	c := NewController(mon, zerolog.Nop(), 500, 400, 50, 3)

	// 401 * 50 / 3 = 6683.33..., rounded to nearest.
	if got := c.EstimateWaitSeconds(401); got != 6683 {
		t.Fatalf("EstimateWaitSeconds(401) = %d, want 6683", got)
	}
}
