package submit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"spriteforge/internal/admission"
	"spriteforge/internal/domain"
	"spriteforge/internal/metrics"
	"spriteforge/internal/queue"
)

type stubExecutor struct {
	execs int
}

func (s *stubExecutor) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	s.execs++
	return pgconn.NewCommandTag("INSERT 1"), nil
}

func (s *stubExecutor) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: pgx.ErrNoRows}
}

func (s *stubExecutor) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type stubCounts struct {
	counts queue.Counts
	err    error
}

func (s *stubCounts) Counts(context.Context) (queue.Counts, error) { return s.counts, s.err }

type stubLocker struct {
	err error
}

func (l *stubLocker) Obtain(context.Context, string, time.Duration, *redislock.Options) (*redislock.Lock, error) {
	return nil, l.err
}

func newTestService(pending int, locker Locker) (*Service, *stubExecutor) {
	db := &stubExecutor{}
	q := queue.New(db, zerolog.Nop(), 3, 30*time.Second)
	tracker := queue.NewTracker(q, zerolog.Nop())
	mon := admission.NewMonitor(&stubCounts{counts: queue.Counts{Pending: pending}}, zerolog.Nop(), time.Second, 400, 500)
	ctrl := admission.NewController(mon, zerolog.Nop(), 500, 400, 60, 4)
	svc := NewService(ctrl, q, tracker, locker, metrics.NewCollector(), zerolog.Nop(), time.Second, 0)
	return svc, db
}

func validRequest() Request {
	return Request{
		UserID: "user-1",
		Prompt: domain.StructuredPrompt{
			Type: "character",
			Size: domain.SpriteSize{Width: 32, Height: 32},
		},
	}
}

func TestSubmitAcceptsAndEnqueues(t *testing.T) {
	svc, db := newTestService(0, nil)

	receipt, err := svc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.JobID == "" || receipt.Status != domain.JobStatusPending {
		t.Fatalf("receipt = %+v", receipt)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(receipt.CacheKey) {
		t.Fatalf("cache key %q is not 64 hex chars", receipt.CacheKey)
	}
	if receipt.Warning != nil {
		t.Fatalf("unexpected warning on an empty queue: %+v", receipt.Warning)
	}
	if db.execs != 1 {
		t.Fatalf("enqueue execs = %d, want 1", db.execs)
	}
}

func TestSubmitWarnsWhenBusy(t *testing.T) {
	svc, _ := newTestService(450, nil)

	receipt, err := svc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Warning == nil {
		t.Fatalf("expected a busy-queue warning")
	}
	if receipt.Warning.EstimatedWaitSeconds != 6750 {
		t.Fatalf("EstimatedWaitSeconds = %d, want 6750", receipt.Warning.EstimatedWaitSeconds)
	}
	if !receipt.Warning.CanProceed {
		t.Fatalf("warning must not block the submission")
	}
}

func TestSubmitRejectsAtCapacity(t *testing.T) {
	svc, db := newTestService(500, nil)

	_, err := svc.Submit(context.Background(), validRequest())
	var capErr *domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("error = %v, want CapacityError", err)
	}
	if db.execs != 0 {
		t.Fatalf("rejected submission must not enqueue, execs = %d", db.execs)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(0, nil)

	req := validRequest()
	req.UserID = ""
	if _, err := svc.Submit(context.Background(), req); err == nil {
		t.Fatalf("expected a validation error for a missing user")
	}

	req = validRequest()
	req.Prompt.Size.Width = 0
	_, err := svc.Submit(context.Background(), req)
	var valErr *domain.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestSubmitCollapsesDuplicates(t *testing.T) {
	svc, db := newTestService(0, &stubLocker{err: redislock.ErrNotObtained})

	_, err := svc.Submit(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("error = %v, want ErrDuplicate", err)
	}
	if db.execs != 0 {
		t.Fatalf("duplicate must not enqueue, execs = %d", db.execs)
	}
}

func TestSubmitContinuesWhenLockInfraIsDown(t *testing.T) {
	svc, db := newTestService(0, &stubLocker{err: errors.New("redis down")})

	receipt, err := svc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.JobID == "" || db.execs != 1 {
		t.Fatalf("submission should proceed without the dedup lock")
	}
}
