package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
)

type execCall struct {
	query string
	args  []any
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error {
	if f == nil {
		return pgx.ErrNoRows
	}
	return f(dest...)
}

type stubExecutor struct {
	execs   []execCall
	execErr error
	rowScan rowFunc
}

func (s *stubExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), s.execErr
}

func (s *stubExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	return s.rowScan
}

func (s *stubExecutor) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestClaimEmptyQueue(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	_, err := q.Claim(context.Background(), "worker-1")
	if !errors.Is(err, domain.ErrQueueEmpty) {
		t.Fatalf("error = %v, want ErrQueueEmpty", err)
	}
}

func TestFailReschedulesRetryableWithBackoff(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	before := time.Now()
	rec := Record{ID: "job-1", Attempts: 0, MaxRetries: 3}
	if err := q.Fail(context.Background(), rec, "boom", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if len(db.execs) != 1 || !strings.Contains(db.execs[0].query, "'RETRYING'") {
		t.Fatalf("execs = %+v, want a retry reschedule", db.execs)
	}
	runAt, ok := db.execs[0].args[2].(time.Time)
	if !ok {
		t.Fatalf("run_at arg = %T", db.execs[0].args[2])
	}
	if runAt.Before(before.Add(4 * time.Second)) {
		t.Fatalf("run_at = %v, want at least 5s of backoff", runAt.Sub(before))
	}
}

func TestFailDeadLettersWhenBudgetExhausted(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	// Fourth failure on a 3-retry budget: 1 initial + 3 retries are spent.
	rec := Record{ID: "job-1", Attempts: 3, MaxRetries: 3}
	if err := q.Fail(context.Background(), rec, "boom", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if len(db.execs) != 1 || !strings.Contains(db.execs[0].query, "dead = true") {
		t.Fatalf("execs = %+v, want a dead-letter update", db.execs)
	}
}

func TestFailDeadLettersNonRetryableImmediately(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	rec := Record{ID: "job-1", Attempts: 0, MaxRetries: 3}
	if err := q.Fail(context.Background(), rec, "invalid prompt", false); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if len(db.execs) != 1 || !strings.Contains(db.execs[0].query, "'FAILED'") {
		t.Fatalf("execs = %+v, want an immediate dead-letter update", db.execs)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 5 * time.Second},
		{attempts: 2, want: 10 * time.Second},
		{attempts: 3, want: 20 * time.Second},
		{attempts: 4, want: 40 * time.Second},
		{attempts: 10, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	if err := q.UpdateProgress(context.Background(), "job-1", 150); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := q.UpdateProgress(context.Background(), "job-1", -5); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	if db.execs[0].args[1] != 100 || db.execs[1].args[1] != 0 {
		t.Fatalf("progress args = %v, %v; want clamped 100 and 0",
			db.execs[0].args[1], db.execs[1].args[1])
	}
}

func TestEnqueueCarriesRetryBudget(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 5, 30*time.Second)

	if err := q.Enqueue(context.Background(), "job-1", "user-1", []byte(`{}`), "key"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := db.execs[0].args[4]; got != 5 {
		t.Fatalf("max_retries arg = %v, want 5", got)
	}
}

func TestCounts(t *testing.T) {
	db := &stubExecutor{rowScan: func(dest ...any) error {
		*dest[0].(*int) = 7
		*dest[1].(*int) = 2
		*dest[2].(*int) = 41
		*dest[3].(*int) = 3
		*dest[4].(*int) = 3
		return nil
	}}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	c, err := q.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.Pending != 7 || c.Processing != 2 || c.Completed != 41 || c.Failed != 3 || c.Dead != 3 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db := &stubExecutor{}
	q := New(db, zerolog.Nop(), 3, 30*time.Second)

	_, err := q.GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
