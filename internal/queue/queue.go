package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/infra"
)

const qEnsureSchema = `--sql 7c1f2a9e-3b64-4d8a-9f20-5e8c1a7d4b02
create table if not exists sprite_jobs (
    id            text primary key,
    user_id       text not null,
    prompt_json   jsonb not null,
    cache_key     text not null,
    status        text not null default 'PENDING',
    progress      int not null default 0,
    attempts      int not null default 0,
    max_retries   int not null default 3,
    created_at    timestamptz not null default now(),
    started_at    timestamptz,
    finished_at   timestamptz,
    run_at        timestamptz not null default now(),
    locked_at     timestamptz,
    locked_by     text,
    result_json   jsonb,
    error_message text not null default '',
    dead          boolean not null default false
);
create index if not exists sprite_jobs_claim_idx on sprite_jobs (status, run_at, created_at);
create index if not exists sprite_jobs_user_idx on sprite_jobs (user_id, created_at desc);
`

const qEnqueue = `--sql 2e9b4c71-8d35-4f06-b1aa-0c6f3d92e815
insert into sprite_jobs (id, user_id, prompt_json, cache_key, max_retries)
values ($1, $2, $3, $4, $5);
`

// Claim picks the oldest runnable job. A job is runnable when it is
// PENDING/RETRYING with run_at due, or PROCESSING under a stale lease
// (its worker died without acking). Claiming takes the lease.
const qClaim = `--sql 9a3d5e28-1c47-4b90-8e62-f47b0a91c3d6
with next_job as (
    select id
    from sprite_jobs
    where (status in ('PENDING', 'RETRYING') and run_at <= now())
       or (status = 'PROCESSING' and locked_at is not null
           and locked_at <= now() - ($2::bigint * interval '1 millisecond'))
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update sprite_jobs
    set status = 'PROCESSING',
        started_at = coalesce(started_at, now()),
        locked_at = now(),
        locked_by = $1
    where id in (select id from next_job)
    returning id, user_id, prompt_json, cache_key, status, progress, attempts,
              max_retries, created_at, started_at, finished_at, result_json,
              error_message, dead
)
select * from claimed;
`

const qAck = `--sql 5f82c0d4-6a19-4e73-b3c8-21d94e7f6a50
update sprite_jobs
set status = 'COMPLETED', progress = 100, finished_at = now(),
    result_json = $2, locked_at = null, locked_by = null
where id = $1;
`

const qFailRetry = `--sql c47a91b3-0e58-4d26-af71-83b2c5d90e14
update sprite_jobs
set status = 'RETRYING', attempts = attempts + 1, error_message = $2,
    run_at = $3, locked_at = null, locked_by = null
where id = $1;
`

const qFailDead = `--sql 1b6e8f42-95d0-4a37-8c19-d60a4f27b581
update sprite_jobs
set status = 'FAILED', attempts = attempts + 1, error_message = $2,
    finished_at = now(), dead = true, locked_at = null, locked_by = null
where id = $1;
`

const qProgress = `--sql e03b7d96-42f8-4c15-9ab4-7f18c2e6d039
update sprite_jobs
set progress = greatest(progress, $2)
where id = $1 and status not in ('FAILED');
`

const qGetByID = `--sql 84d2f6a0-b391-4e58-a7c6-09e5d13b8f72
select id, user_id, prompt_json, cache_key, status, progress, attempts,
       max_retries, created_at, started_at, finished_at, result_json,
       error_message, dead
from sprite_jobs
where id = $1;
`

const qListByUser = `--sql 3a90e5c7-d814-4f62-85b3-6c2d07f19ae4
select id, user_id, prompt_json, cache_key, status, progress, attempts,
       max_retries, created_at, started_at, finished_at, result_json,
       error_message, dead
from sprite_jobs
where user_id = $1
order by created_at desc
limit $2;
`

const qCounts = `--sql f6281c9b-47a5-4d03-b8e9-35d0a6c47f18
select
    count(*) filter (where status in ('PENDING', 'RETRYING')),
    count(*) filter (where status = 'PROCESSING'),
    count(*) filter (where status = 'COMPLETED'),
    count(*) filter (where status = 'FAILED'),
    count(*) filter (where dead)
from sprite_jobs;
`

// Queue is the durable, at-least-once job queue backed by Postgres.
// Delivery relies on FOR UPDATE SKIP LOCKED plus a lease: a claimed job
// whose lease goes stale becomes claimable again.
type Queue struct {
	db         infra.SQLExecutor
	logger     zerolog.Logger
	maxRetries int
	leaseTTL   time.Duration
}

func New(db infra.SQLExecutor, logger zerolog.Logger, maxRetries int, leaseTTL time.Duration) *Queue {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &Queue{db: db, logger: logger, maxRetries: maxRetries, leaseTTL: leaseTTL}
}

// EnsureSchema creates the queue table when it does not exist yet.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, qEnsureSchema); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// Enqueue durably stores a new PENDING job.
func (q *Queue) Enqueue(ctx context.Context, jobID, userID string, promptJSON []byte, cacheKey string) error {
	if _, err := q.db.Exec(ctx, qEnqueue, jobID, userID, promptJSON, cacheKey, q.maxRetries); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	q.logger.Info().Str("job_id", jobID).Str("user_id", userID).Msg("queue: job enqueued")
	return nil
}

// Claim leases the oldest runnable job for the given worker. Returns
// domain.ErrQueueEmpty when nothing is runnable.
func (q *Queue) Claim(ctx context.Context, workerID string) (Record, error) {
	row := q.db.QueryRow(ctx, qClaim, workerID, q.leaseTTL.Milliseconds())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, domain.ErrQueueEmpty
		}
		return Record{}, fmt.Errorf("claim job: %w", err)
	}
	return rec, nil
}

// Ack marks the job COMPLETED with its result payload and releases the lease.
func (q *Queue) Ack(ctx context.Context, jobID string, resultJSON []byte) error {
	if _, err := q.db.Exec(ctx, qAck, jobID, resultJSON); err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}

// Fail records a failed attempt. While retry budget remains and the error
// is retryable the job is rescheduled with exponential backoff; otherwise
// it is marked FAILED and lands in the dead-letter set.
func (q *Queue) Fail(ctx context.Context, rec Record, errMsg string, retryable bool) error {
	attempts := rec.Attempts + 1
	if retryable && attempts < rec.MaxRetries+1 {
		runAt := time.Now().Add(backoff(attempts))
		if _, err := q.db.Exec(ctx, qFailRetry, rec.ID, errMsg, runAt); err != nil {
			return fmt.Errorf("reschedule job %s: %w", rec.ID, err)
		}
		q.logger.Warn().Str("job_id", rec.ID).Int("attempts", attempts).
			Time("run_at", runAt).Msg("queue: job scheduled for retry")
		return nil
	}
	if _, err := q.db.Exec(ctx, qFailDead, rec.ID, errMsg); err != nil {
		return fmt.Errorf("fail job %s: %w", rec.ID, err)
	}
	q.logger.Error().Str("job_id", rec.ID).Int("attempts", attempts).
		Str("error", errMsg).Msg("queue: job moved to dead letter")
	return nil
}

// UpdateProgress advances the stored progress. The greatest() guard keeps
// progress monotonic for jobs that have not failed.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if _, err := q.db.Exec(ctx, qProgress, jobID, progress); err != nil {
		return fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return nil
}

// GetByID fetches a single job record. Absence returns domain.ErrNotFound.
func (q *Queue) GetByID(ctx context.Context, jobID string) (Record, error) {
	row := q.db.QueryRow(ctx, qGetByID, jobID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, domain.ErrNotFound
		}
		return Record{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return rec, nil
}

// ListByUser returns the user's most recent jobs.
func (q *Queue) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(ctx, qListByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job for user %s: %w", userID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counts returns native per-state job counts.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	row := q.db.QueryRow(ctx, qCounts)
	var c Counts
	if err := row.Scan(&c.Pending, &c.Processing, &c.Completed, &c.Failed, &c.Dead); err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	err := s.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.PromptJSON,
		&rec.CacheKey,
		&rec.Status,
		&rec.Progress,
		&rec.Attempts,
		&rec.MaxRetries,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.ResultJSON,
		&rec.ErrorMessage,
		&rec.Dead,
	)
	return rec, err
}

// backoff returns the delay before the given (1-based) failed attempt is
// retried: 5s, 10s, 20s, ... capped at 5 minutes.
func backoff(attempts int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
