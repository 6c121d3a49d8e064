package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
	"spriteforge/internal/infra"
)

const qCacheSchema = `--sql 6d4a2f80-91c3-4e57-b2d6-0f8a5c31e794
create table if not exists sprite_cache_entries (
    cache_key        text primary key,
    user_id          text not null,
    payload          jsonb not null,
    created_at       timestamptz not null,
    expires_at       timestamptz not null,
    hits             bigint not null default 0,
    last_accessed_at timestamptz not null
);
`

const qCacheGet = `--sql a18c5e93-2f07-4b46-8d1a-c592b7e04f63
select payload from sprite_cache_entries where cache_key = $1;
`

const qCacheSet = `--sql 40b9d7e2-6c18-4f35-a09d-83e1f5a2c706
insert into sprite_cache_entries (cache_key, user_id, payload, created_at, expires_at, hits, last_accessed_at)
values ($1, $2, $3, $4, $5, $6, $7)
on conflict (cache_key) do update
set payload = excluded.payload,
    expires_at = excluded.expires_at,
    hits = excluded.hits,
    last_accessed_at = excluded.last_accessed_at;
`

// Document stores approaching this serialized size get a warning; the
// durable store rejects rows past its per-document ceiling outright.
const (
	durableDocCeiling   = 16 << 20
	durableWarnFraction = 0.8
)

// PostgresTier is the durable backup cache tier. Expired entries are left
// for a retention sweep; readers treat them as absent by timestamp alone.
type PostgresTier struct {
	db     infra.SQLExecutor
	logger zerolog.Logger
}

func NewPostgresTier(db infra.SQLExecutor, logger zerolog.Logger) *PostgresTier {
	return &PostgresTier{db: db, logger: logger}
}

func (t *PostgresTier) Name() string { return "postgres" }

// EnsureSchema creates the cache table when it does not exist yet.
func (t *PostgresTier) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, qCacheSchema); err != nil {
		return &domain.CacheError{Tier: t.Name(), Op: "migrate", Err: err}
	}
	return nil
}

func (t *PostgresTier) Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	var payload []byte
	row := t.db.QueryRow(ctx, qCacheGet, key)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, &domain.CacheError{Tier: t.Name(), Op: "get", Err: err}
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false, &domain.CacheError{Tier: t.Name(), Op: "decode", Err: err}
	}
	return &entry, true, nil
}

func (t *PostgresTier) Set(ctx context.Context, key string, entry *domain.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return &domain.CacheError{Tier: t.Name(), Op: "encode", Err: err}
	}
	if float64(len(payload)) >= durableWarnFraction*float64(durableDocCeiling) {
		t.logger.Warn().Str("cache_key", key).Int("payload_bytes", len(payload)).
			Int("ceiling_bytes", durableDocCeiling).
			Msg("cache: durable payload approaching per-document ceiling")
	}
	_, err = t.db.Exec(ctx, qCacheSet,
		key, entry.UserID, payload,
		entry.CreatedAt, entry.ExpiresAt, entry.Hits, entry.LastAccessedAt)
	if err != nil {
		return &domain.CacheError{Tier: t.Name(), Op: "set", Err: err}
	}
	return nil
}

// touch is best-effort hit bookkeeping shared by both tiers on read.
func touch(entry *domain.CacheEntry, now time.Time) {
	entry.Hits++
	entry.LastAccessedAt = now
}
