package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"spriteforge/internal/domain"
)

const fastKeyPrefix = "spriteforge:cache:"

// RedisTier is the fast, volatile cache tier. Entries are stored as JSON
// with a Redis TTL matching their logical expiry, so Redis evicts them on
// its own; the timestamp check in the tiered cache remains authoritative.
type RedisTier struct {
	client *redis.Client
}

func NewRedisTier(client *redis.Client) *RedisTier {
	return &RedisTier{client: client}
}

func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	val, err := t.client.Get(ctx, fastKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, &domain.CacheError{Tier: t.Name(), Op: "get", Err: err}
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, false, &domain.CacheError{Tier: t.Name(), Op: "decode", Err: err}
	}
	return &entry, true, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, entry *domain.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return &domain.CacheError{Tier: t.Name(), Op: "encode", Err: err}
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := t.client.Set(ctx, fastKeyPrefix+key, raw, ttl).Err(); err != nil {
		return &domain.CacheError{Tier: t.Name(), Op: "set", Err: err}
	}
	return nil
}
