package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"spriteforge/internal/domain"
)

// Tier is one cache layer. A tier signals logical absence with found=false;
// errors are reserved for infrastructure failures.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *domain.CacheEntry) error
}

// Lookup is the outcome of a tiered read.
type Lookup struct {
	Hit    bool
	Entry  *domain.CacheEntry
	Source string
}

// TieredCache consults the fast tier first and falls back to the durable
// tier, promoting durable hits back into the fast tier. All tier failures
// degrade to misses or no-ops; the cache never fails its caller.
type TieredCache struct {
	fast    Tier
	durable Tier
	logger  zerolog.Logger
	now     func() time.Time
}

func NewTieredCache(fast, durable Tier, logger zerolog.Logger) *TieredCache {
	return &TieredCache{fast: fast, durable: durable, logger: logger, now: time.Now}
}

// Get looks the key up across both tiers. Expiry is decided purely by
// timestamp comparison, independent of whether a tier still stores the
// entry physically. Hits bump the entry's hit count and access time, and
// the refreshed entry is written back best-effort.
func (c *TieredCache) Get(ctx context.Context, key string) Lookup {
	now := c.now()

	if entry, ok := c.lookupTier(ctx, c.fast, key, now); ok {
		touch(entry, now)
		c.writeTier(ctx, c.fast, key, entry)
		return Lookup{Hit: true, Entry: entry, Source: c.fast.Name()}
	}

	entry, ok := c.lookupTier(ctx, c.durable, key, now)
	if !ok {
		return Lookup{}
	}
	touch(entry, now)
	// Promote so subsequent reads stay on the fast path.
	c.writeTier(ctx, c.fast, key, entry)
	c.writeTier(ctx, c.durable, key, entry)
	return Lookup{Hit: true, Entry: entry, Source: c.durable.Name()}
}

// Set writes the entry through to both tiers. A durable-tier failure is
// logged and swallowed: the fast-tier write already gives correctness for
// the current process lifetime.
func (c *TieredCache) Set(ctx context.Context, key string, entry *domain.CacheEntry) {
	c.writeTier(ctx, c.fast, key, entry)
	c.writeTier(ctx, c.durable, key, entry)
}

func (c *TieredCache) lookupTier(ctx context.Context, tier Tier, key string, now time.Time) (*domain.CacheEntry, bool) {
	entry, found, err := tier.Get(ctx, key)
	if err != nil {
		// Treated as a miss per the cache error policy.
		c.logger.Warn().Err(err).Str("tier", tier.Name()).Str("cache_key", key).
			Msg("cache: tier read failed, treating as miss")
		return nil, false
	}
	if !found || entry.Expired(now) {
		return nil, false
	}
	return entry, true
}

func (c *TieredCache) writeTier(ctx context.Context, tier Tier, key string, entry *domain.CacheEntry) {
	if err := tier.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("tier", tier.Name()).Str("cache_key", key).
			Msg("cache: tier write failed, continuing")
	}
}
