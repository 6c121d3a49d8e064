package domain

import "time"

// CacheEntry stores one successful generation keyed by (prompt, user).
// Entries past ExpiresAt are treated as absent regardless of whether the
// backing store has physically deleted them.
type CacheEntry struct {
	CacheKey         string           `json:"cache_key"`
	UserID           string           `json:"user_id"`
	StructuredPrompt StructuredPrompt `json:"structured_prompt"`
	Result           GenerationResult `json:"result"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	Hits             int64            `json:"hits"`
	LastAccessedAt   time.Time        `json:"last_accessed_at"`
}

// Expired reports whether the entry is logically absent at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
