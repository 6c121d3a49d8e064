package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"spriteforge/internal/domain"
)

// GenerateKey computes the deterministic cache key for a prompt and user:
// hex(sha256(prompt + userID)). The concatenation order is significant;
// it deduplicates identical requests while keeping users isolated from
// each other's cache entries.
func GenerateKey(prompt, userID string) string {
	sum := sha256.Sum256([]byte(prompt + userID))
	return hex.EncodeToString(sum[:])
}

// KeyForPrompt hashes the canonical form of a structured prompt so
// logically identical requests share a key regardless of field ordering.
func KeyForPrompt(p domain.StructuredPrompt, userID string) string {
	return GenerateKey(p.Canonical(), userID)
}
