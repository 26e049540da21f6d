package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ValidationCache remembers validation results by rule body, so that
// validating the same body twice (save then activate) compiles it once.
// This allows swapping between in-memory, Redis, or other caching implementations.
type ValidationCache interface {
	// Get returns the cached result for a body hash, false on a miss or expiry
	Get(key string) (ValidationResult, bool)

	// Set stores a result
	Set(key string, result ValidationResult)

	// Invalidate clears the cache
	Invalidate()

	// Len returns the number of live entries
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration.
	TTL time.Duration

	// MaxEntries bounds the cache size. Zero means unbounded.
	MaxEntries int
}

// DefaultCacheConfig returns the defaults for validation caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        10 * time.Minute,
		MaxEntries: 1024,
	}
}

// CacheKey derives the cache key of a rule body.
func CacheKey(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
