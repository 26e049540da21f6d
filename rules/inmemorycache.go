package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	result   ValidationResult
	cachedAt time.Time
}

// InMemoryValidationCache is a simple in-memory implementation of
// ValidationCache. Thread-safe for concurrent access.
type InMemoryValidationCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryValidationCache creates a new in-memory validation cache
func NewInMemoryValidationCache(config CacheConfig) *InMemoryValidationCache {
	return &InMemoryValidationCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves a cached result
// Returns false if the entry is missing or expired
func (c *InMemoryValidationCache) Get(key string) (ValidationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e, time.Now()) {
		return ValidationResult{}, false
	}
	return copyResult(e.result), true
}

// Set stores a result in cache
func (c *InMemoryValidationCache) Set(key string, result ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[key]; !exists && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.evict(now)
	}

	// Store copy to prevent external modifications
	c.entries[key] = cacheEntry{result: copyResult(result), cachedAt: now}
}

// Invalidate clears the cache
func (c *InMemoryValidationCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of unexpired entries
func (c *InMemoryValidationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, e := range c.entries {
		if !c.expired(e, now) {
			n++
		}
	}
	return n
}

func (c *InMemoryValidationCache) expired(e cacheEntry, now time.Time) bool {
	return c.config.TTL > 0 && now.Sub(e.cachedAt) > c.config.TTL
}

// evict drops expired entries, then the oldest one if the cache is still
// full. Must be called with the write lock held.
func (c *InMemoryValidationCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.cachedAt.Before(oldest) {
			oldestKey, oldest = k, e.cachedAt
		}
	}
	if len(c.entries) >= c.config.MaxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func copyResult(r ValidationResult) ValidationResult {
	if r.Diagnostics != nil {
		r.Diagnostics = append([]string(nil), r.Diagnostics...)
	}
	return r
}
