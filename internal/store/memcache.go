package store

import (
	"sync"
	"time"
)

// Cache is a bounded, TTL-expiring in-memory map. Each entry carries an
// absolute expiry; a Get on an expired entry evicts it and misses. When
// capacity is exceeded the single least-recently-touched entry is evicted;
// a Get hit counts as a touch. TTLs are clamped to a minimum to avoid
// near-zero-TTL thrashing.
//
// Caches are explicitly constructed and injected, never package-level state,
// so tests can run in parallel with independent instances
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	minTTL   time.Duration
	now      func() time.Time
	entries  map[string]*cacheEntry[V]
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	touchedAt time.Time
}

// NewCache creates a cache holding at most capacity entries
func NewCache[V any](capacity int, minTTL time.Duration) *Cache[V] {
	return &Cache[V]{
		capacity: capacity,
		minTTL:   minTTL,
		now:      time.Now,
		entries:  map[string]*cacheEntry[V]{},
	}
}

// Get returns the live value at key, refreshing its recency. Expired entries
// are evicted on access
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}

	entry.touchedAt = now
	return entry.value, true
}

// Put stores value with the given TTL, clamped to the cache minimum
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl < c.minTTL {
		ttl = c.minTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		touchedAt: now,
	}

	if len(c.entries) > c.capacity {
		c.evictOldest(key)
	}
}

// Delete removes the entry at key, if any
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, including any not yet expired-on-access
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ResetForTesting drops all entries
func (c *Cache[V]) ResetForTesting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*cacheEntry[V]{}
}

// evictOldest removes the least-recently-touched entry other than keep.
// Caller holds the lock
func (c *Cache[V]) evictOldest(keep string) {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if key == keep {
			continue
		}
		if oldestKey == "" || entry.touchedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.touchedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
