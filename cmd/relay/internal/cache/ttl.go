package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a capacity-bounded expiring key/value store. Expiry is enforced
// lazily on read; when full, inserting a new key evicts the entry closest to
// expiring. Safe for concurrent use.
type TTL[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]entry[V]
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a cache holding at most capacity entries. defaultTTL is used by
// SetDefault; Set takes an explicit TTL.
func New[K comparable, V any](capacity int, defaultTTL time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		entries:    make(map[K]entry[V], capacity),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests use this to simulate expiry.
func (c *TTL[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the value for key if present and unexpired. An expired entry is
// removed and reported as absent.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set inserts or overwrites key with the given TTL. Inserting a new key into a
// full cache first evicts the entry with the nearest expiry.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictNearestLocked()
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// SetDefault is Set with the cache's default TTL.
func (c *TTL[K, V]) SetDefault(key K, value V) {
	c.Set(key, value, c.defaultTTL)
}

// Len reports the number of physically stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictNearestLocked drops the entry whose expiry is soonest. A linear scan is
// fine at the configured capacities; switch to a min-heap if that changes.
func (c *TTL[K, V]) evictNearestLocked() {
	var victim K
	var victimExpiry time.Time
	first := true
	for k, e := range c.entries {
		if first || e.expiresAt.Before(victimExpiry) {
			victim = k
			victimExpiry = e.expiresAt
			first = false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}
