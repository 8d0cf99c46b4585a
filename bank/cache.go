/*
cache.go - TTL and capacity bounded balance cache

PURPOSE:
  Absorbs repeated balance lookups during the aggregation's staleness
  window. Entries are keyed by tag-set, expire after a configured TTL,
  and the cache holds a bounded working set, not a complete secondary
  index of every account.

EVICTION POLICY:
  Lazy and opportunistic, not LRU. A write that would grow the cache at
  or past capacity first purges entries whose TTL already expired. If
  nothing is expired the cache temporarily exceeds its nominal capacity;
  the next expiring write cleans up. Reads never evict.

CONSISTENCY:
  The cache is never invalidated by writes to a matching tag-set; it
  self-corrects by TTL expiry. The TTL is configured to the same order of
  magnitude as the aggregation sync delay, so the cache is never
  meaningfully more stale than the view it fronts.

SEE ALSO:
  - service.go: The only reader/writer
*/
package bank

import (
	"sync"
	"time"
)

const (
	DefaultCacheTTL      = 5 * time.Second
	DefaultCacheCapacity = 1024
)

// =============================================================================
// CACHE - Read-through balance cache keyed by tag-set
// =============================================================================

type cacheEntry struct {
	tags     TagSet
	balance  int64
	cachedAt time.Time
}

// Cache is a TTL-bound, capacity-bound balance cache. A TTL of 0 disables
// caching entirely (Get always misses, Put is a no-op).
type Cache struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]cacheEntry // keyed by TagSet.Fingerprint()
}

func NewCache(ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]cacheEntry),
	}
}

// Enabled reports whether caching is active.
func (c *Cache) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Get returns the cached balance for an equal tag-set if the entry is
// still fresh.
func (c *Cache) Get(tags TagSet) (int64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tags.Fingerprint()]
	if !ok {
		return 0, false
	}
	if time.Since(entry.cachedAt) > c.ttl {
		return 0, false
	}
	return entry.balance, true
}

// Put stores a balance for the tag-set. An entry for an equal tag-set is
// replaced with a fresh cachedAt, never duplicated. Growing at or past
// capacity triggers a purge of expired entries first.
func (c *Cache) Put(tags TagSet, balance int64) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := tags.Fingerprint()
	if _, replacing := c.entries[key]; !replacing && len(c.entries) >= c.capacity {
		c.purgeExpiredLocked()
	}
	c.entries[key] = cacheEntry{tags: tags, balance: balance, cachedAt: time.Now()}
}

// Len returns the current number of entries, expired included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) purgeExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.cachedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}
