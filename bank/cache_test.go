package bank_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/tagledger/bank"
)

// =============================================================================
// TTL BEHAVIOR
// =============================================================================

func TestCache_HitWithinTTL(t *testing.T) {
	cache := bank.NewCache(time.Minute, 16)
	tags := bank.TagSet{"player-uuid": bank.StringTag("abc")}

	cache.Put(tags, 100)

	balance, ok := cache.Get(tags)
	assert.True(t, ok)
	assert.Equal(t, int64(100), balance)

	// An equal-but-distinct tag-set value hits the same entry.
	balance, ok = cache.Get(bank.TagSet{"player-uuid": bank.StringTag("abc")})
	assert.True(t, ok)
	assert.Equal(t, int64(100), balance)
}

func TestCache_MissAfterTTL(t *testing.T) {
	cache := bank.NewCache(20*time.Millisecond, 16)
	tags := bank.TagSet{"player-uuid": bank.StringTag("abc")}

	cache.Put(tags, 100)
	time.Sleep(40 * time.Millisecond)

	_, ok := cache.Get(tags)
	assert.False(t, ok, "entry past TTL is stale")
}

func TestCache_Disabled(t *testing.T) {
	// TTL 0 disables caching entirely.
	cache := bank.NewCache(0, 16)
	tags := bank.TagSet{"player-uuid": bank.StringTag("abc")}

	cache.Put(tags, 100)
	_, ok := cache.Get(tags)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())

	var nilCache *bank.Cache
	assert.False(t, nilCache.Enabled())
	_, ok = nilCache.Get(tags)
	assert.False(t, ok)
}

// =============================================================================
// REPLACEMENT AND EVICTION
// =============================================================================

func TestCache_ReplaceNotDuplicate(t *testing.T) {
	cache := bank.NewCache(time.Minute, 16)
	tags := bank.TagSet{"player-uuid": bank.StringTag("abc")}

	cache.Put(tags, 100)
	cache.Put(tags, 150)

	assert.Equal(t, 1, cache.Len(), "equal tag-set replaces, never duplicates")
	balance, ok := cache.Get(tags)
	assert.True(t, ok)
	assert.Equal(t, int64(150), balance)
}

func TestCache_CapacityEvictsExpiredOnly(t *testing.T) {
	// GIVEN: A full cache whose entries have all expired
	cache := bank.NewCache(30*time.Millisecond, 3)
	for i := 0; i < 3; i++ {
		cache.Put(bank.TagSet{"n": bank.IntTag(int64(i))}, int64(i))
	}
	assert.Equal(t, 3, cache.Len())
	time.Sleep(50 * time.Millisecond)

	// WHEN: A write would grow the cache past capacity
	cache.Put(bank.TagSet{"n": bank.IntTag(99)}, 99)

	// THEN: The expired entries were purged first
	assert.Equal(t, 1, cache.Len())
}

func TestCache_MayExceedCapacityWhenNothingExpired(t *testing.T) {
	// GIVEN: A full cache of fresh entries
	cache := bank.NewCache(time.Minute, 3)
	for i := 0; i < 3; i++ {
		cache.Put(bank.TagSet{"n": bank.IntTag(int64(i))}, int64(i))
	}

	// WHEN: More distinct tag-sets arrive than the capacity allows
	cache.Put(bank.TagSet{"n": bank.IntTag(99)}, 99)

	// THEN: Nothing was evicted - the cache temporarily exceeds its
	// nominal capacity. This is the documented policy, not a leak.
	assert.Equal(t, 4, cache.Len())
	for i := 0; i < 3; i++ {
		_, ok := cache.Get(bank.TagSet{"n": bank.IntTag(int64(i))})
		assert.True(t, ok, "fresh entries survive the over-capacity write")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := bank.NewCache(time.Minute, 64)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				tags := bank.TagSet{"n": bank.IntTag(int64(i % 10))}
				cache.Put(tags, int64(g*1000+i))
				cache.Get(tags)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	// 10 distinct tag-sets were written; duplicates would mean the
	// match-and-replace lost atomicity.
	assert.Equal(t, 10, cache.Len(), fmt.Sprintf("expected 10 entries, got %d", cache.Len()))
}
