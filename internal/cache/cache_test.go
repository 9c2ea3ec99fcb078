// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ravel-chat/ravel/internal/metrics"
)

// newTestCache returns a cache without a background janitor so tests control
// eviction timing exactly.
func newTestCache(ttl time.Duration) *Cache {
	return NewWithCleanupInterval(ttl, 0)
}

func TestCacheBasicOperations(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("key1", "value1")
	value, exists := c.Get("key1")
	if !exists {
		t.Error("Expected key1 to exist")
	}
	if value != "value1" {
		t.Errorf("Expected value1, got %v", value)
	}

	_, exists = c.Get("key2")
	if exists {
		t.Error("Expected key2 to not exist")
	}
}

func TestCacheExpiration(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.SetWithTTL("key1", "value1", 10*time.Millisecond)

	_, exists := c.Get("key1")
	if !exists {
		t.Error("Expected key1 to exist immediately after set")
	}

	time.Sleep(15 * time.Millisecond)

	// Expired entry behaves like a miss and is removed as a side effect.
	_, exists = c.Get("key1")
	if exists {
		t.Error("Expected key1 to be expired")
	}

	stats := c.GetStats()
	if stats.Entries != 0 {
		t.Errorf("Expected 0 entries after lazy eviction, got %d", stats.Entries)
	}
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	v1 := c.Set("key1", "old")
	v2 := c.Set("key1", "new")

	if v2 <= v1 {
		t.Errorf("Expected version to increase on overwrite: %d then %d", v1, v2)
	}

	value, _ := c.Get("key1")
	if value != "new" {
		t.Errorf("Expected overwritten value, got %v", value)
	}
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("key1", "value1")
	c.Delete("key1")

	_, exists := c.Get("key1")
	if exists {
		t.Error("Expected key1 to be deleted")
	}

	// Deleting an absent key is a no-op and must not count an eviction.
	before := c.GetStats().Evictions
	c.Delete("missing")
	if after := c.GetStats().Evictions; after != before {
		t.Errorf("Delete of absent key counted an eviction: %d -> %d", before, after)
	}
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")

	c.Clear()

	for _, key := range []string{"key1", "key2", "key3"} {
		_, exists := c.Get(key)
		if exists {
			t.Errorf("Expected %s to be cleared", key)
		}
	}
}

func TestCacheStats(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("key1", "value1")
	c.Get("key1") // hit
	c.Get("key2") // miss
	c.Get("key1") // hit

	stats := c.GetStats()

	if stats.Hits != 2 {
		t.Errorf("Expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}

	hitRate := c.HitRate()
	expectedHitRate := 66.66666666666667 // 2/3 * 100
	if hitRate < expectedHitRate-0.01 || hitRate > expectedHitRate+0.01 {
		t.Errorf("Expected hit rate around %.2f%%, got %.2f%%", expectedHitRate, hitRate)
	}
}

func TestCacheResetStats(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("key1", "value1")
	c.Get("key1")
	c.Get("missing")

	c.ResetStats()

	stats := c.GetStats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.Evictions != 0 {
		t.Errorf("Expected zeroed counters after reset, got %+v", stats)
	}
	if stats.Entries != 1 {
		t.Errorf("ResetStats must not touch stored entries, got %d", stats.Entries)
	}
}

func TestCacheHitRateEmptyCache(t *testing.T) {
	c := newTestCache(1 * time.Minute)
	if rate := c.HitRate(); rate != 0.0 {
		t.Errorf("Expected 0%% hit rate on empty cache, got %.2f", rate)
	}
}

func TestCacheTTLFallback(t *testing.T) {
	c := newTestCache(20 * time.Millisecond)

	// ttl <= 0 falls back to the default TTL.
	c.SetWithTTL("key1", "value1", 0)

	time.Sleep(30 * time.Millisecond)
	if _, exists := c.Get("key1"); exists {
		t.Error("Expected key1 to expire via default TTL")
	}
}

func TestCacheInvalidatePattern(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("chat:1:messages:0", "page0")
	c.Set("chat:1:messages:1", "page1")
	c.Set("chat:2:messages:0", "other chat")

	removed := c.InvalidatePattern("chat:1:messages:*")
	if removed != 2 {
		t.Errorf("Expected 2 removals, got %d", removed)
	}

	if _, exists := c.Get("chat:1:messages:0"); exists {
		t.Error("Expected chat:1:messages:0 to be invalidated")
	}
	if _, exists := c.Get("chat:1:messages:1"); exists {
		t.Error("Expected chat:1:messages:1 to be invalidated")
	}
	if _, exists := c.Get("chat:2:messages:0"); !exists {
		t.Error("Expected chat:2:messages:0 to survive")
	}
}

func TestCacheInvalidatePatternExactAndGlobal(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("post:7", "post")
	c.Set("post:77", "other post")

	// Exact pattern must not prefix-match.
	if removed := c.InvalidatePattern("post:7"); removed != 1 {
		t.Errorf("Expected exactly 1 removal, got %d", removed)
	}
	if _, exists := c.Get("post:77"); !exists {
		t.Error("Expected post:77 to survive exact invalidation")
	}

	c.Set("posts:feed:0", "feed")
	if removed := c.InvalidatePattern("*"); removed != 2 {
		t.Errorf("Expected global wildcard to remove 2 entries, got %d", removed)
	}
	if stats := c.GetStats(); stats.Entries != 0 {
		t.Errorf("Expected empty cache after global invalidation, got %d entries", stats.Entries)
	}
}

func TestCacheSwapSnapshotsPrevious(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	prev, _ := c.Swap("k", "speculative", time.Minute)
	if prev != nil {
		t.Errorf("Expected nil snapshot for absent key, got %+v", prev)
	}

	c.Set("k", "confirmed")
	prev, version := c.Swap("k", "speculative2", time.Minute)
	if prev == nil || prev.Data != "confirmed" {
		t.Fatalf("Expected snapshot of previous value, got %+v", prev)
	}
	if version <= prev.Version {
		t.Errorf("Expected swap version %d to exceed snapshot version %d", version, prev.Version)
	}
}

func TestCacheRestoreIfVersion(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("k", "original")
	prev, version := c.Swap("k", "speculative", time.Minute)

	if !c.RestoreIfVersion("k", prev, version) {
		t.Fatal("Expected restore to apply")
	}
	value, _ := c.Get("k")
	if value != "original" {
		t.Errorf("Expected original value restored, got %v", value)
	}
}

func TestCacheRestoreSkippedAfterNewerWrite(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	c.Set("k", "original")
	prev, version := c.Swap("k", "speculative", time.Minute)

	// A server-pushed update lands before the rollback.
	c.Set("k", "server-confirmed")

	if c.RestoreIfVersion("k", prev, version) {
		t.Error("Expected restore to be skipped after a newer write")
	}
	value, _ := c.Get("k")
	if value != "server-confirmed" {
		t.Errorf("Expected newest write to win, got %v", value)
	}
}

func TestCacheRestoreSkippedAfterInvalidation(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	prev, version := c.Swap("k", "speculative", time.Minute)
	c.InvalidatePattern("k")

	if c.RestoreIfVersion("k", prev, version) {
		t.Error("Expected restore to be skipped after invalidation removed the key")
	}
	if _, exists := c.Get("k"); exists {
		t.Error("Expected key to remain absent")
	}
}

func TestCacheRestoreRemovesPreviouslyAbsentKey(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	prev, version := c.Swap("k", "speculative", time.Minute)
	if prev != nil {
		t.Fatalf("Expected nil snapshot, got %+v", prev)
	}

	if !c.RestoreIfVersion("k", prev, version) {
		t.Fatal("Expected restore to apply")
	}
	if _, exists := c.Get("k"); exists {
		t.Error("Expected key removed by rollback of a previously-absent entry")
	}
}

func TestCacheVersion(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	if _, ok := c.Version("k"); ok {
		t.Error("Expected no version for absent key")
	}

	v := c.Set("k", "v")
	got, ok := c.Version("k")
	if !ok || got != v {
		t.Errorf("Expected version %d, got %d (ok=%v)", v, got, ok)
	}
}

func TestCacheCleanupSweep(t *testing.T) {
	c := NewWithCleanupInterval(1*time.Minute, 10*time.Millisecond)
	defer c.Close()

	c.SetWithTTL("short", "v", 5*time.Millisecond)
	c.Set("long", "v")

	time.Sleep(40 * time.Millisecond)

	// The janitor should have swept the expired entry without a Get.
	stats := c.GetStats()
	if stats.Entries != 1 {
		t.Errorf("Expected janitor to sweep expired entry, have %d entries", stats.Entries)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(1 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("chat:%d:messages:%d", n, j)
				c.Set(key, j)
				c.Get(key)
				if j%10 == 0 {
					c.InvalidatePattern(fmt.Sprintf("chat:%d:messages:*", n))
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestPrometheusCollectorsFollowOperations(t *testing.T) {
	hits := testutil.ToFloat64(metrics.CacheHits)
	misses := testutil.ToFloat64(metrics.CacheMisses)
	evictions := testutil.ToFloat64(metrics.CacheEvictions)
	entries := testutil.ToFloat64(metrics.CacheEntries)

	c := newTestCache(1 * time.Minute)
	defer c.Close()

	c.Set("chat:1:meta", "a")
	c.Set("chat:2:meta", "b")
	c.Set("chat:2:meta", "b2") // overwrite, entry count unchanged

	if got := testutil.ToFloat64(metrics.CacheEntries) - entries; got != 2 {
		t.Errorf("entries gauge delta = %v, want 2", got)
	}

	if _, ok := c.Get("chat:1:meta"); !ok {
		t.Fatal("expected hit on chat:1:meta")
	}
	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss on absent key")
	}

	c.Delete("chat:1:meta")
	if removed := c.InvalidatePattern("chat:*"); removed != 1 {
		t.Fatalf("InvalidatePattern removed %d, want 1", removed)
	}

	if got := testutil.ToFloat64(metrics.CacheHits) - hits; got != 1 {
		t.Errorf("hits counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMisses) - misses; got != 1 {
		t.Errorf("misses counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheEvictions) - evictions; got != 2 {
		t.Errorf("evictions counter delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CacheEntries) - entries; got != 0 {
		t.Errorf("entries gauge delta = %v, want 0 after removals", got)
	}
}

func TestPrometheusCollectorsOnLazyExpiry(t *testing.T) {
	misses := testutil.ToFloat64(metrics.CacheMisses)
	evictions := testutil.ToFloat64(metrics.CacheEvictions)
	entries := testutil.ToFloat64(metrics.CacheEntries)

	c := newTestCache(1 * time.Minute)
	defer c.Close()

	c.SetWithTTL("posts:feed:0", "stale", 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("posts:feed:0"); ok {
		t.Fatal("expected expired entry to miss")
	}

	if got := testutil.ToFloat64(metrics.CacheMisses) - misses; got != 1 {
		t.Errorf("misses counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheEvictions) - evictions; got != 1 {
		t.Errorf("evictions counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheEntries) - entries; got != 0 {
		t.Errorf("entries gauge delta = %v, want 0 after lazy eviction", got)
	}
}
