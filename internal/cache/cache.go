// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package cache

import (
	"sync"
	"time"

	"github.com/ravel-chat/ravel/internal/metrics"
)

// DefaultCleanupInterval is how often the background janitor sweeps expired
// entries when no interval is configured.
const DefaultCleanupInterval = 5 * time.Minute

// Entry represents a cached item with expiration and a write version.
//
// Version is assigned from a process-wide monotonic counter on every write.
// It lets the optimistic mutation coordinator detect whether a newer write
// (for example a server-pushed update) landed between a speculative write
// and its rollback; the newer write always wins.
type Entry struct {
	Data      any
	ExpiresAt time.Time
	Version   uint64
}

// expired reports whether the entry is logically absent at time now.
func (e Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats tracks cache performance counters.
// Counters accumulate monotonically from construction or the last ResetStats.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	// Entries is the number of keys currently stored (including entries that
	// have logically expired but not yet been swept or lazily evicted).
	Entries int64
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// Cache provides a thread-safe in-memory cache with per-entry TTL, pattern
// invalidation, and versioned writes.
//
// The cache is advisory: no operation returns an error, and every value must
// be re-derivable from an authoritative fetch. A Get on an expired entry
// behaves identically to a miss and removes the stale entry (lazy eviction);
// a background janitor additionally sweeps expired entries so that keys that
// are never read again do not accumulate.
//
// Every counter change is mirrored as a delta to the process-wide Prometheus
// collectors, so multiple caches in one process aggregate at /metrics while
// GetStats stays per-instance.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration

	// version is the monotonic write counter; guarded by mu.
	version uint64

	hits      int64
	misses    int64
	evictions int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache with the given default TTL and starts the background
// janitor with DefaultCleanupInterval. Call Close to stop the janitor.
func New(ttl time.Duration) *Cache {
	return NewWithCleanupInterval(ttl, DefaultCleanupInterval)
}

// NewWithCleanupInterval creates a cache with an explicit janitor interval.
// An interval <= 0 disables the background sweep entirely (lazy eviction on
// Get still applies); useful in tests.
func NewWithCleanupInterval(ttl, interval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	if interval > 0 {
		go c.cleanupLoop(interval)
	}

	return c
}

// Close stops the background janitor. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Get retrieves a value by key with lazy expiration checking.
//
// Returns (nil, false) if the key is absent or expired; an expired entry is
// removed as a side effect and counted as a miss plus an eviction.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		metrics.CacheMisses.Inc()
		return nil, false
	}

	if entry.expired(time.Now()) {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		metrics.CacheMisses.Inc()
		metrics.CacheEvictions.Inc()
		metrics.CacheEntries.Dec()
		return nil, false
	}

	c.hits++
	metrics.CacheHits.Inc()
	return entry.Data, true
}

// Set stores a value with the default TTL configured at construction.
// Overwrites any existing entry for key. Returns the write's version.
func (c *Cache) Set(key string, value any) uint64 {
	return c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL; ttl <= 0 falls back to the
// default. Returns the write's version.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) uint64 {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(key, value, ttl)
}

// storeLocked writes an entry and bumps the version counter (mu held).
func (c *Cache) storeLocked(key string, value any, ttl time.Duration) uint64 {
	if _, exists := c.entries[key]; !exists {
		metrics.CacheEntries.Inc()
	}
	c.version++
	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
		Version:   c.version,
	}
	return c.version
}

// Swap atomically stores a value and returns a snapshot of the entry it
// replaced (nil if the key was absent or expired) along with the new write's
// version. This is the primitive the optimistic mutation coordinator builds
// its rollback closure on: the snapshot is the pre-mutation state, and the
// version identifies the speculative write for RestoreIfVersion.
func (c *Cache) Swap(key string, value any, ttl time.Duration) (prev *Entry, version uint64) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists && !entry.expired(time.Now()) {
		snapshot := entry
		prev = &snapshot
	}

	return prev, c.storeLocked(key, value, ttl)
}

// RestoreIfVersion restores a previous snapshot for key, but only while the
// key's current version still equals expect. If prev is nil the key is
// removed (it was absent before the speculative write). Returns true if the
// restore was applied, false if a newer write had already superseded it.
func (c *Cache) RestoreIfVersion(key string, prev *Entry, expect uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.Version != expect {
		// The speculative write was already invalidated or overwritten;
		// whatever is there now is newer than the snapshot.
		return false
	}

	if prev == nil {
		delete(c.entries, key)
		c.evictions++
		metrics.CacheEvictions.Inc()
		metrics.CacheEntries.Dec()
		return true
	}

	c.version++
	restored := *prev
	restored.Version = c.version
	c.entries[key] = restored
	return true
}

// Version returns the current write version for key, if present and not
// expired.
func (c *Cache) Version(key string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.expired(time.Now()) {
		return 0, false
	}
	return entry.Version, true
}

// Delete unconditionally removes a single entry; no-op if absent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		delete(c.entries, key)
		c.evictions++
		metrics.CacheEvictions.Inc()
		metrics.CacheEntries.Dec()
	}
}

// InvalidatePattern removes every currently-stored key matching pattern in a
// single pass under the write lock, so the removal is atomic with respect to
// other cache operations. Returns the number of entries removed.
//
// Pattern grammar (see MatchPattern): exact key, prefix with trailing "*",
// or the full wildcard "*".
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if MatchPattern(pattern, key) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += int64(removed)
	metrics.CacheEvictions.Add(float64(removed))
	metrics.CacheEntries.Sub(float64(removed))
	return removed
}

// Clear removes all entries in one operation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictions += int64(len(c.entries))
	metrics.CacheEvictions.Add(float64(len(c.entries)))
	metrics.CacheEntries.Sub(float64(len(c.entries)))
	c.entries = make(map[string]Entry)
}

// GetStats returns a snapshot of the current counters and entry count.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   int64(len(c.entries)),
	}
}

// HitRate returns the cache hit rate as a percentage.
func (c *Cache) HitRate() float64 {
	return c.GetStats().HitRate()
}

// ResetStats zeroes the hit/miss/eviction counters. Stored entries are
// untouched.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// cleanupLoop periodically removes expired entries until Close is called.
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes all expired entries.
func (c *Cache) cleanup() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			c.evictions++
			metrics.CacheEvictions.Inc()
			metrics.CacheEntries.Dec()
		}
	}
}
