// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package optimistic coordinates speculative cache writes for
// responsiveness-critical mutations.
//
// A mutation applies its expected result to the cache immediately, fires the
// network call, and rolls the cache back if the call fails. Rollback is
// version-guarded: it only restores the previous value while the speculative
// write is still the newest write for that key. A confirmed value that
// arrived in between (a refetch, a real-time invalidation refill) always
// wins over the stale snapshot.
package optimistic

import (
	"sync"
	"time"

	"github.com/ravel-chat/ravel/internal/cache"
	"github.com/ravel-chat/ravel/internal/logging"
	"github.com/ravel-chat/ravel/internal/metrics"
)

// Rollback undoes one speculative write. Idempotent: the first call decides,
// later calls are no-ops. Returns true when the restore was applied, false
// when it was skipped because a newer write superseded the speculation (or
// the rollback already ran).
type Rollback func() bool

// Coordinator applies speculative writes against a cache and hands back
// version-guarded rollbacks.
type Coordinator struct {
	cache *cache.Cache
}

// New creates a coordinator over the shared cache.
func New(c *cache.Cache) *Coordinator {
	return &Coordinator{cache: c}
}

// Apply writes a speculative value for key with the given TTL (ttl <= 0 uses
// the cache default) and returns the rollback that restores the prior state.
//
// The rollback restores the entry that was in place before the speculation,
// or deletes the key if it was absent. It applies only while the speculative
// write is still the key's current version.
func (o *Coordinator) Apply(key string, speculative any, ttl time.Duration) Rollback {
	prev, version := o.cache.Swap(key, speculative, ttl)

	var once sync.Once
	return func() bool {
		applied := false
		once.Do(func() {
			applied = o.cache.RestoreIfVersion(key, prev, version)
			if applied {
				metrics.OptimisticRollbacks.WithLabelValues("applied").Inc()
				logging.Debug().Str("key", key).Msg("optimistic rollback applied")
			} else {
				metrics.OptimisticRollbacks.WithLabelValues("superseded").Inc()
				logging.Debug().Str("key", key).Msg("optimistic rollback superseded by newer write")
			}
		})
		return applied
	}
}
