// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package cache implements the in-memory TTL cache store that the data
// services read through and the real-time layer invalidates into.
//
// # Design
//
// The cache is a flat map of hierarchical string keys ("chat:42:messages:0",
// "user:7:unread") to opaque values. Three properties distinguish it from a
// plain map with expiry:
//
//   - Lazy eviction: a Get on an expired entry is indistinguishable from a
//     miss and removes the entry. A background janitor additionally sweeps
//     entries nobody reads.
//
//   - Pattern invalidation: InvalidatePattern removes every key matching an
//     exact, prefix-wildcard ("chat:42:*") or global ("*") pattern in one
//     pass under the write lock, so a feature can drop all pages of a
//     conversation atomically with respect to concurrent readers.
//
//   - Versioned writes: every write gets a value from a process-wide
//     monotonic counter. Swap and RestoreIfVersion use it so an optimistic
//     rollback can never clobber a newer, server-confirmed write.
//
// The cache is advisory by contract: no operation returns an error, and the
// data services treat the authoritative fetcher as the source of truth on
// every miss.
package cache
