// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package service implements the cache-aware data services that sit between
// feature code and the authoritative backend.
//
// Reads go through GetCached: cache hit returns immediately, a miss runs the
// authoritative fetcher exactly once per key (single-flight) behind a
// circuit breaker and fills the cache. Writes go through Mutate: the network
// call first, then pattern invalidation, then a best-effort real-time emit.
// Inbound real-time events invalidate via Bind subscriptions so remote
// writes converge through the same refetch path as local ones.
//
// ChatService and PostService are the feature facades; both own their
// invalidation bindings and their key schema.
package service
