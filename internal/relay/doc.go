// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package relay implements the server side of the real-time channel: a
// websocket hub that accepts client connections and fans every validated
// inbound frame out to all connected clients, the sender included.
//
// The relay is intentionally dumb. It never inspects payloads beyond
// envelope validation and holds no feature state; correctness lives in the
// clients' invalidate-and-refetch discipline, so a dropped frame (slow
// client, full buffer, rate limit) degrades latency but never consistency.
package relay
