// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package channel implements the real-time event channel: a single duplex
// websocket connection to the relay shared by every data service in the
// process.
//
// The channel owns connection lifecycle (connect, keepalive, exponential
// backoff reconnection after unclean closes) and inbound dispatch to
// topic-style subscriptions ("message:42", "typing:*", "*"). Outbound
// delivery is at-most-once and best-effort: a Send while disconnected is
// dropped with ErrNotConnected, never queued. Consumers that need
// consistency converge through cache invalidation and refetch rather than
// through delivery guarantees.
//
// Subscriptions survive network-triggered closes so a reconnected session
// resumes dispatch without re-registration. Only an explicit Disconnect
// clears them.
package channel
