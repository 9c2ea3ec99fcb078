// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package services

import (
	"context"

	"github.com/ravel-chat/ravel/internal/relay"
)

// RelayHubService runs the relay hub under supervision. A hub crash is
// restarted by suture; connected clients reconnect through their channels'
// backoff loops.
type RelayHubService struct {
	hub *relay.Hub
}

// NewRelayHubService wraps a hub as a supervised service.
func NewRelayHubService(hub *relay.Hub) *RelayHubService {
	return &RelayHubService{hub: hub}
}

// Serve implements suture.Service.
func (s *RelayHubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String identifies the service in suture's log events.
func (s *RelayHubService) String() string {
	return "relay-hub"
}
