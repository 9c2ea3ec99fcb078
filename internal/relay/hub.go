// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/ravel-chat/ravel/internal/logging"
	"github.com/ravel-chat/ravel/internal/metrics"
	"github.com/ravel-chat/ravel/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path
	// (SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during
	// shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Hub maintains the set of connected clients and fans every accepted frame
// out to all of them, the sender included. The local echo keeps every peer
// on the same invalidate-and-refetch path.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *models.Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Run it with RunWithContext under a supervisor.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan *models.Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub loop until the context is canceled, then
// closes every client and returns ctx.Err() so a supervisor can restart it
// cleanly.
//
// DETERMINISM: priority-based selection keeps behavior predictable when
// multiple channels are ready. Shutdown first, then client lifecycle, then
// broadcasts, so client state is always consistent before messages flow.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle (non-blocking check)
		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until anything happens
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RelayConnectedClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("relay client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.RelayConnectedClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("relay client disconnected")
}

// Broadcast queues a message for fan-out. Non-blocking: when the hub's
// buffer is full the frame is dropped with a logged warning; clients
// converge through refetch, so a dropped event degrades latency, not
// correctness.
func (h *Hub) Broadcast(msg *models.Message) {
	select {
	case h.broadcast <- msg:
	default:
		metrics.RelayDroppedBroadcasts.Inc()
		logging.Warn().Str("type", msg.Type).Msg("broadcast channel full, dropping message")
	}
}

// broadcastToClients fans a message out to every connected client.
//
// DETERMINISM: clients are sorted by their monotonic id so delivery order is
// reproducible. A client whose send buffer is full is disconnected rather
// than allowed to stall the rest.
func (h *Hub) broadcastToClients(msg *models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- msg:
			metrics.RelayMessages.WithLabelValues("out").Inc()
		default:
			// Buffer full: the client is too slow to keep.
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("dropping slow relay client")
	}
	if len(toRemove) > 0 {
		metrics.RelayConnectedClients.Set(float64(len(h.clients)))
	}
}

// logGracefulShutdown closes all clients and logs structured shutdown
// information. ctx.Err() is not logged as an error because cancellation is
// expected during graceful shutdown.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "relay-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("relay hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients closes every client in id order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.RelayConnectedClients.Set(0)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
