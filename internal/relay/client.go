// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package relay

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ravel-chat/ravel/internal/logging"
	"github.com/ravel-chat/ravel/internal/metrics"
	"github.com/ravel-chat/ravel/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// clientIDCounter generates unique, monotonically increasing client ids.
// DETERMINISM: the id gives broadcasts a stable fan-out order instead of
// non-deterministic map iteration.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	limiter *rate.Limiter
	send    chan *models.Message
}

// NewClient creates a client for an upgraded connection. userID is empty
// when the relay runs without authentication.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, limiter *rate.Limiter) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		conn:    conn,
		userID:  userID,
		limiter: limiter,
		send:    make(chan *models.Message, 256),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump validates inbound frames and hands them to the hub for fan-out.
// A frame that fails validation or the rate limiter is dropped; the
// connection stays up.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.RelayRateLimited.Inc()
			logging.Warn().Uint64("client_id", c.id).Msg("inbound frame rate limited")
			continue
		}

		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Warn().Err(err).Uint64("client_id", c.id).Msg("dropping malformed frame")
			continue
		}
		if msg.Type == "" {
			logging.Warn().Uint64("client_id", c.id).Msg("dropping frame without type")
			continue
		}

		metrics.RelayMessages.WithLabelValues("in").Inc()
		c.hub.Broadcast(&msg)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
					logging.Debug().Err(err).Msg("failed to write close message")
				}
				return
			}

			raw, err := json.Marshal(msg)
			if err != nil {
				logging.Error().Err(err).Msg("failed to marshal outbound frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logging.Error().Err(err).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
