// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/ravel-chat/ravel/internal/config"
	"github.com/ravel-chat/ravel/internal/logging"
	"github.com/ravel-chat/ravel/internal/metrics"
	"github.com/ravel-chat/ravel/internal/models"
)

// Sentinel errors surfaced to callers.
var (
	// ErrNotConnected is returned by Send when the channel is not connected.
	// The message is dropped, never queued (at-most-once, best-effort).
	ErrNotConnected = errors.New("channel: not connected")

	// ErrReconnectExhausted is passed to disconnect callbacks (with
	// terminal=true) when the reconnect attempt cap is reached. The channel
	// stays disconnected until a manual Connect.
	ErrReconnectExhausted = errors.New("channel: reconnect attempts exhausted")
)

// State is the channel's connection state.
//
// Transitions: disconnected -> connecting -> connected ->
// (disconnected | reconnecting -> connecting).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds channel configuration.
type Config struct {
	// URL is the relay websocket endpoint (ws:// or wss://).
	URL string

	// HandshakeTimeout bounds the websocket dial. Default: 10s
	HandshakeTimeout time.Duration

	// ReconnectBase is the first reconnect delay after an unclean close.
	// Attempt n waits ReconnectBase * 2^(n-1). Default: 1s
	ReconnectBase time.Duration

	// MaxReconnectAttempts caps automatic reconnection. After the cap the
	// channel reports a fatal disconnection and gives up. Default: 5
	MaxReconnectAttempts int

	// PingInterval is the keepalive ping period. Default: 30s
	PingInterval time.Duration

	// PongWait is the read deadline, extended on every pong. Default: 60s
	PongWait time.Duration

	// WriteWait bounds every write. Default: 10s
	WriteWait time.Duration

	// MaxMessageSize limits inbound frames in bytes. Default: 512 KB
	MaxMessageSize int64
}

// withDefaults fills zero values with production defaults.
func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 1 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 512 * 1024
	}
	return c
}

// ConnectFunc is invoked when the channel reaches the connected state,
// including after an automatic reconnect.
type ConnectFunc func()

// DisconnectFunc is invoked when the channel leaves the connected state
// without a caller-initiated Disconnect. terminal is true only when
// reconnection is exhausted (err is then ErrReconnectExhausted).
type DisconnectFunc func(err error, terminal bool)

// Channel wraps a single duplex websocket connection to the relay: it
// manages connect/reconnect with exponential backoff, topic-style
// subscriptions, and inbound message dispatch.
//
// A Channel is a process-wide singleton by convention — data services
// borrow a reference, they never own it.
type Channel struct {
	cfg Config

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	stop          chan struct{}
	nextCallback  uint64
	connectCbs    map[uint64]ConnectFunc
	disconnectCbs map[uint64]DisconnectFunc

	// writeMu serializes frame writes (Send, pings, close frames).
	writeMu sync.Mutex

	subs *subscriptions

	// sleep is replaceable in tests to observe backoff delays without
	// real waiting. Returns false when the cancel channel fires first.
	sleep func(d time.Duration, cancel <-chan struct{}) bool
}

// New creates a channel for the configured relay URL. The channel starts
// disconnected; call Connect.
func New(cfg Config) *Channel {
	return &Channel{
		cfg:           cfg.withDefaults(),
		subs:          newSubscriptions(),
		connectCbs:    make(map[uint64]ConnectFunc),
		disconnectCbs: make(map[uint64]DisconnectFunc),
		sleep:         sleepWithCancel,
	}
}

// NewFromConfig creates a channel from the application's channel section, so
// client binaries build the sync layer from the same layered config file the
// relay daemon loads.
func NewFromConfig(cc config.ChannelConfig) *Channel {
	return New(Config{
		URL:                  cc.URL,
		HandshakeTimeout:     cc.HandshakeTimeout,
		ReconnectBase:        cc.ReconnectBase,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		PingInterval:         cc.PingInterval,
		PongWait:             cc.PongWait,
		WriteWait:            cc.WriteWait,
		MaxMessageSize:       cc.MaxMessageSize,
	})
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel is connected.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the websocket connection.
//
// Idempotent: returns nil without side effects when already connecting or
// connected. On transport-level open the channel transitions to connected,
// fires all registered connect callbacks, and resets the reconnect attempt
// counter. A dial failure returns the error and leaves the channel
// disconnected (manual Connect does not retry; only unclean closes do).
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	if err := c.dial(ctx, stop); err != nil {
		c.transition(StateDisconnected)
		return err
	}
	return nil
}

// dial performs one websocket dial and, on success, installs the
// connection, fires connect callbacks, and starts the read and ping loops.
func (c *Channel) dial(ctx context.Context, stop <-chan struct{}) error {
	dialer := websocket.Dialer{
		HandshakeTimeout:  c.cfg.HandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("channel dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("channel dial: %w", err)
	}

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		logging.Warn().Err(err).Msg("channel: failed to set read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	c.mu.Lock()
	select {
	case <-stop:
		// Disconnect raced the dial; discard the fresh connection.
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("channel: disconnected during dial")
	default:
	}
	c.conn = conn
	c.setStateLocked(StateConnected)
	cbs := make([]ConnectFunc, 0, len(c.connectCbs))
	for _, cb := range c.connectCbs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	logging.Info().Str("url", c.cfg.URL).Msg("channel connected")

	for _, cb := range cbs {
		cb()
	}

	go c.readLoop(conn, stop)
	go c.pingLoop(conn, stop)

	return nil
}

// Disconnect sends a clean close frame and transitions to disconnected.
//
// This is the only path that clears subscriptions and registered lifecycle
// callbacks; network-triggered closes leave them in place for the
// reconnected session. Never triggers reconnection. Safe to call when
// already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.connectCbs = make(map[uint64]ConnectFunc)
	c.disconnectCbs = make(map[uint64]DisconnectFunc)
	c.mu.Unlock()

	c.subs.clear()

	if conn != nil {
		c.writeMu.Lock()
		deadline := time.Now().Add(c.cfg.WriteWait)
		if err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		); err != nil {
			logging.Debug().Err(err).Msg("channel: failed to send close frame")
		}
		_ = conn.Close()
		c.writeMu.Unlock()
	}

	logging.Info().Msg("channel disconnected")
}

// Send marshals a message envelope and transmits it when connected.
//
// When the channel is not connected the message is dropped with a logged
// warning and ErrNotConnected — it is never queued. Delivery is at-most-once
// and best-effort by design; callers that need confirmation converge through
// the invalidate/refetch path instead.
func (c *Channel) Send(msgType string, payload any, scopeID string) error {
	msg, err := models.New(msgType, payload, scopeID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		metrics.ChannelDroppedSends.Inc()
		logging.Warn().
			Str("type", msgType).
			Str("state", state.String()).
			Msg("channel send dropped: not connected")
		return ErrNotConnected
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("channel: marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		logging.Warn().Err(err).Msg("channel: failed to set write deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		logging.Warn().Err(err).Str("type", msgType).Msg("channel send failed")
		return fmt.Errorf("channel: send %s: %w", msgType, err)
	}

	metrics.ChannelMessages.WithLabelValues("out", msgType).Inc()
	return nil
}

// Subscribe registers a callback for every inbound message matching
// pattern (see MatchTopic) and returns the unsubscribe function. Dispatch
// happens in registration order.
func (c *Channel) Subscribe(pattern string, cb Callback) func() {
	id := c.subs.add(pattern, cb)
	return func() { c.subs.remove(id) }
}

// OnConnect registers a callback fired on every transition to connected.
// Returns a function that unregisters it.
func (c *Channel) OnConnect(fn ConnectFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextCallback++
	id := c.nextCallback
	c.connectCbs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connectCbs, id)
	}
}

// OnDisconnect registers a callback fired when the connection is lost
// without a caller-initiated Disconnect. Returns a function that
// unregisters it.
func (c *Channel) OnDisconnect(fn DisconnectFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextCallback++
	id := c.nextCallback
	c.disconnectCbs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.disconnectCbs, id)
	}
}

// readLoop reads frames until the connection fails or Disconnect stops the
// session, dispatching each message to matching subscriptions.
func (c *Channel) readLoop(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, stop, err)
			return
		}

		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Warn().Err(err).Msg("channel: dropping malformed frame")
			continue
		}

		metrics.ChannelMessages.WithLabelValues("in", msg.Type).Inc()
		c.subs.dispatch(&msg)
	}
}

// handleReadError classifies a read failure: caller-initiated disconnects
// end quietly, clean server closes end without reconnection, and everything
// else enters the backoff reconnect loop.
func (c *Channel) handleReadError(conn *websocket.Conn, stop <-chan struct{}, err error) {
	select {
	case <-stop:
		// Caller-initiated Disconnect; it already handled state.
		return
	default:
	}

	c.dropConn(conn)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		// Clean close from the peer: no reconnection, subscriptions stay
		// registered for a future manual Connect.
		logging.Info().Msg("channel closed by peer")
		c.transition(StateDisconnected)
		c.fireDisconnect(err, false)
		return
	}

	logging.Warn().Err(err).Msg("channel connection lost")
	c.fireDisconnect(err, false)
	c.reconnectLoop(stop)
}

// reconnectLoop retries the dial with exponential backoff
// (base, 2*base, 4*base, ...) up to MaxReconnectAttempts, then gives up and
// reports a fatal disconnection.
func (c *Channel) reconnectLoop(stop <-chan struct{}) {
	c.transition(StateReconnecting)

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.cfg.ReconnectBase << (attempt - 1)
		logging.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("channel reconnect scheduled")

		if !c.sleep(delay, stop) {
			// Disconnect cancelled the backoff. Its state write may predate
			// this loop's last transition, so reassert it, but never stomp a
			// newer manual Connect.
			c.transitionIf(StateReconnecting, StateDisconnected)
			return
		}

		metrics.ChannelReconnectAttempts.Inc()
		c.transition(StateConnecting)

		if err := c.dial(context.Background(), stop); err != nil {
			logging.Warn().Err(err).Int("attempt", attempt).Msg("channel reconnect failed")
			c.transition(StateReconnecting)
			continue
		}

		logging.Info().Int("attempt", attempt).Msg("channel reconnected")
		return
	}

	c.transition(StateDisconnected)
	logging.Error().
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Msg("channel reconnect exhausted, giving up")
	c.fireDisconnect(ErrReconnectExhausted, true)
}

// pingLoop sends keepalive pings until the connection goes away.
func (c *Channel) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}

			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				logging.Warn().Err(err).Msg("channel ping failed")
				// Closing the connection surfaces the failure to the read
				// loop, which owns reconnection.
				_ = conn.Close()
				return
			}
		}
	}
}

// dropConn closes and forgets the connection if it is still current.
func (c *Channel) dropConn(conn *websocket.Conn) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// transition moves the channel to a new state with logging and metrics.
func (c *Channel) transition(state State) {
	c.mu.Lock()
	c.setStateLocked(state)
	c.mu.Unlock()
}

// transitionIf moves to next only while the channel is still in cur.
func (c *Channel) transitionIf(cur, next State) {
	c.mu.Lock()
	if c.state == cur {
		c.setStateLocked(next)
	}
	c.mu.Unlock()
}

// setStateLocked updates state, the gauge, and the transition log (mu held).
func (c *Channel) setStateLocked(state State) {
	if c.state == state {
		return
	}
	logging.Debug().
		Str("from", c.state.String()).
		Str("to", state.String()).
		Msg("channel state transition")
	c.state = state
	metrics.ChannelState.Set(float64(state))
}

// fireDisconnect invokes registered disconnect callbacks outside the lock.
func (c *Channel) fireDisconnect(err error, terminal bool) {
	c.mu.Lock()
	cbs := make([]DisconnectFunc, 0, len(c.disconnectCbs))
	for _, cb := range c.disconnectCbs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(err, terminal)
	}
}

// sleepWithCancel waits d or until cancel fires, whichever comes first.
func sleepWithCancel(d time.Duration, cancel <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-cancel:
		return false
	}
}
