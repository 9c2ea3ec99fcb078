// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/ravel-chat/ravel/internal/config"
	"github.com/ravel-chat/ravel/internal/models"
)

// testRelay is a minimal websocket endpoint that hands accepted server-side
// connections to the test for direct manipulation.
type testRelay struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	r := &testRelay{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}

	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.conns <- conn
	}))
	t.Cleanup(r.srv.Close)

	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// accept waits for the next server-side connection.
func (r *testRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-r.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

// sleepRecorder replaces the channel's backoff sleep so tests observe the
// scheduled delays without waiting them out.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration, cancel <-chan struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-cancel:
		return false
	default:
	}
	r.delays = append(r.delays, d)
	return true
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func newTestChannel(t *testing.T, url string) (*Channel, *sleepRecorder) {
	t.Helper()

	ch := New(Config{
		URL:                  url,
		ReconnectBase:        100 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	rec := &sleepRecorder{}
	ch.sleep = rec.sleep
	t.Cleanup(ch.Disconnect)

	return ch, rec
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", ch.State(), want)
}

func TestNewFromConfigMapsChannelSection(t *testing.T) {
	ch := NewFromConfig(config.ChannelConfig{
		URL:                  "wss://relay.example.com/ws",
		HandshakeTimeout:     3 * time.Second,
		ReconnectBase:        250 * time.Millisecond,
		MaxReconnectAttempts: 7,
		PingInterval:         20 * time.Second,
		PongWait:             45 * time.Second,
		WriteWait:            5 * time.Second,
		MaxMessageSize:       64 * 1024,
	})

	want := Config{
		URL:                  "wss://relay.example.com/ws",
		HandshakeTimeout:     3 * time.Second,
		ReconnectBase:        250 * time.Millisecond,
		MaxReconnectAttempts: 7,
		PingInterval:         20 * time.Second,
		PongWait:             45 * time.Second,
		WriteWait:            5 * time.Second,
		MaxMessageSize:       64 * 1024,
	}
	if ch.cfg != want {
		t.Errorf("cfg = %+v, want %+v", ch.cfg, want)
	}

	// Unset knobs still pick up the channel defaults.
	ch = NewFromConfig(config.ChannelConfig{URL: "ws://localhost/ws"})
	if ch.cfg.PongWait != 60*time.Second || ch.cfg.MaxMessageSize != 512*1024 {
		t.Errorf("defaults not applied: %+v", ch.cfg)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	relay := newTestRelay(t)
	ch, _ := newTestChannel(t, relay.url())

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	relay.accept(t)

	if !ch.IsConnected() {
		t.Fatalf("state = %v, want connected", ch.State())
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Errorf("second Connect = %v, want nil no-op", err)
	}

	ch.Disconnect()
	if ch.State() != StateDisconnected {
		t.Errorf("state after Disconnect = %v, want disconnected", ch.State())
	}
}

func TestConnectFailureLeavesDisconnected(t *testing.T) {
	ch, rec := newTestChannel(t, "ws://127.0.0.1:1/ws")

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("Connect to dead endpoint succeeded, want error")
	}
	if ch.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", ch.State())
	}
	// A failed manual Connect must not schedule reconnection.
	if d := rec.recorded(); len(d) != 0 {
		t.Errorf("reconnect delays scheduled after manual dial failure: %v", d)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ch, _ := newTestChannel(t, "ws://127.0.0.1:1/ws")

	err := ch.Send(models.TypeMessage, models.ChatMessage{Body: "hi"}, "42")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestSendAndReceive(t *testing.T) {
	relay := newTestRelay(t)
	ch, _ := newTestChannel(t, relay.url())

	received := make(chan *models.Message, 1)
	ch.Subscribe("message:42", func(msg *models.Message) {
		received <- msg
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)

	// Outbound: the relay sees a complete envelope.
	if err := ch.Send(models.TypeMessage, models.ChatMessage{Body: "hello"}, "42"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var out models.Message
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("server unmarshal: %v", err)
	}
	if out.Type != models.TypeMessage || out.ScopeID != "42" || out.ID == "" {
		t.Errorf("outbound envelope = %+v, want type/scope/id populated", out)
	}

	// Inbound: a relay frame reaches the matching subscription.
	inbound, err := models.New(models.TypeMessage, models.ChatMessage{Body: "welcome"}, "42")
	if err != nil {
		t.Fatalf("models.New: %v", err)
	}
	frame, _ := json.Marshal(inbound)
	if err := server.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case msg := <-received:
		var body models.ChatMessage
		if err := msg.Decode(&body); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if body.Body != "welcome" {
			t.Errorf("body = %q, want %q", body.Body, "welcome")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound dispatch")
	}
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	relay := newTestRelay(t)
	ch, rec := newTestChannel(t, relay.url())

	ch.Subscribe("*", func(*models.Message) {})

	disconnected := make(chan struct{})
	var gotTerminal bool
	ch.OnDisconnect(func(err error, terminal bool) {
		gotTerminal = terminal
		close(disconnected)
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("server close: %v", err)
	}

	waitSignal(t, disconnected, "disconnect callback")
	waitState(t, ch, StateDisconnected)

	if gotTerminal {
		t.Error("clean close reported terminal=true, want false")
	}
	if d := rec.recorded(); len(d) != 0 {
		t.Errorf("clean close scheduled reconnects: %v", d)
	}
	// Subscriptions survive a network-triggered close.
	if ch.subs.count() != 1 {
		t.Errorf("subscriptions after clean close = %d, want 1", ch.subs.count())
	}
}

func TestUncleanCloseReconnects(t *testing.T) {
	relay := newTestRelay(t)
	ch, rec := newTestChannel(t, relay.url())

	connects := make(chan struct{}, 4)
	ch.OnConnect(func() { connects <- struct{}{} })

	received := make(chan *models.Message, 1)
	ch.Subscribe("message:*", func(msg *models.Message) { received <- msg })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := relay.accept(t)
	waitSignal(t, connects, "first connect callback")

	// Kill the TCP connection without a close frame.
	_ = first.UnderlyingConn().Close()

	second := relay.accept(t)
	waitSignal(t, connects, "reconnect callback")
	waitState(t, ch, StateConnected)

	delays := rec.recorded()
	if len(delays) != 1 || delays[0] != 100*time.Millisecond {
		t.Errorf("backoff delays = %v, want [100ms]", delays)
	}

	// The surviving subscription dispatches on the new session.
	inbound, _ := models.New(models.TypeMessage, models.ChatMessage{Body: "back"}, "9")
	frame, _ := json.Marshal(inbound)
	if err := second.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("server write after reconnect: %v", err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not survive reconnect")
	}
}

func TestReconnectExhaustion(t *testing.T) {
	relay := newTestRelay(t)
	ch, rec := newTestChannel(t, relay.url())

	terminal := make(chan error, 1)
	ch.OnDisconnect(func(err error, isTerminal bool) {
		if isTerminal {
			terminal <- err
		}
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)

	// Take the relay away entirely, then break the connection.
	relay.srv.Close()
	_ = server.UnderlyingConn().Close()

	select {
	case err := <-terminal:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("terminal error = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal disconnect")
	}

	waitState(t, ch, StateDisconnected)

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	delays := rec.recorded()
	if len(delays) != len(want) {
		t.Fatalf("backoff delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDisconnectDuringReconnectLeavesDisconnected(t *testing.T) {
	relay := newTestRelay(t)
	ch, _ := newTestChannel(t, relay.url())

	// The first backoff lets Disconnect land before the redial fails, so the
	// loop's reconnecting transition races the caller's disconnected state.
	ch.sleep = func(_ time.Duration, cancel <-chan struct{}) bool {
		select {
		case <-cancel:
			return false
		default:
		}
		ch.Disconnect()
		return true
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := relay.accept(t)

	relay.srv.Close()
	_ = server.UnderlyingConn().Close()

	waitState(t, ch, StateDisconnected)
}

func TestDisconnectClearsSubscriptions(t *testing.T) {
	relay := newTestRelay(t)
	ch, _ := newTestChannel(t, relay.url())

	ch.Subscribe("*", func(*models.Message) {})
	ch.Subscribe("message", func(*models.Message) {})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	relay.accept(t)

	ch.Disconnect()

	if ch.subs.count() != 0 {
		t.Errorf("subscriptions after Disconnect = %d, want 0", ch.subs.count())
	}
}
