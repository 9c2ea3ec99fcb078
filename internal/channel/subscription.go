// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package channel

import (
	"strings"
	"sync"

	"github.com/ravel-chat/ravel/internal/logging"
	"github.com/ravel-chat/ravel/internal/metrics"
	"github.com/ravel-chat/ravel/internal/models"
)

// Callback is invoked once per inbound message matching a subscription's
// pattern. Callbacks run on the channel's read goroutine; long work should
// be handed off.
type Callback func(msg *models.Message)

// subscription is one registered pattern/callback pair.
type subscription struct {
	id       uint64
	pattern  string
	callback Callback
}

// subscriptions holds registered subscriptions in registration order.
//
// Dispatch order is the order of Subscribe calls, and a panicking callback
// is isolated so the remaining subscribers still receive the message.
type subscriptions struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{}
}

// add registers a callback and returns its id.
func (s *subscriptions) add(pattern string, cb Callback) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.subs = append(s.subs, subscription{id: s.nextID, pattern: pattern, callback: cb})
	metrics.ChannelSubscriptions.Set(float64(len(s.subs)))
	return s.nextID
}

// remove deletes a subscription by id; no-op if already removed.
func (s *subscriptions) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	metrics.ChannelSubscriptions.Set(float64(len(s.subs)))
}

// clear drops every subscription. Only Disconnect calls this; network
// triggered closes keep subscriptions registered for the reconnected
// session.
func (s *subscriptions) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = nil
	metrics.ChannelSubscriptions.Set(0)
}

// count returns the number of registered subscriptions.
func (s *subscriptions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// dispatch delivers a message to every matching subscription in
// registration order, isolating callback panics so one failing subscriber
// does not block the others or kill the read loop.
func (s *subscriptions) dispatch(msg *models.Message) {
	s.mu.Lock()
	matched := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if MatchTopic(sub.pattern, msg) {
			matched = append(matched, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range matched {
		invoke(sub, msg)
	}
}

// invoke runs a single callback with panic isolation.
func invoke(sub subscription, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ChannelSubscriberPanics.Inc()
			logging.Error().
				Interface("panic", r).
				Str("pattern", sub.pattern).
				Str("message_type", msg.Type).
				Msg("subscriber callback panicked")
		}
	}()

	sub.callback(msg)
}

// MatchTopic reports whether an inbound message matches a subscription
// pattern:
//
//	"*"          matches every message
//	"message"    matches by type alone
//	"message:42" matches type "message" with scope "42"
//	"message:*"  matches type "message" with any scope
func MatchTopic(pattern string, msg *models.Message) bool {
	if pattern == "*" {
		return true
	}

	if msgType, scope, ok := strings.Cut(pattern, ":"); ok {
		if msgType != msg.Type {
			return false
		}
		return scope == "*" || scope == msg.ScopeID
	}

	return pattern == msg.Type
}
