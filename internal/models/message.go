// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package models defines the wire envelope and feature payloads exchanged
// over the real-time channel.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event types carried in the Message envelope.
//
// Subscribers match on these via channel patterns ("message:42", "typing:*").
// Unknown types are valid on the wire; subscribers simply never match them.
const (
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeRead         = "read"
	TypeOnlineStatus = "online_status"
	TypePostCreated  = "post_created"
	TypePostReaction = "post_reaction"
)

// Message is the JSON envelope for every frame on the duplex channel:
//
//	{"id": "...", "type": "message", "data": {...}, "timestamp": "...", "scopeId": "42"}
//
// ScopeID routes the event to interested subscribers (a chat id, a user id)
// and is optional; broadcast-style events (post_created) omit it.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ScopeID   string          `json:"scopeId,omitempty"`
}

// New builds a Message envelope, marshaling the payload and stamping a
// unique id and UTC send time.
func New(msgType string, payload any, scopeID string) (*Message, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		data = raw
	}

	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		ScopeID:   scopeID,
	}, nil
}

// Decode unmarshals the envelope's data payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("decode %s payload: empty data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// ChatMessage is the payload of a "message" event.
type ChatMessage struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// TypingNotice is the payload of a "typing" event. It is ephemeral and
// never cached.
type TypingNotice struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// ReadReceipt is the payload of a "read" event.
type ReadReceipt struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	// LastMessageID is the newest message the user has seen.
	LastMessageID string `json:"last_message_id"`
}

// OnlineStatus is the payload of an "online_status" event.
type OnlineStatus struct {
	UserID string    `json:"user_id"`
	Online bool      `json:"online"`
	SeenAt time.Time `json:"seen_at"`
}

// Post is the payload of a "post_created" event and the unit returned by
// the post service's fetchers.
type Post struct {
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Reactions int       `json:"reactions"`
}

// Reaction is the payload of a "post_reaction" event.
type Reaction struct {
	PostID string `json:"post_id"`
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	// Delta is +1 for adding a reaction, -1 for removing one.
	Delta int `json:"delta"`
}
