// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package models

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNewMessageEnvelope(t *testing.T) {
	payload := ChatMessage{
		MessageID: "m1",
		ChatID:    "42",
		SenderID:  "u7",
		Body:      "hello",
		SentAt:    time.Now().UTC(),
	}

	msg, err := New(TypeMessage, payload, "42")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if msg.ID == "" {
		t.Error("expected non-empty message id")
	}
	if msg.Type != TypeMessage {
		t.Errorf("expected type %q, got %q", TypeMessage, msg.Type)
	}
	if msg.ScopeID != "42" {
		t.Errorf("expected scope 42, got %q", msg.ScopeID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	var decoded ChatMessage
	if err := msg.Decode(&decoded); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.Body != "hello" || decoded.ChatID != "42" {
		t.Errorf("payload round-trip mismatch: %+v", decoded)
	}
}

func TestMessageScopeOmittedWhenEmpty(t *testing.T) {
	msg, err := New(TypePostCreated, Post{PostID: "p1"}, "")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if strings.Contains(string(raw), "scopeId") {
		t.Errorf("empty scope should be omitted from wire format: %s", raw)
	}
}

func TestDecodeEmptyData(t *testing.T) {
	msg, err := New(TypeTyping, nil, "42")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	var notice TypingNotice
	if err := msg.Decode(&notice); err == nil {
		t.Error("expected error decoding empty data")
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	raw := []byte(`{"id":"abc","type":"message","data":{"chat_id":"9"},"timestamp":"2026-01-02T03:04:05Z","scopeId":"9"}`)

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if msg.Type != TypeMessage || msg.ScopeID != "9" {
		t.Errorf("unexpected envelope: %+v", msg)
	}

	var cm ChatMessage
	if err := msg.Decode(&cm); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if cm.ChatID != "9" {
		t.Errorf("expected chat 9, got %q", cm.ChatID)
	}
}
