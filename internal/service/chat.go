// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ravel-chat/ravel/internal/models"
)

const chatFeature = "chat"

// Default TTLs for chat data. Message pages change rarely once loaded (new
// messages arrive as invalidations); the unread counter is hot and kept
// short so a missed event self-heals quickly.
const (
	chatMessagesTTL = 2 * time.Minute
	chatUnreadTTL   = 30 * time.Second
)

// ChatBackend is the authoritative chat API.
type ChatBackend interface {
	Messages(ctx context.Context, chatID string, page int) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, msg models.ChatMessage) error
	MarkRead(ctx context.Context, receipt models.ReadReceipt) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// ChatService is the cache-aware facade for conversations.
//
// Key schema:
//
//	chat:<chatID>:messages:<page>
//	chat:<chatID>:meta
//	user:<userID>:unread
type ChatService struct {
	svc     *Service
	backend ChatBackend
	userID  string
	unbind  []func()
}

// NewChatService builds the facade for the given local user and registers
// its invalidation bindings on the shared channel.
func NewChatService(svc *Service, backend ChatBackend, userID string) *ChatService {
	cs := &ChatService{svc: svc, backend: backend, userID: userID}
	cs.unbind = []func(){
		svc.Bind("message:*", chatFeature, cs.onMessage),
		svc.Bind("read:*", chatFeature, cs.onRead),
	}
	return cs
}

// Close removes the service's channel bindings.
func (cs *ChatService) Close() {
	for _, unbind := range cs.unbind {
		unbind()
	}
}

// onMessage invalidates a conversation's pages and the unread counter when
// a message event arrives, local echo included.
func (cs *ChatService) onMessage(msg *models.Message) []string {
	keys := []string{unreadKey(cs.userID)}
	if msg.ScopeID != "" {
		keys = append(keys,
			chatKey(msg.ScopeID, "messages:*"),
			chatKey(msg.ScopeID, "meta"),
		)
	}
	return keys
}

// onRead invalidates conversation metadata and the unread counter when a
// read receipt arrives.
func (cs *ChatService) onRead(msg *models.Message) []string {
	keys := []string{unreadKey(cs.userID)}
	if msg.ScopeID != "" {
		keys = append(keys, chatKey(msg.ScopeID, "meta"))
	}
	return keys
}

// Messages returns one page of a conversation, cached.
func (cs *ChatService) Messages(ctx context.Context, chatID string, page int) ([]models.ChatMessage, error) {
	key := chatKey(chatID, fmt.Sprintf("messages:%d", page))
	return Fetch(ctx, cs.svc, chatFeature, key, chatMessagesTTL,
		func(ctx context.Context) ([]models.ChatMessage, error) {
			return cs.backend.Messages(ctx, chatID, page)
		})
}

// Unread returns the local user's unread message count, cached briefly.
func (cs *ChatService) Unread(ctx context.Context) (int, error) {
	return Fetch(ctx, cs.svc, chatFeature, unreadKey(cs.userID), chatUnreadTTL,
		func(ctx context.Context) (int, error) {
			return cs.backend.UnreadCount(ctx, cs.userID)
		})
}

// SendMessage posts a message: backend call, invalidation of the
// conversation's cached pages, then a real-time emit to the chat's scope.
func (cs *ChatService) SendMessage(ctx context.Context, chatID, body string) error {
	msg := models.ChatMessage{
		MessageID: uuid.NewString(),
		ChatID:    chatID,
		SenderID:  cs.userID,
		Body:      body,
		SentAt:    time.Now().UTC(),
	}

	return cs.svc.Mutate(ctx, Mutation{
		Feature: chatFeature,
		Call: func(ctx context.Context) error {
			return cs.backend.SendMessage(ctx, msg)
		},
		Invalidate: []string{
			chatKey(chatID, "messages:*"),
			chatKey(chatID, "meta"),
		},
		EmitType:    models.TypeMessage,
		EmitPayload: msg,
		EmitScope:   chatID,
	})
}

// MarkRead records the newest message the local user has seen.
func (cs *ChatService) MarkRead(ctx context.Context, chatID, lastMessageID string) error {
	receipt := models.ReadReceipt{
		ChatID:        chatID,
		UserID:        cs.userID,
		LastMessageID: lastMessageID,
	}

	return cs.svc.Mutate(ctx, Mutation{
		Feature: chatFeature,
		Call: func(ctx context.Context) error {
			return cs.backend.MarkRead(ctx, receipt)
		},
		Invalidate: []string{
			chatKey(chatID, "meta"),
			unreadKey(cs.userID),
		},
		EmitType:    models.TypeRead,
		EmitPayload: receipt,
		EmitScope:   chatID,
	})
}

// SetTyping broadcasts a typing indicator. Ephemeral: no backend call, no
// cache interaction, best-effort delivery only.
func (cs *ChatService) SetTyping(ctx context.Context, chatID string, typing bool) error {
	notice := models.TypingNotice{
		ChatID: chatID,
		UserID: cs.userID,
		Typing: typing,
	}
	return cs.svc.Emit(models.TypeTyping, notice, chatID)
}

func chatKey(chatID, suffix string) string {
	return fmt.Sprintf("chat:%s:%s", chatID, suffix)
}

func unreadKey(userID string) string {
	return fmt.Sprintf("user:%s:unread", userID)
}
