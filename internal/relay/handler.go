// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package relay

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ravel-chat/ravel/internal/logging"
)

// HandlerConfig controls the websocket upgrade endpoint.
type HandlerConfig struct {
	// AllowedOrigins whitelists browser origins for the upgrade. Empty
	// allows any origin (development mode).
	AllowedOrigins []string

	// RequireAuth demands a valid HS256 JWT on every upgrade, taken from
	// the "token" query parameter or an Authorization: Bearer header.
	RequireAuth bool

	// JWTSecret is the HS256 signing secret. Required when RequireAuth.
	JWTSecret string

	// InboundRate and InboundBurst bound each client's inbound frame rate.
	// Zero rate disables limiting.
	InboundRate  float64
	InboundBurst int
}

// Handler upgrades HTTP requests to relay websocket sessions. Mount it on a
// chi router at the /ws path.
type Handler struct {
	hub      *Hub
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler builds the upgrade handler for a hub.
func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	h := &Handler{hub: hub, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
		CheckOrigin:       h.checkOrigin,
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if h.cfg.RequireAuth {
		uid, err := h.authenticate(r)
		if err != nil {
			logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("relay upgrade rejected")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = uid
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	var limiter *rate.Limiter
	if h.cfg.InboundRate > 0 {
		burst := h.cfg.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.cfg.InboundRate), burst)
	}

	client := NewClient(h.hub, conn, userID, limiter)
	h.hub.Register <- client
	client.Start()
}

// checkOrigin enforces the configured origin whitelist.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// authenticate validates the upgrade request's JWT and returns its subject.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		auth := r.Header.Get("Authorization")
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			tokenStr = rest
		}
	}
	if tokenStr == "" {
		return "", fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
