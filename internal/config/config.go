// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package config defines Ravel's configuration and its layered loader
// (defaults, optional YAML file, environment variables).
package config

import "time"

// Config is the root configuration for the relay process.
type Config struct {
	Relay    RelayConfig    `koanf:"relay"`
	Channel  ChannelConfig  `koanf:"channel"`
	Cache    CacheConfig    `koanf:"cache"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// RelayConfig configures the websocket relay server.
type RelayConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// InboundRate and InboundBurst bound each client's inbound frame rate.
	// Zero rate disables limiting.
	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`
}

// ChannelConfig configures the client-side channel (reconnect policy,
// keepalive, frame limits). The relay daemon never dials it; client binaries
// construct theirs from this section via channel.NewFromConfig, so one
// layered config file drives both halves.
type ChannelConfig struct {
	URL                  string        `koanf:"url"`
	HandshakeTimeout     time.Duration `koanf:"handshake_timeout"`
	ReconnectBase        time.Duration `koanf:"reconnect_base"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	PingInterval         time.Duration `koanf:"ping_interval"`
	PongWait             time.Duration `koanf:"pong_wait"`
	WriteWait            time.Duration `koanf:"write_wait"`
	MaxMessageSize       int64         `koanf:"max_message_size"`
}

// CacheConfig configures the TTL cache store.
type CacheConfig struct {
	DefaultTTL      time.Duration `koanf:"default_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// SecurityConfig configures authentication and browser access.
type SecurityConfig struct {
	// RequireAuth demands a valid JWT on every websocket upgrade.
	RequireAuth bool   `koanf:"require_auth"`
	JWTSecret   string `koanf:"jwt_secret"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs/RateLimitWindow bound HTTP requests per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
