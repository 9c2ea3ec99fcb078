// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values that would make the process
// misbehave at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be between 1 and 65535, got %d", c.Relay.Port)
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("relay.timeout must be positive, got %v", c.Relay.Timeout)
	}
	if c.Relay.InboundRate < 0 {
		return fmt.Errorf("relay.inbound_rate must not be negative, got %v", c.Relay.InboundRate)
	}

	if c.Channel.URL == "" {
		return fmt.Errorf("channel.url must not be empty")
	}
	if !strings.HasPrefix(c.Channel.URL, "ws://") && !strings.HasPrefix(c.Channel.URL, "wss://") {
		return fmt.Errorf("channel.url must use the ws:// or wss:// scheme, got %q", c.Channel.URL)
	}
	if c.Channel.MaxReconnectAttempts < 1 {
		return fmt.Errorf("channel.max_reconnect_attempts must be at least 1, got %d", c.Channel.MaxReconnectAttempts)
	}
	if c.Channel.ReconnectBase <= 0 {
		return fmt.Errorf("channel.reconnect_base must be positive, got %v", c.Channel.ReconnectBase)
	}
	if c.Channel.PongWait <= c.Channel.PingInterval {
		return fmt.Errorf("channel.pong_wait (%v) must exceed channel.ping_interval (%v)",
			c.Channel.PongWait, c.Channel.PingInterval)
	}
	if c.Channel.MaxMessageSize <= 0 {
		return fmt.Errorf("channel.max_message_size must be positive, got %d", c.Channel.MaxMessageSize)
	}

	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive, got %v", c.Cache.DefaultTTL)
	}

	if c.Security.RequireAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when security.require_auth is enabled")
	}
	if c.Security.RequireAuth && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("logging.level %q is not a valid zerolog level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
