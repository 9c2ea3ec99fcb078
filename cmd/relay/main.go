// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package main is the entry point for the Ravel relay server.
//
// The relay is the server half of Ravel's real-time cache synchronization:
// browser and native clients hold one duplex websocket each, and every
// validated frame a client sends is fanned out to all connected clients.
// Clients keep themselves consistent by invalidating their local caches on
// the events they receive and refetching from the authoritative API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, YAML file, env vars)
//  2. Logging: zerolog global logger
//  3. Relay hub: websocket fan-out loop
//  4. HTTP server: chi router with /ws, /metrics, /healthz
//  5. Supervisor tree: suture supervision of hub and HTTP server
//
// # Configuration
//
// Key environment variables (see internal/config for the full set):
//   - RELAY_PORT: listen port (default 8473)
//   - REQUIRE_AUTH / JWT_SECRET: HS256 JWT on websocket upgrades
//   - CORS_ORIGINS: comma-separated browser origins
//   - LOG_LEVEL / LOG_FORMAT: zerolog settings
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server stops
// accepting connections and drains in-flight requests, and the hub closes
// every websocket client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ravel-chat/ravel/internal/config"
	"github.com/ravel-chat/ravel/internal/logging"
	ravelmw "github.com/ravel-chat/ravel/internal/middleware"
	"github.com/ravel-chat/ravel/internal/relay"
	"github.com/ravel-chat/ravel/internal/supervisor"
	"github.com/ravel-chat/ravel/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("port", cfg.Relay.Port).
		Bool("require_auth", cfg.Security.RequireAuth).
		Msg("Starting Ravel relay")

	hub := relay.NewHub()
	router := buildRouter(cfg, hub)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No blanket write timeout: websocket sessions outlive any sane
		// request deadline.
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(services.NewRelayHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
		if err := <-errCh; err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervisor tree stopped with error")
		}
	case err := <-errCh:
		logging.Fatal().Err(err).Msg("Supervisor tree stopped unexpectedly")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Ravel relay stopped")
}

// buildRouter assembles the chi router: the websocket upgrade endpoint,
// Prometheus metrics, and a health probe, behind CORS and per-IP rate
// limiting.
func buildRouter(cfg *config.Config, hub *relay.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(ravelmw.Prometheus)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.Security.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow))
	}

	wsHandler := relay.NewHandler(hub, relay.HandlerConfig{
		AllowedOrigins: corsOriginsForUpgrade(cfg.Security.CORSOrigins),
		RequireAuth:    cfg.Security.RequireAuth,
		JWTSecret:      cfg.Security.JWTSecret,
		InboundRate:    cfg.Relay.InboundRate,
		InboundBurst:   cfg.Relay.InboundBurst,
	})
	r.Handle("/ws", wsHandler)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, hub.ClientCount())
	})

	return r
}

// corsOriginsForUpgrade converts the CORS origin list into the websocket
// handler's whitelist. A wildcard means "accept any origin".
func corsOriginsForUpgrade(origins []string) []string {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return origins
}
