// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

// Package metrics provides Prometheus instrumentation for Ravel.
//
// Collectors cover the cache layer (hits, misses, evictions), the real-time
// channel (state, reconnects, message flow), the data services (fetch
// latency, single-flight sharing, circuit breaker state) and the relay
// (connected clients, broadcast drops). Everything is registered through
// promauto on the default registry and exposed by cmd/relay at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_cache_evictions_total",
			Help: "Total number of cache entries removed (expiry, invalidation, rollback)",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_cache_invalidations_total",
			Help: "Total number of pattern invalidations",
		},
		[]string{"feature"}, // "chat", "posts"
	)

	// Channel metrics
	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_channel_state",
			Help: "Current channel state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		},
	)

	ChannelReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_channel_reconnect_attempts_total",
			Help: "Total number of reconnect attempts after unclean closes",
		},
	)

	ChannelMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_channel_messages_total",
			Help: "Total number of channel messages by direction and type",
		},
		[]string{"direction", "type"}, // direction: "in", "out"
	)

	ChannelDroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_channel_dropped_sends_total",
			Help: "Total number of sends dropped because the channel was not connected",
		},
	)

	ChannelSubscriberPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_channel_subscriber_panics_total",
			Help: "Total number of subscriber callbacks that panicked during dispatch",
		},
	)

	ChannelSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_channel_subscriptions",
			Help: "Current number of registered channel subscriptions",
		},
	)

	// Data service metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ravel_fetch_duration_seconds",
			Help:    "Duration of authoritative fetches on cache miss",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feature"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_fetch_errors_total",
			Help: "Total number of failed authoritative fetches",
		},
		[]string{"feature"},
	)

	FetchShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_fetch_shared_total",
			Help: "Total number of fetches answered by an already in-flight fetch (single-flight)",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ravel_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// Optimistic mutation metrics
	OptimisticRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_optimistic_rollbacks_total",
			Help: "Total number of optimistic rollbacks by outcome",
		},
		[]string{"outcome"}, // "applied", "superseded"
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_http_requests_total",
			Help: "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ravel_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// Relay metrics
	RelayConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ravel_relay_connected_clients",
			Help: "Current number of websocket clients connected to the relay",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ravel_relay_messages_total",
			Help: "Total number of relay messages by direction",
		},
		[]string{"direction"}, // "in", "out"
	)

	RelayDroppedBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_relay_dropped_broadcasts_total",
			Help: "Total number of broadcasts dropped because the hub channel was full",
		},
	)

	RelayRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ravel_relay_rate_limited_total",
			Help: "Total number of inbound frames dropped by the per-client rate limiter",
		},
	)
)

// ObserveFetch records the latency of an authoritative fetch.
func ObserveFetch(feature string, start time.Time) {
	FetchDuration.WithLabelValues(feature).Observe(time.Since(start).Seconds())
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, status).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight HTTP request gauge.
func TrackActiveRequest(active bool) {
	if active {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}
