// Ravel - Real-Time Cache Synchronization for Social Applications
// Copyright 2026 Marc Weidner (ravel-chat)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ravel-chat/ravel

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ravel-chat/ravel/internal/cache"
	"github.com/ravel-chat/ravel/internal/channel"
	"github.com/ravel-chat/ravel/internal/logging"
	"github.com/ravel-chat/ravel/internal/metrics"
	"github.com/ravel-chat/ravel/internal/models"
	"github.com/ravel-chat/ravel/internal/optimistic"
)

// Fetcher loads a value from the authoritative backend on a cache miss.
type Fetcher func(ctx context.Context) (any, error)

// Transport is the slice of the real-time channel the data services use.
// *channel.Channel satisfies it.
type Transport interface {
	Send(msgType string, payload any, scopeID string) error
	Subscribe(pattern string, cb channel.Callback) func()
}

// Mutation describes one write-invalidate operation.
type Mutation struct {
	// Feature labels metrics and logs ("chat", "posts").
	Feature string

	// Call performs the authoritative network write. It must succeed before
	// any cache state is touched.
	Call func(ctx context.Context) error

	// Invalidate lists cache patterns dropped after Call succeeds, so the
	// next read refetches the confirmed state.
	Invalidate []string

	// EmitType, when non-empty, names a real-time event sent after
	// invalidation. Emission is best-effort: a disconnected channel drops it
	// and remote peers converge through their own refetch.
	EmitType    string
	EmitPayload any
	EmitScope   string
}

// Service is the shared cache-aware core the feature services are built on.
type Service struct {
	cache      *cache.Cache
	transport  Transport
	speculator *optimistic.Coordinator
	sf         singleflight.Group
	cb         *gobreaker.CircuitBreaker[any]
	cbName     string
}

// New wires a service over the shared cache and channel.
//
// Authoritative fetches run behind a circuit breaker that opens at a 60%
// failure rate over at least 10 requests, waits 30 seconds before probing
// half-open, and allows 3 concurrent probes.
func New(c *cache.Cache, transport Transport) *Service {
	cbName := "authoritative-fetch"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("fetch circuit breaker opening")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("fetch circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &Service{
		cache:      c,
		transport:  transport,
		speculator: optimistic.New(c),
		cb:         cb,
		cbName:     cbName,
	}
}

// GetCached returns the cached value for key or loads it from fetch.
//
// Concurrent misses on the same key share a single fetch. A fetch error is
// returned to every waiter and never cached; the next read retries.
func (s *Service) GetCached(ctx context.Context, feature, key string, ttl time.Duration, fetch Fetcher) (any, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	v, err, shared := s.sf.Do(key, func() (any, error) {
		// A concurrent flight may have filled the key between our miss and
		// this closure running.
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}

		start := time.Now()
		result, err := s.execute(func() (any, error) { return fetch(ctx) })
		if err != nil {
			metrics.FetchErrors.WithLabelValues(feature).Inc()
			return nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		metrics.ObserveFetch(feature, start)

		s.cache.SetWithTTL(key, result, ttl)
		return result, nil
	})
	if shared {
		metrics.FetchShared.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// execute runs one authoritative call through the circuit breaker, keeping
// the per-outcome request metrics current.
func (s *Service) execute(fn func() (any, error)) (any, error) {
	result, err := s.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(s.cbName, "rejected").Inc()
			logging.Warn().Err(err).Msg("fetch rejected by circuit breaker")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(s.cbName, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(s.cbName, "success").Inc()
	return result, nil
}

// Mutate performs a write-invalidate operation: the authoritative call, then
// pattern invalidation, then an optional best-effort emit. A failed call
// leaves the cache untouched and the error is returned as-is.
func (s *Service) Mutate(ctx context.Context, m Mutation) error {
	if err := m.Call(ctx); err != nil {
		return err
	}

	s.Invalidate(m.Feature, m.Invalidate...)

	if m.EmitType != "" {
		if err := s.transport.Send(m.EmitType, m.EmitPayload, m.EmitScope); err != nil {
			// Peers converge via invalidation on their side; nothing to do.
			logging.Debug().Err(err).Str("type", m.EmitType).Msg("mutation emit dropped")
		}
	}
	return nil
}

// Invalidate drops every cache entry matching the given patterns and
// returns the number of removed entries.
func (s *Service) Invalidate(feature string, patterns ...string) int {
	total := 0
	for _, p := range patterns {
		n := s.cache.InvalidatePattern(p)
		total += n
		metrics.CacheInvalidations.WithLabelValues(feature).Inc()
		if n > 0 {
			logging.Debug().Str("pattern", p).Int("removed", n).Msg("cache invalidated")
		}
	}
	return total
}

// Speculate applies an optimistic cache write and returns its rollback.
func (s *Service) Speculate(key string, value any, ttl time.Duration) optimistic.Rollback {
	return s.speculator.Apply(key, value, ttl)
}

// Emit sends a real-time event without touching the cache. Used for
// ephemeral signals (typing, presence) that are never cached.
func (s *Service) Emit(msgType string, payload any, scopeID string) error {
	return s.transport.Send(msgType, payload, scopeID)
}

// Bind subscribes an invalidation rule: every inbound message matching
// pattern drops the cache patterns produced by keys(msg). Returns the
// unsubscribe function.
func (s *Service) Bind(pattern, feature string, keys func(msg *models.Message) []string) func() {
	return s.transport.Subscribe(pattern, func(msg *models.Message) {
		s.Invalidate(feature, keys(msg)...)
	})
}

// Fetch is the typed read-through helper over Service.GetCached.
func Fetch[T any](ctx context.Context, s *Service, feature, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	v, err := s.GetCached(ctx, feature, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service: unexpected cached type %T for %s", v, key)
	}
	return typed, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
