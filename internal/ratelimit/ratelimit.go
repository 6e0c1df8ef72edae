// Package ratelimit provides a pluggable per-credential rate limiting
// interface.
//
// The default implementation is an in-memory token bucket (MemoryLimiter).
// A shared backend can be substituted for multi-instance deployments; the
// Limiter interface is the contract.
package ratelimit

import "context"

// Limiter decides whether a call identified by key may proceed. Each key has
// its own budget of limit calls per window; the window is fixed by the
// implementation. Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the call should proceed. limit <= 0 means
	// unlimited. Returning an error signals a limiter malfunction; the
	// dispatcher treats that as a rejection.
	Allow(ctx context.Context, key string, limit int) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every call. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string, int) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
