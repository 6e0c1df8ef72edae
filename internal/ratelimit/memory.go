package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// bucket is a single token bucket for one credential.
type bucket struct {
	tokens     float64
	capacity   float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter using an in-memory token bucket per key.
//
// A key with limit N holds at most N tokens and refills N tokens per window,
// so a credential may burst its whole budget and then sustain N calls per
// window. A background goroutine evicts stale entries every minute to bound
// memory.
type MemoryLimiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter that refills each key's
// budget once per window. Call Close to stop the eviction goroutine.
func NewMemoryLimiter(window time.Duration) (*MemoryLimiter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	m := &MemoryLimiter{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m, nil
}

// Allow consumes one token from the bucket for key. Returns true if a token
// was available, false if the key is over its limit.
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	capacity := float64(limit)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		// First call for this key: start with a full bucket minus one token.
		m.buckets[key] = &bucket{
			tokens:     capacity - 1,
			capacity:   capacity,
			lastAccess: now,
		}
		return true, nil
	}

	// The credential's limit may have been edited since the bucket was made.
	if b.capacity != capacity {
		b.capacity = capacity
		if b.tokens > capacity {
			b.tokens = capacity
		}
	}

	elapsed := now.Sub(b.lastAccess)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * capacity / m.window.Seconds()
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastAccess = now
	}

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// cleanup periodically evicts buckets that haven't been accessed recently.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

// evictStale drops buckets idle for longer than a full refill. Such a bucket
// would be full on its next access, which is also how a fresh bucket starts.
func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.staleAfter())
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

func (m *MemoryLimiter) staleAfter() time.Duration {
	if m.window < 10*time.Minute {
		return 10 * time.Minute
	}
	return m.window
}
