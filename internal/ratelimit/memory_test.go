package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, window time.Duration) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	m, err := NewMemoryLimiter(window)
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	m.now = clock.Now
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	})
	return m, clock
}

func TestNewMemoryLimiterRejectsZeroWindow(t *testing.T) {
	if _, err := NewMemoryLimiter(0); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestMemoryLimiterAllowUnderLimit(t *testing.T) {
	m, _ := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "k1", 5)
		if err != nil {
			t.Fatalf("Allow returned error on request %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected Allow to return true for request %d (within limit)", i)
		}
	}
}

func TestMemoryLimiterDenyAfterLimit(t *testing.T) {
	m, _ := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k1", 3)
		if err != nil {
			t.Fatalf("Allow error: %v", err)
		}
		if !ok {
			t.Fatalf("expected Allow=true for request %d", i)
		}
	}

	ok, err := m.Allow(ctx, "k1", 3)
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if ok {
		t.Fatal("expected Allow=false after limit exhausted")
	}
}

func TestMemoryLimiterUnlimited(t *testing.T) {
	m, _ := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		ok, err := m.Allow(ctx, "k1", 0)
		if err != nil || !ok {
			t.Fatalf("limit 0 should be unlimited, request %d got ok=%v err=%v", i, ok, err)
		}
	}
}

func TestMemoryLimiterRefillsPerWindow(t *testing.T) {
	m, clock := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = m.Allow(ctx, "k1", 2)
	}
	if ok, _ := m.Allow(ctx, "k1", 2); ok {
		t.Fatal("should be denied immediately after exhausting limit")
	}

	// Half a window refills one of two tokens.
	clock.Advance(30 * time.Second)
	if ok, _ := m.Allow(ctx, "k1", 2); !ok {
		t.Fatal("expected Allow=true after half a window")
	}
	if ok, _ := m.Allow(ctx, "k1", 2); ok {
		t.Fatal("expected only one token to have refilled")
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	ok, _ := m.Allow(ctx, "a", 1)
	if !ok {
		t.Fatal("first request for 'a' should succeed")
	}
	ok, _ = m.Allow(ctx, "a", 1)
	if ok {
		t.Fatal("second request for 'a' should be denied")
	}

	ok, _ = m.Allow(ctx, "b", 1)
	if !ok {
		t.Fatal("first request for 'b' should succeed")
	}
}

func TestMemoryLimiterLimitLowered(t *testing.T) {
	m, _ := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "k1", 100)

	// The key's limit drops to 1: the bucket shrinks and one call remains.
	if ok, _ := m.Allow(ctx, "k1", 1); !ok {
		t.Fatal("expected one call under the lowered limit")
	}
	if ok, _ := m.Allow(ctx, "k1", 1); ok {
		t.Fatal("expected denial once the lowered limit is spent")
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	var wg sync.WaitGroup
	allowed := make([]int, 10)

	// 10 goroutines each send 10 requests for the same key.
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared", 50)
				if err != nil {
					t.Errorf("goroutine %d: Allow error: %v", idx, err)
					return
				}
				if ok {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	// The clock is frozen, so exactly the limit is admitted.
	if total != 50 {
		t.Fatalf("expected 50 allowed requests, got %d", total)
	}
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m, clock := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "stale", 5)
	clock.Advance(15 * time.Minute)
	_, _ = m.Allow(ctx, "recent", 5)

	m.evictStale()

	m.mu.Lock()
	_, staleExists := m.buckets["stale"]
	_, recentExists := m.buckets["recent"]
	m.mu.Unlock()

	if staleExists {
		t.Fatal("expected stale bucket to be evicted")
	}
	if !recentExists {
		t.Fatal("expected recent bucket to survive eviction")
	}
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m, err := NewMemoryLimiter(time.Minute)
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		ok, err := l.Allow(ctx, "anything", 1)
		if err != nil {
			t.Fatalf("NoopLimiter.Allow error: %v", err)
		}
		if !ok {
			t.Fatal("NoopLimiter should always return true")
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("NoopLimiter.Close error: %v", err)
	}
}

func TestMemoryLimiterTokensCapAtLimit(t *testing.T) {
	m, clock := newTestLimiter(t, time.Minute)

	ctx := context.Background()
	_, _ = m.Allow(ctx, "k1", 3)
	clock.Advance(5 * time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := m.Allow(ctx, "k1", 3)
		if !ok {
			t.Fatalf("expected Allow=true for request %d after long idle", i)
		}
	}
	ok, _ := m.Allow(ctx, "k1", 3)
	if ok {
		t.Fatal("expected Allow=false after limit exhausted, even after long idle")
	}
}
