package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryRateLimiterAllow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newMemoryRateLimiter(2, func() time.Time { return now }, nil)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "dispatch:admin")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "dispatch:admin")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call in the same window should be rejected")
	}
}

func TestMemoryRateLimiterWindowRollover(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newMemoryRateLimiter(1, func() time.Time { return now }, nil)

	if allowed, _ := limiter.Allow(context.Background(), "k"); !allowed {
		t.Fatal("first call should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "k"); allowed {
		t.Fatal("second call in the same second should be rejected")
	}

	now = now.Add(time.Second)
	if allowed, _ := limiter.Allow(context.Background(), "k"); !allowed {
		t.Fatal("call in the next window should be allowed")
	}
}

func TestMemoryRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newMemoryRateLimiter(1, func() time.Time { return now }, nil)

	if allowed, _ := limiter.Allow(context.Background(), "a"); !allowed {
		t.Fatal("key a should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "b"); !allowed {
		t.Fatal("key b has its own window")
	}
}

func TestMemoryRateLimiterEvictsExpiredWindows(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newMemoryRateLimiter(5, func() time.Time { return now }, nil)

	for _, key := range []string{"a", "b", "c"} {
		if _, err := limiter.Allow(context.Background(), key); err != nil {
			t.Fatalf("Allow(%q) error = %v", key, err)
		}
	}

	now = now.Add(2 * time.Second)
	if _, err := limiter.Allow(context.Background(), "a"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	limiter.mu.Lock()
	tracked := len(limiter.windows)
	limiter.mu.Unlock()

	if tracked != 1 {
		t.Fatalf("tracked windows = %d, want 1 after expired windows are swept", tracked)
	}
}

func TestMemoryRateLimiterRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	limiter := NewMemoryRateLimiter(10)
	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("blank key should be rejected")
	}
}

func TestMemoryRateLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newMemoryRateLimiter(1, func() time.Time { return now }, nil)

	if allowed, _ := limiter.Allow(context.Background(), "k"); !allowed {
		t.Fatal("first call should be allowed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Wait(ctx, "k")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestMemoryRateLimiterConcurrentAllow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter := newMemoryRateLimiter(50, func() time.Time { return now }, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := limiter.Allow(context.Background(), "burst")
			if err != nil {
				t.Errorf("Allow() error = %v", err)
				return
			}
			if allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 50 {
		t.Fatalf("allowed %d calls, want exactly 50", allowedCount)
	}
}
