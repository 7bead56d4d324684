package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultLimitPerSec = 100
	backoffStep        = 10 * time.Millisecond
	backoffMax         = 50 * time.Millisecond
)

var _ RateLimiter = (*MemoryRateLimiter)(nil)

// MemoryRateLimiter is a fixed-window per-second counter keyed limiter for
// single-process deployments.
type MemoryRateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	lastSweepSec int64
	limitPerSec  int64
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

type window struct {
	unixSec int64
	count   int64
}

func NewMemoryRateLimiter(limitPerSec int) *MemoryRateLimiter {
	return newMemoryRateLimiter(int64(limitPerSec), time.Now, sleepWithContext)
}

func newMemoryRateLimiter(
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) *MemoryRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &MemoryRateLimiter{
		windows:     make(map[string]*window),
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}
}

func (m *MemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false, fmt.Errorf("key is required")
	}

	nowSec := m.now().UTC().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Expired windows of keys that stopped calling would otherwise pile up;
	// one sweep per second keeps the map bounded by the active key set.
	if m.lastSweepSec != nowSec {
		for key, w := range m.windows {
			if w.unixSec < nowSec {
				delete(m.windows, key)
			}
		}
		m.lastSweepSec = nowSec
	}

	w, ok := m.windows[normalizedKey]
	if !ok || w.unixSec != nowSec {
		w = &window{unixSec: nowSec}
		m.windows[normalizedKey] = w
	}

	if w.count >= m.limitPerSec {
		return false, nil
	}
	w.count++
	return true, nil
}

func (m *MemoryRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := m.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := m.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
