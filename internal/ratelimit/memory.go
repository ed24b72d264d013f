package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-process Limiter for tests and single-node runs. The
// clock is injectable so window expiry can be tested without sleeping.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string][]time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		window:  window,
		now:     time.Now,
		entries: make(map[string][]time.Time),
	}
}

// SetClock overrides the time source.
func (m *MemoryLimiter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryLimiter) Allow(_ context.Context, tenantID string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.entries[tenantID][:0]
	for _, t := range m.entries[tenantID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.entries[tenantID] = kept

	if len(kept) >= limit {
		retryAfter := kept[0].Add(m.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	m.entries[tenantID] = append(kept, now)
	return Decision{Allowed: true}, nil
}

func (m *MemoryLimiter) Usage(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	n := 0
	for _, t := range m.entries[tenantID] {
		if t.After(cutoff) {
			n++
		}
	}
	return n, nil
}
