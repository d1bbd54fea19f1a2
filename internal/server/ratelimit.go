package server

import (
	"sync"
	"time"
)

// slidingWindowLimiter enforces a per-key request budget over a rolling
// one-minute window, keyed by source IP per spec.md §6. Timestamps older
// than the window are pruned lazily on each Allow call rather than by a
// background sweep, since the per-key slice stays small at the configured
// rates.
type slidingWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration, clock func() time.Time) *slidingWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &slidingWindowLimiter{limit: limit, window: window, clock: clock, hits: make(map[string][]time.Time)}
}

// result reports whether the request is allowed plus the headers the caller
// should surface regardless of outcome.
type limitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

func (l *slidingWindowLimiter) Allow(key string) limitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	cutoff := now.Add(-l.window)

	hits := l.hits[key]
	pruned := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			pruned = append(pruned, h)
		}
	}

	resetIn := l.window
	if len(pruned) > 0 {
		resetIn = l.window - now.Sub(pruned[0])
		if resetIn < 0 {
			resetIn = 0
		}
	}

	if len(pruned) >= l.limit {
		l.hits[key] = pruned
		return limitResult{Allowed: false, Limit: l.limit, Remaining: 0, ResetIn: resetIn}
	}

	pruned = append(pruned, now)
	l.hits[key] = pruned
	return limitResult{Allowed: true, Limit: l.limit, Remaining: l.limit - len(pruned), ResetIn: resetIn}
}
