// Package ratelimit provides interval-based pacing for endpoints that hand
// out scarce resources (live-session credential grants).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/typegym/ai_gateway/internal/utils"
)

// IntervalLimiter enforces a minimum time interval between operations per key.
// The grant endpoint uses it per client so a misbehaving page cannot drain the
// credential pool by requesting grants in a loop.
//
// Thread-safe via internal mutex.
type IntervalLimiter struct {
	mu   sync.Mutex
	now  utils.Clock
	last map[string]time.Time
}

// NewIntervalLimiter creates a new interval-based rate limiter
func NewIntervalLimiter() *IntervalLimiter {
	return &IntervalLimiter{
		now:  utils.NowUTC,
		last: make(map[string]time.Time),
	}
}

// Wait blocks until the minimum interval has passed since the last operation
// for the key. If minInterval <= 0, returns immediately (no rate limiting).
// Returns error if context is cancelled while waiting.
func (l *IntervalLimiter) Wait(ctx context.Context, key string, minInterval time.Duration) error {
	if minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := l.now()
	last := l.last[key]
	waitFor := minInterval - now.Sub(last)
	if waitFor <= 0 {
		l.last[key] = now
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	timer := time.NewTimer(waitFor)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		l.mu.Lock()
		l.last[key] = l.now()
		l.mu.Unlock()
		return nil
	}
}

// Allow reports whether the minimum interval has passed, without blocking.
// On success it records the operation.
func (l *IntervalLimiter) Allow(key string, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.last[key]) < minInterval {
		return false
	}
	l.last[key] = now
	return true
}

// Reset clears the tracking for a specific key
func (l *IntervalLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, key)
}
