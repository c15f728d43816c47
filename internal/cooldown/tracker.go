// Package cooldown tracks temporary per-credential exclusion windows.
//
// A window is opened when the dispatcher observes a rate-limit signal from
// upstream, and expires by timestamp comparison alone: an expired entry and a
// missing entry are indistinguishable. The window is a heuristic, not a
// correctness guarantee — the dispatcher falls back to the full pool when
// every credential is cooling down.
package cooldown

import (
	"sync"
	"time"

	"github.com/typegym/ai_gateway/internal/utils"
)

type Tracker struct {
	mu    sync.RWMutex
	now   utils.Clock
	until map[string]time.Time
}

func New() *Tracker {
	return NewWithClock(utils.NowUTC)
}

// NewWithClock creates a tracker with an injected clock for tests.
func NewWithClock(now utils.Clock) *Tracker {
	return &Tracker{
		now:   now,
		until: make(map[string]time.Time),
	}
}

// Mark records an excluded-until timestamp of now+window for the credential,
// overwriting any prior entry. The latest failure wins.
func (t *Tracker) Mark(name string, window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until[name] = t.now().Add(window)
}

// IsAvailable reports whether the credential is currently usable.
// Expired entries are evicted opportunistically.
func (t *Tracker) IsAvailable(name string) bool {
	t.mu.RLock()
	until, exists := t.until[name]
	t.mu.RUnlock()

	if !exists {
		return true
	}
	if until.After(t.now()) {
		return false
	}

	t.mu.Lock()
	// Re-check under write lock: a concurrent Mark may have extended the window.
	if until, exists := t.until[name]; exists && !until.After(t.now()) {
		delete(t.until, name)
	}
	t.mu.Unlock()
	return true
}

// AvailableSubset returns the names currently usable, preserving order.
// Callers must treat an empty result as "use everything": a full blackout of
// a non-empty pool must never become a hard outage.
func (t *Tracker) AvailableSubset(names []string) []string {
	available := make([]string, 0, len(names))
	for _, name := range names {
		if t.IsAvailable(name) {
			available = append(available, name)
		}
	}
	return available
}

// ActiveCount returns the number of unexpired exclusion windows.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	count := 0
	for _, until := range t.until {
		if until.After(now) {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of the active windows, keyed by credential name.
func (t *Tracker) Snapshot() map[string]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	out := make(map[string]time.Time)
	for name, until := range t.until {
		if until.After(now) {
			out[name] = until
		}
	}
	return out
}
