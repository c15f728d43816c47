package utils

import "time"

// Clock returns the current time. Components that reason about elapsed
// time (cooldown windows, grant expiry) take a Clock so tests can inject
// a deterministic one.
type Clock func() time.Time

// NowUTC returns current time in UTC timezone.
// Used throughout the codebase for consistent timestamp handling.
func NowUTC() time.Time {
	return time.Now().UTC()
}
