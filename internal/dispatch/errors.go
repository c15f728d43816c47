package dispatch

import (
	"errors"
	"fmt"
)

// FailureClass is the four-way taxonomy (plus configuration) every upstream
// failure is folded into. Rotation and cooldown decisions key off it.
type FailureClass string

const (
	// ClassRateLimited - upstream quota/429 signal; recovered by cooldown + rotation.
	ClassRateLimited FailureClass = "rate_limited"
	// ClassAuthInvalid - the credential itself is bad; rotated past, never cooled down.
	ClassAuthInvalid FailureClass = "auth_invalid"
	// ClassPermanent - malformed request, unsupported model; rotation cannot help.
	ClassPermanent FailureClass = "permanent"
	// ClassTransport - network failure or timeout; non-retryable unless opted in.
	ClassTransport FailureClass = "transport"
	// ClassUnknown - anything unrecognized; terminal by default so bugs are not
	// masked as transient failures.
	ClassUnknown FailureClass = "unknown"
	// ClassConfiguration - no credentials available at dispatch time.
	ClassConfiguration FailureClass = "configuration"
)

// ErrNoCredentials is returned when a dispatch is attempted against an empty
// pool. Construction of the pool never fails; this surfaces at first use.
var ErrNoCredentials = errors.New("no upstream credentials configured")

// Error is the terminal outcome of an exhausted or non-recoverable dispatch.
type Error struct {
	Class      FailureClass
	StatusCode int // upstream HTTP status, 0 when not applicable
	Message    string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch failed (%s) after %d attempt(s): %s", e.Class, e.Attempts, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetrySuggested reports whether the caller may reasonably retry later.
// Only rate-limit exhaustion qualifies; everything else needs intervention.
func (e *Error) RetrySuggested() bool {
	return e.Class == ClassRateLimited
}
