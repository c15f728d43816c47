package dispatch

import (
	"errors"
	"net/http"
	"strings"

	"github.com/typegym/ai_gateway/internal/upstream"
)

// Classify folds an upstream failure into the failure taxonomy. This is the
// single place that inspects upstream status codes and message text, so
// upstream message-format drift only ever requires updating this mapping.
//
// severe distinguishes hard quota exhaustion (long cooldown) from ordinary
// per-minute rate limiting (short cooldown); it is only meaningful for
// ClassRateLimited.
func Classify(err error) (class FailureClass, severe bool) {
	var callErr *upstream.CallError
	if !errors.As(err, &callErr) {
		return ClassUnknown, false
	}

	if callErr.Transport {
		return ClassTransport, false
	}

	msg := strings.ToLower(callErr.Message)
	status := strings.ToUpper(callErr.Status)

	// Auth signatures take precedence: a 400 with "API key not valid" is a
	// credential problem, not a request problem.
	if isAuthInvalid(callErr.StatusCode, status, msg) {
		return ClassAuthInvalid, false
	}

	if callErr.StatusCode == http.StatusTooManyRequests ||
		status == "RESOURCE_EXHAUSTED" ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") {
		return ClassRateLimited, isQuotaExhaustion(msg)
	}

	if callErr.StatusCode >= 400 && callErr.StatusCode < 500 {
		return ClassPermanent, false
	}

	return ClassUnknown, false
}

func isAuthInvalid(statusCode int, status, msg string) bool {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return true
	}
	if status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED" {
		return true
	}
	return strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "entity was not found")
}

// isQuotaExhaustion detects the conservative daily/billing quota signatures
// that warrant the long cooldown window rather than the per-minute one.
func isQuotaExhaustion(msg string) bool {
	return strings.Contains(msg, "quota") &&
		(strings.Contains(msg, "exceeded") || strings.Contains(msg, "exhausted") ||
			strings.Contains(msg, "daily") || strings.Contains(msg, "billing"))
}
