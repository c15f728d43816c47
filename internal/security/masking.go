// Package security provides helpers for keeping secrets out of logs.
package security

// MaskSecret masks sensitive strings for logging.
// Shows the first N characters followed by "..." to minimize exposure.
// Returns "***" for very short secrets (<= prefixLen).
func MaskSecret(secret string, prefixLen int) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= prefixLen {
		return "***"
	}
	return secret[:prefixLen] + "..."
}

// MaskAPIKey masks upstream API keys (shows first 4 characters).
// Every log line that mentions a credential value must go through this.
func MaskAPIKey(key string) string {
	return MaskSecret(key, 4)
}
