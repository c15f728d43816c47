package relay

import "net/http"

// CORS answers cross-origin preflight and stamps response headers for
// browsers on a different origin than the relay. An empty allow-list means
// same-origin deployments only.
type CORS struct {
	allowed map[string]bool
	any     bool
}

func NewCORS(origins []string) *CORS {
	c := &CORS{allowed: make(map[string]bool)}
	for _, o := range origins {
		if o == "*" {
			c.any = true
			continue
		}
		c.allowed[o] = true
	}
	return c
}

// Apply sets CORS headers when the request origin is allowed and handles the
// preflight request. Returns true if the request was a preflight and has
// been fully answered.
func (c *CORS) Apply(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin != "" {
		switch {
		case c.any:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case c.allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
	}

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}
