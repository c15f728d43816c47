package live

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/typegym/ai_gateway/internal/security"
)

// Preflighter answers CORS preflight for browser callers. Satisfied by the
// relay's CORS helper.
type Preflighter interface {
	Apply(w http.ResponseWriter, r *http.Request) bool
}

// grantResponse hands one credential to the browser for a direct upstream
// session. This deliberately exposes the credential's validity to the client
// for the session's duration; the TTL hint bounds how long the client should
// hold it before asking again.
type grantResponse struct {
	SessionID        string `json:"sessionId"`
	CredentialName   string `json:"credentialName"`
	APIKey           string `json:"apiKey"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type grantError struct {
	Error          string `json:"error"`
	RetrySuggested bool   `json:"retrySuggested"`
}

// GrantHandler serves POST /api/live/grant: the minimal "give me a working
// credential" call backing the direct-session strategy. Selection runs
// through the same pool/cooldown rules as dispatch.
type GrantHandler struct {
	broker *Broker
	cors   Preflighter
}

func NewGrantHandler(broker *Broker, cors Preflighter) *GrantHandler {
	return &GrantHandler{broker: broker, cors: cors}
}

func (h *GrantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cors != nil && h.cors.Apply(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPost:
	case http.MethodGet:
		h.serveStatus(w, r)
		return
	default:
		writeGrantError(w, http.StatusMethodNotAllowed, "method not allowed", false)
		return
	}

	b := h.broker
	client := clientKey(r)
	if !b.limiter.Allow(client, b.cfg.GrantMinInterval) {
		b.metrics.RecordLiveGrant("throttled")
		writeGrantError(w, http.StatusTooManyRequests, "grant requests are rate limited", true)
		return
	}

	cred, err := b.selector.SelectCredential()
	if err != nil {
		b.metrics.RecordLiveGrant("unavailable")
		writeGrantError(w, http.StatusInternalServerError, "no upstream credentials available", false)
		return
	}

	id := uuid.NewString()
	b.grants.Add(id, &grantRecord{
		credentialName: cred.Name,
		issuedAt:       b.now(),
	})
	b.metrics.RecordLiveGrant("issued")
	b.logger.Info("live credential grant issued",
		"session_id", id,
		"credential", cred.Name,
		"client", client,
		"key", security.MaskAPIKey(cred.Secret),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(grantResponse{
		SessionID:        id,
		CredentialName:   cred.Name,
		APIKey:           cred.Secret,
		ExpiresInSeconds: int(b.cfg.GrantTTL.Seconds()),
	})
}

// grantStatus answers GET ?session=<id>: whether a previously issued grant is
// still within its TTL. The browser polls this before reusing a held key.
type grantStatus struct {
	SessionID      string `json:"sessionId"`
	CredentialName string `json:"credentialName,omitempty"`
	Valid          bool   `json:"valid"`
}

func (h *GrantHandler) serveStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		writeGrantError(w, http.StatusBadRequest, "session query parameter is required", false)
		return
	}

	name, valid := h.broker.GrantInfo(id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(grantStatus{
		SessionID:      id,
		CredentialName: name,
		Valid:          valid,
	})
}

// GrantInfo reports whether a grant id is known and still within its TTL.
func (b *Broker) GrantInfo(id string) (credentialName string, valid bool) {
	rec, ok := b.grants.Get(id)
	if !ok {
		return "", false
	}
	if b.now().Sub(rec.issuedAt) > b.cfg.GrantTTL {
		b.grants.Remove(id)
		return "", false
	}
	return rec.credentialName, true
}

func writeGrantError(w http.ResponseWriter, statusCode int, message string, retry bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(grantError{Error: message, RetrySuggested: retry})
}

// clientKey identifies the caller for grant throttling.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
