package live

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postGrant(h *GrantHandler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/live/grant", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGrant_Issued(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")
	h := NewGrantHandler(b, nil)

	w := postGrant(h, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp grantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "KEY_1", resp.CredentialName)
	assert.Equal(t, "secret-123456", resp.APIKey)
	assert.Equal(t, 60, resp.ExpiresInSeconds)

	name, valid := b.GrantInfo(resp.SessionID)
	assert.True(t, valid)
	assert.Equal(t, "KEY_1", name)
}

func TestGrant_ThrottledPerClient(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")
	h := NewGrantHandler(b, nil)

	first := postGrant(h, "203.0.113.7:51000")
	require.Equal(t, http.StatusOK, first.Code)

	// Immediate second request from the same client is paced.
	second := postGrant(h, "203.0.113.7:51001")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	var e grantError
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &e))
	assert.True(t, e.RetrySuggested)

	// A different client is unaffected.
	other := postGrant(h, "203.0.113.8:51000")
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestGrant_ForwardedForIdentifiesClient(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")
	h := NewGrantHandler(b, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/live/grant", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.2")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Same originating client behind the proxy: throttled.
	req2 := httptest.NewRequest(http.MethodPost, "/api/live/grant", nil)
	req2.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.3")
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestGrant_NoCredentialAvailable(t *testing.T) {
	sel := &fakeSelector{err: errors.New("no upstream credentials configured")}
	b := newTestBroker(t, sel, "ws://unused.invalid")
	h := NewGrantHandler(b, nil)

	w := postGrant(h, "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var e grantError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.False(t, e.RetrySuggested)
}

func TestGrant_MethodNotAllowed(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")
	h := NewGrantHandler(b, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/live/grant", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGrant_StatusLookup(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")
	h := NewGrantHandler(b, nil)

	issued := postGrant(h, "")
	require.Equal(t, http.StatusOK, issued.Code)
	var grant grantResponse
	require.NoError(t, json.Unmarshal(issued.Body.Bytes(), &grant))

	req := httptest.NewRequest(http.MethodGet, "/api/live/grant?session="+grant.SessionID, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status grantStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Valid)
	assert.Equal(t, "KEY_1", status.CredentialName)

	// Unknown session reports invalid, not an error.
	req = httptest.NewRequest(http.MethodGet, "/api/live/grant?session=bogus", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Valid)

	// Missing session parameter is a client error.
	req = httptest.NewRequest(http.MethodGet, "/api/live/grant", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrantInfo_Expiry(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return base }
	h := NewGrantHandler(b, nil)

	w := postGrant(h, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp grantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	_, valid := b.GrantInfo(resp.SessionID)
	assert.True(t, valid)

	// Past the TTL the grant is forgotten.
	b.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, valid = b.GrantInfo(resp.SessionID)
	assert.False(t, valid)

	// And a second lookup is a miss even before any clock movement.
	_, valid = b.GrantInfo(resp.SessionID)
	assert.False(t, valid)
}

func TestGrantInfo_UnknownID(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")

	_, valid := b.GrantInfo("never-issued")
	assert.False(t, valid)
}
