package relay

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the stable externally-documented error shape. Browser
// code never sees raw upstream error structure.
type errorResponse struct {
	Error          string `json:"error"`
	RetrySuggested bool   `json:"retrySuggested"`
}

// writeJSONError writes the normalized error body with the given status.
func writeJSONError(w http.ResponseWriter, statusCode int, message string, retrySuggested bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:          message,
		RetrySuggested: retrySuggested,
	})
}
