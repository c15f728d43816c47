// Package relay exposes the dispatcher over a stateless HTTP boundary so
// browser code never holds a credential.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/typegym/ai_gateway/internal/dispatch"
	"github.com/typegym/ai_gateway/internal/logger"
	"github.com/typegym/ai_gateway/internal/monitoring"
	"github.com/typegym/ai_gateway/internal/upstream"
)

// Handler serves POST /api/generate.
type Handler struct {
	dispatcher     *dispatch.Dispatcher
	logger         *slog.Logger
	metrics        *monitoring.Metrics
	maxBodyBytes   int64
	requestTimeout time.Duration
	cors           *CORS
}

func NewHandler(
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
	metrics *monitoring.Metrics,
	maxBodySizeMB int,
	requestTimeout time.Duration,
	cors *CORS,
) *Handler {
	return &Handler{
		dispatcher:     dispatcher,
		logger:         logger,
		metrics:        metrics,
		maxBodyBytes:   int64(maxBodySizeMB) * 1024 * 1024,
		requestTimeout: requestTimeout,
		cors:           cors,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if h.cors.Apply(w, r) {
		return // preflight handled
	}

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", false)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body", false)
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", false)
		return
	}

	var env upstream.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", false)
		return
	}

	if h.logger.Enabled(r.Context(), slog.LevelDebug) {
		h.logger.Debug("relay request received",
			"operation", string(env.Operation),
			"model", env.Model,
			"body", logger.TruncateLongFields(string(body), 200),
		)
	}

	// Shape validation happens before any dispatch attempt: a bad envelope
	// is a client error, not an upstream call.
	req, err := upstream.BuildRequest(&env)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), false)
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	resp, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		status := h.writeDispatchError(w, err)
		h.metrics.RecordRequest(string(env.Operation), status, time.Since(start))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
	h.metrics.RecordRequest(string(env.Operation), http.StatusOK, time.Since(start))
}

// writeDispatchError maps a terminal dispatch failure onto the HTTP boundary
// and returns the status used.
func (h *Handler) writeDispatchError(w http.ResponseWriter, err error) int {
	var dispatchErr *dispatch.Error
	if !errors.As(err, &dispatchErr) {
		h.logger.Error("dispatch returned unexpected error", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error", false)
		return http.StatusInternalServerError
	}

	var status int
	switch dispatchErr.Class {
	case dispatch.ClassConfiguration:
		status = http.StatusInternalServerError
		writeJSONError(w, status, "server is not configured with upstream credentials", false)
	case dispatch.ClassRateLimited:
		status = http.StatusTooManyRequests
		writeJSONError(w, status, "upstream capacity exhausted, try again shortly", true)
	case dispatch.ClassAuthInvalid:
		status = http.StatusInternalServerError
		writeJSONError(w, status, "upstream credentials rejected, server misconfiguration", false)
	case dispatch.ClassPermanent:
		// Pass the upstream's own status through for request-shape errors.
		status = dispatchErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, dispatchErr.Message, false)
	case dispatch.ClassTransport:
		status = http.StatusBadGateway
		writeJSONError(w, status, "upstream is unreachable", true)
	default:
		status = http.StatusBadGateway
		writeJSONError(w, status, "upstream request failed", false)
	}

	h.logger.Error("dispatch failed",
		"class", string(dispatchErr.Class),
		"attempts", dispatchErr.Attempts,
		"status", status,
	)
	return status
}
