// Package dispatch executes one logical upstream call with automatic
// credential rotation and bounded retries.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/typegym/ai_gateway/internal/cooldown"
	"github.com/typegym/ai_gateway/internal/credential"
	"github.com/typegym/ai_gateway/internal/monitoring"
	"github.com/typegym/ai_gateway/internal/upstream"
)

// Options tunes retry ceilings and cooldown windows. The defaults mirror the
// config package; zero values are filled in by New.
type Options struct {
	MaxAttemptsCeiling int
	RetryOnTimeout     bool
	RetryUnknownOnce   bool
	RateLimitWindow    time.Duration
	QuotaWindow        time.Duration
}

// Dispatcher selects credentials round-robin, invokes the upstream caller,
// and interprets failures. It mutates only the cooldown tracker; the pool is
// read-only after construction.
type Dispatcher struct {
	pool    *credential.Pool
	tracker *cooldown.Tracker
	caller  upstream.Caller
	opts    Options
	logger  *slog.Logger
	metrics *monitoring.Metrics

	// cursor advances once per selection; wrapping over the candidate list
	// gives deterministic load distribution across credentials.
	cursor atomic.Uint64
}

func New(
	pool *credential.Pool,
	tracker *cooldown.Tracker,
	caller upstream.Caller,
	opts Options,
	logger *slog.Logger,
	metrics *monitoring.Metrics,
) *Dispatcher {
	if opts.MaxAttemptsCeiling <= 0 {
		opts.MaxAttemptsCeiling = 10
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = 5 * time.Minute
	}
	return &Dispatcher{
		pool:    pool,
		tracker: tracker,
		caller:  caller,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// maxAttempts gives small pools at least three attempts while capping very
// large pools to bound worst-case latency.
func (d *Dispatcher) maxAttempts() int {
	attempts := d.pool.Size()
	if attempts < 3 {
		attempts = 3
	}
	if attempts > d.opts.MaxAttemptsCeiling {
		attempts = d.opts.MaxAttemptsCeiling
	}
	return attempts
}

// SelectCredential picks the next credential under the same rules a dispatch
// attempt uses: cooldown-filtered, full-pool fallback when everything is
// excluded, round-robin order. The live broker uses this for direct-session
// grants.
func (d *Dispatcher) SelectCredential() (credential.Credential, error) {
	return d.selectCredential(nil)
}

func (d *Dispatcher) selectCredential(exclude map[string]bool) (credential.Credential, error) {
	if d.pool.Size() == 0 {
		return credential.Credential{}, ErrNoCredentials
	}

	names := d.pool.Names()
	candidates := d.tracker.AvailableSubset(names)
	if len(candidates) == 0 {
		// Every credential is cooling down. The window is a heuristic and the
		// upstream 429 signal is often conservative, so use the full pool
		// rather than turning a blackout into a hard outage.
		d.metrics.RecordFullPoolFallback()
		candidates = names
	}

	if len(exclude) > 0 {
		filtered := candidates[:0]
		for _, name := range candidates {
			if !exclude[name] {
				filtered = append(filtered, name)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return credential.Credential{}, ErrNoCredentials
	}

	idx := d.cursor.Add(1) - 1
	name := candidates[idx%uint64(len(candidates))]
	cred, _ := d.pool.ByName(name)
	return cred, nil
}

// Dispatch executes the logical request, rotating credentials across bounded
// retries. Within one dispatch, attempts are strictly sequential. On success
// the response carries the serving credential name and attempt count as
// metadata.
func (d *Dispatcher) Dispatch(ctx context.Context, req *upstream.GenerateRequest) (*upstream.Response, error) {
	if d.pool.Size() == 0 {
		d.metrics.RecordDispatch(string(ClassConfiguration), 0)
		return nil, &Error{
			Class:   ClassConfiguration,
			Message: ErrNoCredentials.Error(),
			Err:     ErrNoCredentials,
		}
	}

	requestID := uuid.NewString()
	invalid := make(map[string]bool) // auth-rejected credentials, skipped for this sequence
	maxAttempts := d.maxAttempts()

	var lastErr *Error
	transportRetried := false
	unknownRetried := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cred, err := d.selectCredential(invalid)
		if err != nil {
			// Every remaining candidate was auth-rejected in this sequence.
			break
		}

		resp, callErr := d.caller.Generate(ctx, cred.Secret, req)
		if callErr == nil {
			resp.Meta = upstream.Meta{
				RequestID:  requestID,
				Credential: cred.Name,
				Attempts:   attempt,
				Model:      req.Model,
			}
			d.logger.Debug("dispatch succeeded",
				"request_id", requestID,
				"credential", cred.Name,
				"attempt", attempt,
				"model", req.Model,
			)
			d.metrics.RecordDispatch("success", attempt)
			return resp, nil
		}

		class, severe := Classify(callErr)
		lastErr = terminalError(class, callErr, attempt)
		d.metrics.RecordCredentialError(cred.Name, string(class))

		d.logger.Warn("dispatch attempt failed",
			"request_id", requestID,
			"credential", cred.Name,
			"attempt", attempt,
			"class", string(class),
			"error", callErr,
		)

		switch class {
		case ClassRateLimited:
			window := d.opts.RateLimitWindow
			if severe {
				window = d.opts.QuotaWindow
			}
			d.tracker.Mark(cred.Name, window)
			d.metrics.UpdateCooldowns(d.tracker.ActiveCount())
			continue

		case ClassAuthInvalid:
			// Misconfigured credential, not load: never cool it down, skip it
			// for the rest of this sequence, and log loudly.
			invalid[cred.Name] = true
			d.logger.Error("credential rejected by upstream, check configuration",
				"credential", cred.Name,
				"request_id", requestID,
			)
			continue

		case ClassTransport:
			if d.opts.RetryOnTimeout && !transportRetried {
				transportRetried = true
				continue
			}

		case ClassUnknown:
			if d.opts.RetryUnknownOnce && !unknownRetried {
				unknownRetried = true
				continue
			}
		}

		// Permanent errors and non-retryable transport/unknown failures are
		// terminal: rotating credentials cannot fix a bad request.
		d.metrics.RecordDispatch(string(class), attempt)
		return nil, lastErr
	}

	if lastErr == nil {
		lastErr = &Error{
			Class:   ClassConfiguration,
			Message: ErrNoCredentials.Error(),
			Err:     ErrNoCredentials,
		}
	}
	d.metrics.RecordDispatch("exhausted", lastErr.Attempts)
	return nil, lastErr
}

func terminalError(class FailureClass, err error, attempts int) *Error {
	e := &Error{
		Class:    class,
		Message:  err.Error(),
		Attempts: attempts,
		Err:      err,
	}
	var callErr *upstream.CallError
	if errors.As(err, &callErr) {
		e.StatusCode = callErr.StatusCode
		if callErr.Message != "" {
			e.Message = callErr.Message
		}
	}
	return e
}
