// Package live establishes persistent bidirectional audio sessions with the
// upstream API. The stateless relay cannot proxy these, so the broker either
// mediates a websocket session server-side or issues a short-lived credential
// grant for a direct browser session. When neither works, callers degrade to
// discrete request/response calls through the relay.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/typegym/ai_gateway/internal/config"
	"github.com/typegym/ai_gateway/internal/credential"
	"github.com/typegym/ai_gateway/internal/monitoring"
	"github.com/typegym/ai_gateway/internal/ratelimit"
	"github.com/typegym/ai_gateway/internal/utils"
)

// ErrFallbackToStateless signals that a persistent session could not be
// established and the caller must fall back to the relay's discrete
// request/response path (record, transcribe, respond).
var ErrFallbackToStateless = errors.New("live session unavailable, fall back to stateless relay")

// Selector picks a credential under the dispatcher's selection rules.
type Selector interface {
	SelectCredential() (credential.Credential, error)
}

// grantRecord tracks an issued direct-session grant until its TTL runs out.
type grantRecord struct {
	credentialName string
	issuedAt       time.Time
}

type Broker struct {
	selector Selector
	cfg      config.LiveConfig
	liveURL  string
	logger   *slog.Logger
	metrics  *monitoring.Metrics
	now      utils.Clock

	dialer  *websocket.Dialer
	grants  *lru.Cache[string, *grantRecord]
	limiter *ratelimit.IntervalLimiter
}

func NewBroker(
	selector Selector,
	cfg config.LiveConfig,
	liveURL string,
	logger *slog.Logger,
	metrics *monitoring.Metrics,
) (*Broker, error) {
	grants, err := lru.New[string, *grantRecord](cfg.MaxGrants)
	if err != nil {
		return nil, fmt.Errorf("live: failed to create grant registry: %w", err)
	}

	return &Broker{
		selector: selector,
		cfg:      cfg,
		liveURL:  liveURL,
		logger:   logger,
		metrics:  metrics,
		now:      utils.NowUTC,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		grants:  grants,
		limiter: ratelimit.NewIntervalLimiter(),
	}, nil
}

// ConnectOptions describes the session to establish.
type ConnectOptions struct {
	Model             string
	SystemInstruction string
	Voice             string
}

// Connect dials the upstream live endpoint, performs the setup handshake and
// returns an active session. The whole establishment phase is bounded by the
// configured connect timeout; on timeout or error the result is a
// DEGRADED_FALLBACK signal (ErrFallbackToStateless), never a half-open
// session. All resources acquired along the way are released on every exit
// path.
func (b *Broker) Connect(ctx context.Context, opts ConnectOptions) (*Session, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("live: model is required")
	}

	cred, err := b.selector.SelectCredential()
	if err != nil {
		b.metrics.RecordLiveFallback()
		return nil, fmt.Errorf("live: no credential available: %w", ErrFallbackToStateless)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := b.dialer.DialContext(ctx, b.sessionURL(cred.Secret), nil)
	if err != nil {
		b.logger.Warn("live session dial failed",
			"credential", cred.Name,
			"error", err,
		)
		b.metrics.RecordLiveFallback()
		return nil, fmt.Errorf("live: dial failed: %v: %w", err, ErrFallbackToStateless)
	}

	session := newSession(conn, cred.Name, b.logger, b.metrics)
	if err := session.handshake(ctx, opts); err != nil {
		session.abortConnecting(err)
		b.metrics.RecordLiveFallback()
		return nil, fmt.Errorf("live: setup failed: %v: %w", err, ErrFallbackToStateless)
	}

	b.metrics.LiveSessionStarted()
	b.logger.Info("live session established",
		"credential", cred.Name,
		"model", opts.Model,
	)
	return session, nil
}

// sessionURL appends the credential to the live endpoint.
func (b *Broker) sessionURL(secret string) string {
	return b.liveURL + "?key=" + url.QueryEscape(secret)
}
