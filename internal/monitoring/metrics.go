package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_requests_total",
			Help: "Total number of relay requests",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_gateway_request_duration_seconds",
			Help:    "End-to-end relay request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	DispatchAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_gateway_dispatch_attempts",
			Help:    "Number of upstream attempts per logical dispatch",
			Buckets: []float64{1, 2, 3, 5, 8, 12},
		},
		[]string{"outcome"},
	)

	CredentialErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_credential_errors_total",
			Help: "Upstream failures per credential and failure class",
		},
		[]string{"credential", "class"},
	)

	CredentialCooldowns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_gateway_credential_cooldowns",
			Help: "Number of credentials currently in a cooldown window",
		},
	)

	PoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_gateway_credential_pool_size",
			Help: "Number of credentials discovered at startup",
		},
	)

	SelectionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_gateway_selection_full_pool_fallbacks_total",
			Help: "Times selection ignored cooldowns because every credential was excluded",
		},
	)

	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_gateway_live_sessions",
			Help: "Currently active live sessions",
		},
	)

	LiveFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_gateway_live_fallbacks_total",
			Help: "Live session establishment failures that degraded to the stateless path",
		},
	)

	LiveGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_live_grants_total",
			Help: "Credential grants issued for direct live sessions",
		},
		[]string{"status"},
	)
)

// Metrics is a thin wrapper so metric recording can be disabled wholesale
// without littering call sites with flag checks.
type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) RecordRequest(operation string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	RequestsTotal.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	RequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordDispatch(outcome string, attempts int) {
	if !m.isEnabled() {
		return
	}
	DispatchAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

func (m *Metrics) RecordCredentialError(credential, class string) {
	if !m.isEnabled() {
		return
	}
	CredentialErrorsTotal.WithLabelValues(credential, class).Inc()
}

func (m *Metrics) RecordFullPoolFallback() {
	if !m.isEnabled() {
		return
	}
	SelectionFallbacks.Inc()
}

func (m *Metrics) UpdateCooldowns(count int) {
	if !m.isEnabled() {
		return
	}
	CredentialCooldowns.Set(float64(count))
}

func (m *Metrics) UpdatePoolSize(size int) {
	if !m.isEnabled() {
		return
	}
	PoolSize.Set(float64(size))
}

func (m *Metrics) LiveSessionStarted() {
	if !m.isEnabled() {
		return
	}
	LiveSessions.Inc()
}

func (m *Metrics) LiveSessionEnded() {
	if !m.isEnabled() {
		return
	}
	LiveSessions.Dec()
}

func (m *Metrics) RecordLiveFallback() {
	if !m.isEnabled() {
		return
	}
	LiveFallbacksTotal.Inc()
}

func (m *Metrics) RecordLiveGrant(status string) {
	if !m.isEnabled() {
		return
	}
	LiveGrantsTotal.WithLabelValues(status).Inc()
}
