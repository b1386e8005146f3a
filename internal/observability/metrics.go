// Package observability exposes Prometheus metrics for diagnosis runs and
// provider calls. Every method is safe on a nil *Metrics so callers can run
// uninstrumented.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geo"

// Call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSensitive = "sensitive"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	// CallsTotal counts provider calls after retries by provider and outcome.
	CallsTotal *prometheus.CounterVec

	// RetriesTotal counts retried attempts by provider.
	RetriesTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts breaker state changes by provider and
	// target state.
	BreakerTransitionsTotal *prometheus.CounterVec

	// CacheServedTotal counts responses served from cache by provider.
	CacheServedTotal *prometheus.CounterVec

	// CallLatencySeconds measures live call latency by provider.
	CallLatencySeconds *prometheus.HistogramVec

	// RunsTotal counts orchestrator runs by path (offline, live) and result
	// (ok, degraded, cache_note, aborted).
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures orchestrator runs by path.
	RunDurationSeconds *prometheus.HistogramVec

	// ReportsTotal counts published report versions by kind (initial, catchup).
	ReportsTotal *prometheus.CounterVec

	// QuotaAlertsTotal counts quota alerts by secret name.
	QuotaAlertsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg. Use a fresh
// prometheus.NewRegistry() per test.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider calls after retries by provider and outcome",
		}, []string{"provider", "outcome"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Retried provider call attempts",
		}, []string{"provider"}),
		BreakerTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by target state",
		}, []string{"provider", "state"}),
		CacheServedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "cache_served_total",
			Help:      "Responses served from cache after a failed call",
		}, []string{"provider"}),
		CallLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Latency of successful provider calls, retries included",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Orchestrator runs by path and result",
		}, []string{"path", "result"}),
		RunDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Orchestrator run duration by path",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"path"}),
		ReportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "published_total",
			Help:      "Published report versions by kind",
		}, []string{"kind"}),
		QuotaAlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "secrets",
			Name:      "quota_alerts_total",
			Help:      "Quota threshold alerts by secret",
		}, []string{"secret"}),
	}
}

// ProviderCall records the final outcome of one provider call.
func (m *Metrics) ProviderCall(provider, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome == OutcomeSuccess {
		m.CallLatencySeconds.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

// Retry records one retried attempt.
func (m *Metrics) Retry(provider string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(provider).Inc()
}

// BreakerTransition records a breaker moving to state.
func (m *Metrics) BreakerTransition(provider, state string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(provider, state).Inc()
}

// CacheServed records a cached response substituted for a failed call.
func (m *Metrics) CacheServed(provider string) {
	if m == nil {
		return
	}
	m.CacheServedTotal.WithLabelValues(provider).Inc()
}

// Run records a finished orchestrator run.
func (m *Metrics) Run(path, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(path, result).Inc()
	m.RunDurationSeconds.WithLabelValues(path).Observe(d.Seconds())
}

// Report records a published report version.
func (m *Metrics) Report(kind string) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(kind).Inc()
}

// QuotaAlert records a quota alert.
func (m *Metrics) QuotaAlert(secret string) {
	if m == nil {
		return
	}
	m.QuotaAlertsTotal.WithLabelValues(secret).Inc()
}
