// Package metrics provides Prometheus metrics collection for the login flow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common labels used across metrics.
const (
	LabelMethod   = "method"  // password or oauth
	LabelOutcome  = "outcome" // ok, rejected, error
	LabelEvent    = "event"
	LabelProvider = "provider"
)

// Login outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics contains all Prometheus metrics for the login flow.
type Metrics struct {
	registry *prometheus.Registry

	loginAttemptsTotal *prometheus.CounterVec
	loginDuration      *prometheus.HistogramVec
	loginsInFlight     prometheus.Gauge

	authEventsTotal *prometheus.CounterVec

	profileInsertsTotal    prometheus.Counter
	profileLookupsTotal    *prometheus.CounterVec
	provisionFailuresTotal prometheus.Counter

	prefLoadsTotal  *prometheus.CounterVec
	prefCacheHits   prometheus.Counter
	prefCacheMisses prometheus.Counter

	sessionRefreshTotal *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Namespace string
	Subsystem string
}

// New creates a new Metrics instance.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "ledgerly"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "authflow"
	}

	registry := prometheus.NewRegistry()

	// Register default Go metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	factory := promauto.With(registry)

	m.loginAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "login_attempts_total",
			Help:      "Total number of login submissions by method and outcome.",
		},
		[]string{LabelMethod, LabelOutcome},
	)

	m.loginDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "login_duration_seconds",
			Help:      "Login submission latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	m.loginsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "logins_in_flight",
			Help:      "Number of login submissions currently in flight.",
		},
	)

	m.authEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "auth_events_total",
			Help:      "Auth-state events observed by the flow controller.",
		},
		[]string{LabelEvent},
	)

	m.profileInsertsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "profile_inserts_total",
			Help:      "Profiles created during provisioning.",
		},
	)

	m.profileLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "profile_lookups_total",
			Help:      "Profile lookups during provisioning by outcome.",
		},
		[]string{LabelOutcome},
	)

	m.provisionFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "provision_failures_total",
			Help:      "Provisioning sequences that failed and were logged.",
		},
	)

	m.prefLoadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pref_loads_total",
			Help:      "Preference loads by service and outcome.",
		},
		[]string{LabelProvider, LabelOutcome},
	)

	m.prefCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pref_cache_hits_total",
			Help:      "Preference reads served from cache.",
		},
	)

	m.prefCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pref_cache_misses_total",
			Help:      "Preference reads that fell through to the service.",
		},
	)

	m.sessionRefreshTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "session_refresh_total",
			Help:      "Background session refresh attempts by outcome.",
		},
		[]string{LabelOutcome},
	)

	return m
}

// ObserveLogin records a completed login submission.
func (m *Metrics) ObserveLogin(method, outcome string, duration time.Duration) {
	m.loginAttemptsTotal.WithLabelValues(method, outcome).Inc()
	m.loginDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// LoginStarted marks a login submission as in flight.
func (m *Metrics) LoginStarted() {
	m.loginsInFlight.Inc()
}

// LoginFinished marks a login submission as complete.
func (m *Metrics) LoginFinished() {
	m.loginsInFlight.Dec()
}

// ObserveAuthEvent records an observed auth-state event.
func (m *Metrics) ObserveAuthEvent(event string) {
	m.authEventsTotal.WithLabelValues(event).Inc()
}

// ProfileInserted records a profile creation.
func (m *Metrics) ProfileInserted() {
	m.profileInsertsTotal.Inc()
}

// ProfileLookup records a profile lookup outcome ("hit" or "miss").
func (m *Metrics) ProfileLookup(outcome string) {
	m.profileLookupsTotal.WithLabelValues(outcome).Inc()
}

// ProvisionFailed records a swallowed provisioning failure.
func (m *Metrics) ProvisionFailed() {
	m.provisionFailuresTotal.Inc()
}

// ObservePrefLoad records a preference load.
func (m *Metrics) ObservePrefLoad(service, outcome string) {
	m.prefLoadsTotal.WithLabelValues(service, outcome).Inc()
}

// PrefCacheHit records a cache hit for a preference read.
func (m *Metrics) PrefCacheHit() {
	m.prefCacheHits.Inc()
}

// PrefCacheMiss records a cache miss for a preference read.
func (m *Metrics) PrefCacheMiss() {
	m.prefCacheMisses.Inc()
}

// ObserveSessionRefresh records a background refresh attempt.
func (m *Metrics) ObserveSessionRefresh(outcome string) {
	m.sessionRefreshTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
