package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Navigation metrics
	DecisionsTotal  *prometheus.CounterVec
	HandoffsTotal   prometheus.Counter
	FocusSwitches   prometheus.Counter
	DecisionSeconds prometheus.Histogram

	// Filter metrics
	RulesActive        prometheus.Gauge
	CompileSkippedLast prometheus.Gauge
	CompilesTotal      prometheus.Counter
	RefreshFailures    prometheus.Counter
	BlockedTotal       *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	PersistsTotal  prometheus.Counter
	PersistErrors  prometheus.Counter

	// Favicon metrics
	FaviconFetches   *prometheus.CounterVec
	FaviconFallbacks prometheus.Counter

	startTime time.Time
}

// NewMetrics creates a new metrics collector registered on a private registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

// NewMetricsOn creates a metrics collector registered on the given registry.
func NewMetricsOn(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedock_navigation_decisions_total",
				Help: "Navigation decisions by verdict",
			},
			[]string{"verdict"},
		),
		HandoffsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_default_browser_handoffs_total",
				Help: "URLs handed to the system default browser",
			},
		),
		FocusSwitches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_focus_switches_total",
				Help: "Navigations redirected to another configured tab",
			},
		),
		DecisionSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitedock_decision_duration_seconds",
				Help:    "Navigation decision latency",
				Buckets: []float64{.00001, .0001, .001, .01, .1},
			},
		),

		RulesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitedock_filter_rules_active",
				Help: "Rules in the active compiled set",
			},
		),
		CompileSkippedLast: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitedock_filter_skipped_lines",
				Help: "Malformed lines skipped by the last compile",
			},
		),
		CompilesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_filter_compiles_total",
				Help: "Filter list compilations",
			},
		),
		RefreshFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_filter_refresh_failures_total",
				Help: "Failed filter list refresh attempts",
			},
		),
		BlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedock_requests_blocked_total",
				Help: "Network loads blocked by the content filter",
			},
			[]string{"resource"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitedock_tab_sessions_active",
				Help: "Tab sessions currently managed",
			},
		),
		PersistsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_session_persists_total",
				Help: "Session persistence writes",
			},
		),
		PersistErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_session_persist_errors_total",
				Help: "Failed session persistence writes",
			},
		),

		FaviconFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedock_favicon_fetches_total",
				Help: "Favicon fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		FaviconFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitedock_favicon_fallbacks_total",
				Help: "Generated fallback icons served",
			},
		),
	}
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
