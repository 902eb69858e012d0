// Package metrics provides Prometheus metrics for the score service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store error kinds
const (
	KindUnavailable = "unavailable"
	KindOperation   = "operation_failed"
)

// Option configures a Manager
type Option func(*Manager)

// WithNamespace sets the metric namespace
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		m.namespace = namespace
	}
}

// WithRegistry registers metrics on registry instead of a fresh one
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithHistogramBuckets overrides the HTTP duration buckets
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		m.histogramBuckets = buckets
	}
}

// Manager owns the service metrics and the registry they live on
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	submissions         *prometheus.CounterVec
	storeErrors         *prometheus.CounterVec
	leaderboardQueries  prometheus.Counter
	signIns             *prometheus.CounterVec
	ingestedMessages    *prometheus.CounterVec
	broadcasts          prometheus.Counter
	httpRequestDuration *prometheus.HistogramVec
	storeUp             prometheus.Gauge
}

// NewManager creates a metrics manager. Without WithRegistry it uses its own
// registry so the Go runtime collectors stay out of the exposition.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "escape_exam",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "score_submissions_total",
		Help:      "Score submissions by outcome",
	}, []string{"outcome"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "store_errors_total",
		Help:      "Store failures by kind",
	}, []string{"kind"})

	m.leaderboardQueries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "leaderboard_queries_total",
		Help:      "Leaderboard reads served",
	})

	m.signIns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "sign_ins_total",
		Help:      "Identity sign-ins by result",
	}, []string{"result"})

	m.ingestedMessages = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "ingested_messages_total",
		Help:      "Score messages consumed from the stream by result",
	}, []string{"result"})

	m.broadcasts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "leaderboard_broadcasts_total",
		Help:      "Leaderboard pages pushed to websocket clients",
	})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method", "status_code"})

	m.storeUp = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "store_up",
		Help:      "1 when the last store health check succeeded",
	})
}

// RecordSubmission counts a submission outcome (created, updated, rejected, invalid, failed)
func (m *Manager) RecordSubmission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// RecordStoreError counts a store failure of the given kind
func (m *Manager) RecordStoreError(kind string) {
	m.storeErrors.WithLabelValues(kind).Inc()
}

// RecordLeaderboardQuery counts a leaderboard read
func (m *Manager) RecordLeaderboardQuery() {
	m.leaderboardQueries.Inc()
}

// RecordSignIn counts a sign-in attempt
func (m *Manager) RecordSignIn(result string) {
	m.signIns.WithLabelValues(result).Inc()
}

// RecordIngested counts n consumed stream messages
func (m *Manager) RecordIngested(result string, n int) {
	m.ingestedMessages.WithLabelValues(result).Add(float64(n))
}

// RecordBroadcast counts a websocket leaderboard push
func (m *Manager) RecordBroadcast() {
	m.broadcasts.Inc()
}

// ObserveHTTPRequest records the duration of a served request
func (m *Manager) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	m.httpRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// SetStoreUp records the latest store health check
func (m *Manager) SetStoreUp(up bool) {
	if up {
		m.storeUp.Set(1)
		return
	}
	m.storeUp.Set(0)
}

// Registry returns the registry the metrics are registered on
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
