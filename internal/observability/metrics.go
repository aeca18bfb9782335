package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EngineInvocations       *prometheus.CounterVec
	EngineLatency           *prometheus.HistogramVec
	Requests                *prometheus.CounterVec
	RequestLatency          *prometheus.HistogramVec
	ArtifactsInFlight       prometheus.Gauge
	ArtifactCleanupFailures prometheus.Counter

	window *operationWindow
}

// NewMetrics registers the instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EngineInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_invocations_total",
			Help:      "Speech engine invocations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		EngineLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_ms",
			Help:      "Speech engine invocation latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"operation"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched requests by transport, operation and final state.",
		}, []string{"transport", "operation", "state"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_ms",
			Help:      "End-to-end request latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}, []string{"operation"}),
		ArtifactsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_artifacts_in_flight",
			Help:      "Temporary capture files currently on disk.",
		}),
		ArtifactCleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_cleanup_failures_total",
			Help:      "Capture files that could not be removed.",
		}),
		window: newOperationWindow(256),
	}
}

func (m *Metrics) ObserveEngine(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EngineInvocations.WithLabelValues(operation, outcome).Inc()
	m.EngineLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

// ObserveRequest records a finished request. failure is the error kind, or
// empty on success.
func (m *Metrics) ObserveRequest(transport, operation, state, failure string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(transport, operation, state).Inc()
	m.RequestLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
	m.window.Observe(operation, float64(d.Microseconds())/1000)
	if failure != "" {
		m.window.ObserveFailure(failure)
	}
}

func (m *Metrics) ArtifactAcquired() {
	if m == nil {
		return
	}
	m.ArtifactsInFlight.Inc()
}

func (m *Metrics) ArtifactReleased() {
	if m == nil {
		return
	}
	m.ArtifactsInFlight.Dec()
}

func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.ArtifactCleanupFailures.Inc()
}

// Snapshot returns rolling per-operation latency statistics.
func (m *Metrics) Snapshot() OperationSnapshot {
	if m == nil {
		return newOperationWindow(0).Snapshot()
	}
	return m.window.Snapshot()
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
