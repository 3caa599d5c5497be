// Package metrics wraps the prometheus collectors exposed by the movie
// server: per-operation counters and latency histograms, queue depth and
// worker-pool gauges, and the classifier's failure-class breakdown.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the registry and collectors for the server.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	operationsTotal  *prometheus.CounterVec
	operationFailed  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	sessionsStarted  prometheus.Counter
	sessionsFinished prometheus.Counter
	activeSessions   prometheus.Gauge

	workersAlive prometheus.Gauge

	enqueued        prometheus.Counter
	enqueueRetried  prometheus.Counter
	enqueueRejected prometheus.Counter
	queueDepth      prometheus.GaugeFunc

	parseErrors *prometheus.CounterVec
}

var defaultLatencyBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

var promMetrics *PrometheusMetrics

// QueueDepthFunc is supplied by InitPrometheus's caller so the depth gauge
// can read the live queue without this package importing internal/queue.
type QueueDepthFunc func() float64

// InitPrometheus registers every collector under namespace and starts
// reporting queueDepth through depthFn. Safe to call once at startup; a
// second call replaces the previous registry.
func InitPrometheus(namespace string, buckets []float64, depthFn QueueDepthFunc) {
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}
	if depthFn == nil {
		depthFn = func() float64 { return 0 }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total operations processed, by kind and outcome",
		}, []string{"operation", "outcome"}),

		operationFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Operation failures by failure class",
		}, []string{"operation", "class"}),

		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_ms",
			Help:      "Operation handling latency in milliseconds",
			Buckets:   buckets,
		}, []string{"operation"}),

		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total client sessions accepted",
		}),

		sessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total client sessions completed",
		}),

		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently being served",
		}),

		workersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_alive",
			Help:      "Worker goroutines currently alive",
		}),

		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Connections successfully handed to the work queue",
		}),

		enqueueRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_retries_total",
			Help:      "Times the accept loop retried a full queue",
		}),

		enqueueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_rejected_total",
			Help:      "Connections dropped after exhausting enqueue retries",
		}),

		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "YAML parse failures by reason",
		}, []string{"reason"}),
	}

	pm.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current depth of the work queue",
	}, depthFn)

	registry.MustRegister(
		pm.operationsTotal,
		pm.operationFailed,
		pm.operationLatency,
		pm.sessionsStarted,
		pm.sessionsFinished,
		pm.activeSessions,
		pm.workersAlive,
		pm.enqueued,
		pm.enqueueRetried,
		pm.enqueueRejected,
		pm.queueDepth,
		pm.parseErrors,
	)

	promMetrics = pm
}

// RecordOperation records one completed operation's outcome and latency.
func RecordOperation(operation, outcome string, durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.operationsTotal.WithLabelValues(operation, outcome).Inc()
	promMetrics.operationLatency.WithLabelValues(operation).Observe(durationMs)
}

// RecordFailure records a classified failure for an operation.
func RecordFailure(operation, class string) {
	if promMetrics == nil {
		return
	}
	promMetrics.operationFailed.WithLabelValues(operation, class).Inc()
}

// RecordParseError records a YAML parse failure by reason.
func RecordParseError(reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.parseErrors.WithLabelValues(reason).Inc()
}

// SessionStarted marks the start of one client connection's handling.
func SessionStarted() {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsStarted.Inc()
	promMetrics.activeSessions.Inc()
}

// SessionFinished marks the end of one client connection's handling.
func SessionFinished() {
	if promMetrics == nil {
		return
	}
	promMetrics.sessionsFinished.Inc()
	promMetrics.activeSessions.Dec()
}

// WorkerStarted increments the alive-worker gauge.
func WorkerStarted() {
	if promMetrics == nil {
		return
	}
	promMetrics.workersAlive.Inc()
}

// WorkerStopped decrements the alive-worker gauge.
func WorkerStopped() {
	if promMetrics == nil {
		return
	}
	promMetrics.workersAlive.Dec()
}

// Enqueued counts one connection successfully handed to the queue.
func Enqueued() {
	if promMetrics == nil {
		return
	}
	promMetrics.enqueued.Inc()
}

// EnqueueRetried counts one retry against a full queue.
func EnqueueRetried() {
	if promMetrics == nil {
		return
	}
	promMetrics.enqueueRetried.Inc()
}

// EnqueueRejected counts one connection dropped after retry exhaustion.
func EnqueueRejected() {
	if promMetrics == nil {
		return
	}
	promMetrics.enqueueRejected.Inc()
}

// PrometheusHandler returns an HTTP handler for metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, for tests or custom
// collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
