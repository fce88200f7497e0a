package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes Prometheus-compatible metrics for the
// workflow engine, all namespaced "workflow_".
//
//  1. turn_latency_ms (histogram): time to execute one node within a
//     session turn (the engine records it once per node invocation),
//     labeled by session_id, node_id, status.
//  2. active_sessions (gauge): sessions currently executing a turn.
//  3. pauses_total (counter): HIL gates that suspended a session,
//     labeled by session_id, node_id.
//  4. resumes_total (counter): approval decisions that resumed a
//     session, labeled by session_id, decision (approved/rejected).
//  5. downstream_calls_total (counter): outbound calls to the banking
//     collaborator, labeled by operation, status.
//  6. classifier_fallbacks_total (counter): turns where the pluggable
//     classifier errored and execution fell back to the rule-based
//     classifier, labeled by reason.
type PrometheusMetrics struct {
	turnLatency        *prometheus.HistogramVec
	activeSessions      prometheus.Gauge
	pauses              *prometheus.CounterVec
	resumes             *prometheus.CounterVec
	downstreamCalls     *prometheus.CounterVec
	classifierFallbacks *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the engine's metrics with
// the given registry. Pass prometheus.DefaultRegisterer for the global
// registry, or a fresh prometheus.NewRegistry() for test isolation.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.turnLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Name:      "turn_latency_ms",
		Help:      "Duration of a single session turn in milliseconds",
		Buckets:   []float64{5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"session_id", "node_id", "status"})

	pm.activeSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "workflow",
		Name:      "active_sessions",
		Help:      "Number of sessions currently executing a turn",
	})

	pm.pauses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "pauses_total",
		Help:      "Sessions suspended at a human-in-the-loop gate",
	}, []string{"session_id", "node_id"})

	pm.resumes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "resumes_total",
		Help:      "Approval decisions that resumed a suspended session",
	}, []string{"session_id", "decision"})

	pm.downstreamCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "downstream_calls_total",
		Help:      "Outbound calls to the banking collaborator",
	}, []string{"operation", "status"})

	pm.classifierFallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "classifier_fallbacks_total",
		Help:      "Turns where the pluggable classifier errored and the rule-based fallback ran instead",
	}, []string{"reason"})

	return pm
}

// RecordTurnLatency records the duration of one node invocation within
// a session turn.
func (pm *PrometheusMetrics) RecordTurnLatency(sessionID, nodeID string, d time.Duration, status string) {
	if !pm.enabled {
		return
	}
	pm.turnLatency.WithLabelValues(sessionID, nodeID, status).Observe(float64(d.Milliseconds()))
}

// SetActiveSessions sets the current count of in-flight turns.
func (pm *PrometheusMetrics) SetActiveSessions(count int) {
	if !pm.enabled {
		return
	}
	pm.activeSessions.Set(float64(count))
}

// IncrementPauses records a session suspending at a HIL gate.
func (pm *PrometheusMetrics) IncrementPauses(sessionID, nodeID string) {
	if !pm.enabled {
		return
	}
	pm.pauses.WithLabelValues(sessionID, nodeID).Inc()
}

// IncrementResumes records an approval decision resuming a session.
func (pm *PrometheusMetrics) IncrementResumes(sessionID, decision string) {
	if !pm.enabled {
		return
	}
	pm.resumes.WithLabelValues(sessionID, decision).Inc()
}

// IncrementDownstreamCalls records an outbound call to the banking
// collaborator.
func (pm *PrometheusMetrics) IncrementDownstreamCalls(operation, status string) {
	if !pm.enabled {
		return
	}
	pm.downstreamCalls.WithLabelValues(operation, status).Inc()
}

// IncrementClassifierFallbacks records a turn where the pluggable
// classifier failed and the rule-based fallback classified instead.
func (pm *PrometheusMetrics) IncrementClassifierFallbacks(reason string) {
	if !pm.enabled {
		return
	}
	pm.classifierFallbacks.WithLabelValues(reason).Inc()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
