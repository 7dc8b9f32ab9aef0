// Package metrics implements the coordination core's Prometheus collector,
// adapted from the teacher's internal/metrics.Collector: a private registry,
// a handful of CounterVec/GaugeVec/HistogramVec instruments, and a
// promhttp.Handler mounted alongside the health probe endpoints rather than
// on a metrics-only server of its own.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every instrument the core emits: role transitions, write
// rejections, split-brain detections, and forwarding outcomes/latency.
type Collector struct {
	registry *prometheus.Registry

	roleTransitions      *prometheus.CounterVec
	writeRejections      *prometheus.CounterVec
	splitBrainDetections prometheus.Counter
	forwardAttempts      *prometheus.CounterVec
	forwardDuration      *prometheus.HistogramVec
	breakerState         *prometheus.GaugeVec
}

// NewCollector constructs and registers every instrument against a fresh,
// private registry (never the global default, so multiple instances in the
// same process, e.g. in tests, never collide).
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		roleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litefscore",
			Subsystem: "failover",
			Name:      "role_transitions_total",
			Help:      "Count of failover events emitted by the coordinator, by kind.",
		}, []string{"kind"}),
		writeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litefscore",
			Subsystem: "guard",
			Name:      "write_rejections_total",
			Help:      "Count of writes rejected by the write-path guard, by reason.",
		}, []string{"reason"}),
		splitBrainDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "litefscore",
			Subsystem: "splitbrain",
			Name:      "detections_total",
			Help:      "Count of split-brain conditions observed.",
		}),
		forwardAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "litefscore",
			Subsystem: "forwarding",
			Name:      "attempts_total",
			Help:      "Count of forwarded requests, by outcome.",
		}, []string{"outcome"}),
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "litefscore",
			Subsystem: "forwarding",
			Name:      "duration_seconds",
			Help:      "Latency of forwarded requests, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "litefscore",
			Subsystem: "forwarding",
			Name:      "breaker_state",
			Help:      "Circuit breaker state, one-hot: 1 for the current state label, 0 for the others.",
		}, []string{"state"}),
	}

	registry.MustRegister(
		c.roleTransitions,
		c.writeRejections,
		c.splitBrainDetections,
		c.forwardAttempts,
		c.forwardDuration,
		c.breakerState,
	)

	return c
}

// RecordRoleTransition increments the counter for a failover event kind
// (e.g. "promoted", "demoted", "promotion_blocked").
func (c *Collector) RecordRoleTransition(kind string) {
	c.roleTransitions.WithLabelValues(kind).Inc()
}

// RecordWriteRejection increments the counter for a guard rejection reason
// ("not_primary" or "split_brain").
func (c *Collector) RecordWriteRejection(reason string) {
	c.writeRejections.WithLabelValues(reason).Inc()
}

// RecordSplitBrainDetection increments the split-brain detection counter.
func (c *Collector) RecordSplitBrainDetection() {
	c.splitBrainDetections.Inc()
}

// RecordForwardAttempt records one forwarded request's outcome
// ("success", "retry_exhausted", "timeout", "breaker_open") and latency.
func (c *Collector) RecordForwardAttempt(outcome string, duration time.Duration) {
	c.forwardAttempts.WithLabelValues(outcome).Inc()
	c.forwardDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetBreakerState reports the current breaker state as a gauge sample; only
// the sampled state's gauge is set to 1, the others to 0, so the exposed
// series behaves like a one-hot state indicator.
func (c *Collector) SetBreakerState(state string) {
	for _, s := range []string{"closed", "half_open", "open"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		c.breakerState.WithLabelValues(s).Set(value)
	}
}

// Handler returns the promhttp handler for this collector's private
// registry, meant to be mounted at "/metrics" alongside the health probes.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
