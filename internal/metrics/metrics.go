// Package metrics collects and exposes Prometheus metrics for the pipeline
// service. Counters separate workflow misuse (invalid transitions), races
// (stale conflicts) and infrastructure flakiness (sync failures) so alerts
// can tell them apart.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus registry. A nil *Collector is
// valid and records nothing, which keeps test wiring small.
type Collector struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	invalidTransitions prometheus.Counter
	staleConflicts     prometheus.Counter
	syncFailures       prometheus.Counter
	syncReplayed       prometheus.Counter
	transitionLatency  prometheus.Histogram
}

// NewCollector builds and registers all pipeline metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_transitions_total",
			Help: "Committed pipeline transitions by from/to state.",
		}, []string{"from", "to"}),
		invalidTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_invalid_transitions_total",
			Help: "Transition requests rejected by the transition table.",
		}),
		staleConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_stale_conflicts_total",
			Help: "Commits refused because the record changed since read.",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ats_sync_failures_total",
			Help: "Stage pushes to the system of record that failed.",
		}),
		syncReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ats_sync_replayed_total",
			Help: "Audit events re-driven to the system of record by the reconciler.",
		}),
		transitionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_transition_seconds",
			Help:    "Latency of a full transition commit including side effects.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
	c.registry.MustRegister(
		c.transitions, c.invalidTransitions, c.staleConflicts,
		c.syncFailures, c.syncReplayed, c.transitionLatency,
	)
	return c
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) InvalidTransition() {
	if c == nil {
		return
	}
	c.invalidTransitions.Inc()
}

func (c *Collector) StaleConflict() {
	if c == nil {
		return
	}
	c.staleConflicts.Inc()
}

func (c *Collector) SyncFailure() {
	if c == nil {
		return
	}
	c.syncFailures.Inc()
}

func (c *Collector) SyncReplayed() {
	if c == nil {
		return
	}
	c.syncReplayed.Inc()
}

func (c *Collector) ObserveTransition(d time.Duration) {
	if c == nil {
		return
	}
	c.transitionLatency.Observe(d.Seconds())
}
