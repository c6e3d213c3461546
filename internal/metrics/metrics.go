// Package metrics exposes Glasswally's Prometheus text-format
// instrumentation, following the promauto package-level-vars pattern
// used throughout the retrieved pack's Prometheus integrations rather
// than a hand-rolled collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_total",
			Help: "Total number of events ingested.",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of events dropped, by reason.",
		},
		[]string{"reason"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_total",
			Help: "Total number of fusion results emitted, by tier.",
		},
		[]string{"tier"},
	)

	CompositeScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composite_score",
			Help:    "Distribution of composite fusion scores.",
			Buckets: []float64{0.35, 0.52, 0.72, 0.85, 1.0},
		},
	)

	WorkerSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_signals_total",
			Help: "Total number of signals produced, by worker.",
		},
		[]string{"worker"},
	)

	WorkerTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_timeouts_total",
			Help: "Total number of worker analyses that exceeded budget, by worker.",
		},
		[]string{"worker"},
	)

	ClusterComponents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cluster_components",
			Help: "Current number of connected components in the pivot graph.",
		},
	)

	StateAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "state_accounts",
			Help: "Current number of accounts tracked in the state store.",
		},
	)

	DispatcherEmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_emissions_total",
			Help: "Total number of records written, by sink.",
		},
		[]string{"sink"},
	)
)

// Handler returns the Prometheus text-format HTTP handler to mount at
// the configured metrics address.
func Handler() http.Handler {
	return promhttp.Handler()
}
