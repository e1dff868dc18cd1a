// Package metrics defines the daemon's Prometheus instrumentation:
// tick timing, candidate selection, readahead outcomes, and model
// size, exposed for scrape via an HTTP handler wired by cmd/preloadd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric the daemon exports, constructed once
// against a single prometheus.Registerer so tests can use an isolated
// registry instead of the global default.
type Registry struct {
	TickDuration    *prometheus.HistogramVec
	ScanExes        prometheus.Gauge
	ScanMaps        prometheus.Gauge
	ReadaheadTotal  *prometheus.CounterVec
	CandidatesBytes prometheus.Gauge
	SaveDuration    prometheus.Histogram
	SaveErrors      prometheus.Counter
	QuarantineTotal prometheus.Counter
}

// New registers every metric against reg and returns the Registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		TickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "preloadd",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each tick phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		ScanExes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "preloadd",
			Name:      "tracked_exes",
			Help:      "Number of Exes currently tracked.",
		}),
		ScanMaps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "preloadd",
			Name:      "tracked_maps",
			Help:      "Number of Maps currently registered.",
		}),
		ReadaheadTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preloadd",
			Name:      "readahead_total",
			Help:      "Readahead hints issued, by outcome.",
		}, []string{"outcome"}),
		CandidatesBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "preloadd",
			Name:      "candidate_bytes",
			Help:      "Total bytes selected for readahead in the last tick.",
		}),
		SaveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "preloadd",
			Name:      "save_duration_seconds",
			Help:      "Duration of state-file saves.",
			Buckets:   prometheus.DefBuckets,
		}),
		SaveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "preloadd",
			Name:      "save_errors_total",
			Help:      "Failed state-file saves.",
		}),
		QuarantineTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "preloadd",
			Name:      "state_quarantine_total",
			Help:      "Times the on-disk state file was quarantined after a load failure.",
		}),
	}
}
