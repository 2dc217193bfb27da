package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsections_source_runs_total",
			Help: "Total number of source runs by outcome",
		},
		[]string{"source", "outcome"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostsections_cache_hits_total",
			Help: "Total number of source runs served from the raw data cache",
		},
		[]string{"source"},
	)

	SourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostsections_source_duration_seconds",
			Help:    "Time taken to fetch and parse the data of a source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostsections_parse_errors_total",
			Help: "Total number of failed section parse functions",
		},
	)

	CollectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostsections_collection_duration_seconds",
			Help:    "Time taken to collect the data of all hosts",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	HostsCollected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostsections_hosts_collected",
			Help: "Number of hosts handled by the last collection",
		},
	)
)

// ObserveSource records the outcome of one source run. outcome is "ok" or the
// failure kind.
func ObserveSource(source, outcome string, fromCache bool, took time.Duration) {
	SourceRuns.WithLabelValues(source, outcome).Inc()
	SourceDuration.WithLabelValues(source).Observe(took.Seconds())
	if fromCache {
		CacheHits.WithLabelValues(source).Inc()
	}
}
