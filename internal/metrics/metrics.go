// Package metrics holds the prometheus collectors shared by the core
// components. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lineage"

// Recorder groups every collector the engine updates.
type Recorder struct {
	ingests        *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	lookups        *prometheus.CounterVec
	nodes          *prometheus.CounterVec
	benchmarks     *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Dataset ingest attempts by outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent validating, persisting and publishing a dataset version.",
			Buckets:   prometheus.DefBuckets,
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Datapoint lookups by match kind or error.",
		}, []string{"result"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provenance_nodes_total",
			Help:      "Provenance nodes added to the graph by kind.",
		}, []string{"kind"}),
		benchmarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "benchmark_runs_total",
			Help:      "Benchmark runs by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_refreshes_total",
			Help:      "Reference refreshes by resulting state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(r.ingests, r.ingestDuration, r.lookups, r.nodes, r.benchmarks, r.refreshes)
	}
	return r
}

// Ingest records one ingest attempt.
func (r *Recorder) Ingest(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ingests.WithLabelValues(outcome).Inc()
	r.ingestDuration.Observe(elapsed.Seconds())
}

// Lookup records one datapoint lookup.
func (r *Recorder) Lookup(result string) {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues(result).Inc()
}

// Node records a node added to the provenance graph.
func (r *Recorder) Node(kind string) {
	if r == nil {
		return
	}
	r.nodes.WithLabelValues(kind).Inc()
}

// Benchmark records one benchmark run.
func (r *Recorder) Benchmark(outcome string) {
	if r == nil {
		return
	}
	r.benchmarks.WithLabelValues(outcome).Inc()
}

// Refresh records one reference refresh.
func (r *Recorder) Refresh(state string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(state).Inc()
}
