// Package telemetry exposes the pipeline's Prometheus metrics and a minimal
// OpenTelemetry tracer provider for the Coordinator's top-level spans.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pipelineDocumentsTotal counts per-document outcomes, labeled by source
	// and outcome (persisted/persist_failed/item_error/discovery_failed).
	pipelineDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_documents_total",
			Help: "Total number of documents processed, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	pipelineJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_total",
			Help: "Total number of pipeline runs, labeled by terminal state.",
		},
		[]string{"state"},
	)

	pipelineActiveFetchers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_active_fetchers",
			Help: "Number of fetch workers currently processing a reference, labeled by source.",
		},
		[]string{"source"},
	)

	pipelinePendingReferences = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_pending_references",
			Help: "Number of references discovered but not yet fetched, labeled by source.",
		},
		[]string{"source"},
	)

	pipelineRateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations, labeled by source.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	pipelineFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_fetch_duration_seconds",
			Help:    "Histogram of fetch request latencies, labeled by source and status class.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source", "status_class"},
	)

	pipelineCheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_checkpoints_total",
			Help: "Total number of checkpoints written, labeled by source.",
		},
		[]string{"source"},
	)
)

// ObserveDocument records one document outcome (persisted, persist or item
// failure, or a failed discovery page) for a source.
func ObserveDocument(sourceID, outcome string) {
	pipelineDocumentsTotal.WithLabelValues(sourceID, outcome).Inc()
}

// ObserveJobTerminal records a pipeline run reaching a terminal state.
func ObserveJobTerminal(state string) {
	pipelineJobsTotal.WithLabelValues(state).Inc()
}

// SetActiveFetchers sets the current in-flight fetch count for a source.
func SetActiveFetchers(sourceID string, n int) {
	pipelineActiveFetchers.WithLabelValues(sourceID).Set(float64(n))
}

// SetPendingReferences sets the current backlog size for a source.
func SetPendingReferences(sourceID string, n int) {
	pipelinePendingReferences.WithLabelValues(sourceID).Set(float64(n))
}

// ObserveRateLimitDelay records time spent waiting on the source's token
// bucket.
func ObserveRateLimitDelay(sourceID string, d time.Duration) {
	pipelineRateLimitDelaySeconds.WithLabelValues(sourceID).Observe(d.Seconds())
}

// ObserveFetchDuration records one HTTP fetch's latency, labeled by the
// response's status class (2xx/3xx/4xx/5xx/other).
func ObserveFetchDuration(sourceID, statusClass string, d time.Duration) {
	pipelineFetchDurationSeconds.WithLabelValues(sourceID, statusClass).Observe(d.Seconds())
}

// ObserveCheckpoint records a checkpoint write for a source.
func ObserveCheckpoint(sourceID string) {
	pipelineCheckpointsTotal.WithLabelValues(sourceID).Inc()
}

// StatusClass buckets an HTTP status code into 2xx/3xx/4xx/5xx/other, for
// metric cardinality control.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
