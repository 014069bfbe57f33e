// Package observability provides Prometheus metrics instrumentation for the
// research core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// JOB METRICS
// =============================================================================

var (
	jobsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riskresearch_jobs_started_total",
			Help: "Total number of research jobs started",
		},
	)

	jobsTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskresearch_jobs_terminal_total",
			Help: "Total number of research jobs reaching a terminal status",
		},
		[]string{"status"}, // status: complete, error, cancelled
	)

	jobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riskresearch_job_duration_seconds",
			Help:    "Research job duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
)

// =============================================================================
// TELEMETRY METRICS
// =============================================================================

var (
	snapshotsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riskresearch_snapshots_published_total",
			Help: "Total number of progress snapshots published to the feed",
		},
	)

	stageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskresearch_stage_transitions_total",
			Help: "Total number of canonical stage transitions",
		},
		[]string{"stage"},
	)

	jobProgressPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riskresearch_job_progress_percent",
			Help: "Latest completion percentage per running job",
		},
		[]string{"job_id"},
	)
)

// =============================================================================
// HTTP METRICS
// =============================================================================

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskresearch_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riskresearch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordJobStarted records a job start.
func RecordJobStarted() {
	jobsStartedTotal.Inc()
}

// RecordJobTerminal records a job reaching a terminal status.
// This should be called once per job, when it terminates.
func RecordJobTerminal(status string, durationMS int) {
	jobsTerminalTotal.WithLabelValues(status).Inc()
	jobDurationSeconds.WithLabelValues(status).Observe(float64(durationMS) / 1000.0)
}

// RecordSnapshot records one published progress observation.
func RecordSnapshot() {
	snapshotsPublishedTotal.Inc()
}

// RecordStageTransition records entry into a canonical stage.
func RecordStageTransition(stage string) {
	stageTransitionsTotal.WithLabelValues(stage).Inc()
}

// SetJobProgress records the latest completion percentage for a job.
func SetJobProgress(jobID string, pct float64) {
	jobProgressPercent.WithLabelValues(jobID).Set(pct)
}

// ClearJobProgress drops the per-job progress gauge once the job terminates.
func ClearJobProgress(jobID string) {
	jobProgressPercent.DeleteLabelValues(jobID)
}

// RecordHTTPRequest records HTTP request metrics.
// This should be called from the request logging wrapper.
func RecordHTTPRequest(route string, status string, durationMS int) {
	httpRequestsTotal.WithLabelValues(route, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(float64(durationMS) / 1000.0)
}
