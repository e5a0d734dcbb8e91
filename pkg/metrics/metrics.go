// Package metrics holds AlephAuto's Prometheus metrics. Using promauto for
// automatic registration with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- Job Metrics ---

	// JobsTotal is incremented once when a job is queued and once when it
	// reaches a terminal status; nothing decrements it, so each series counts
	// jobs that have entered that status, not jobs currently in it.
	JobsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Number of jobs that have entered each status",
		},
		[]string{"status"},
	)

	// JobCompletionsTotal counts terminal job outcomes by type.
	JobCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "completions_total",
			Help:      "Total number of jobs reaching a terminal status, by type",
		},
		[]string{"status", "job_type"},
	)

	// JobDuration tracks handler execution duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job handler execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"job_type", "status"},
	)

	// QueueDepth tracks pending jobs waiting for a concurrency slot.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of jobs currently queued",
		},
	)

	// ConcurrencySlotsInUse tracks how many of MaxConcurrent handlers are
	// currently running.
	ConcurrencySlotsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "concurrency_slots_in_use",
			Help:      "Number of concurrency slots currently held by running handlers",
		},
	)

	// RetriesTotal counts job retries scheduled, by type.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total number of retries scheduled",
		},
		[]string{"job_type"},
	)

	// CircuitBreakerTrips counts jobs that hit the absolute retry ceiling.
	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alephauto",
			Subsystem: "jobs",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of jobs that exhausted the absolute retry ceiling",
		},
		[]string{"job_type"},
	)

	// --- Pipeline Metrics ---

	// PipelineRunsTotal counts cron-triggered pipeline runs by pipeline name,
	// whether or not the firing's job was enqueued.
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alephauto",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs triggered by their cron schedule",
		},
		[]string{"pipeline"},
	)

	// PipelineLag measures delay between a cron firing and the resulting
	// job actually being enqueued.
	PipelineLag = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "alephauto",
			Subsystem: "pipeline",
			Name:      "dispatch_lag_seconds",
			Help:      "Delay between a cron firing and the resulting job being enqueued",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"pipeline"},
	)

	// --- Coordination Metrics ---

	// ActiveWorkers tracks the number of workers registered with the
	// coordinator.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alephauto",
			Subsystem: "cluster",
			Name:      "active_workers",
			Help:      "Number of workers currently registered with the coordinator",
		},
	)

	// HeldRepoLocks tracks how many repository-path locks are currently
	// held across the cluster.
	HeldRepoLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alephauto",
			Subsystem: "cluster",
			Name:      "held_repo_locks",
			Help:      "Number of repository-path locks currently held",
		},
	)
)

// RecordJobCompletion records metrics for a job reaching a terminal status.
func RecordJobCompletion(jobType, status string, durationSeconds float64) {
	JobCompletionsTotal.WithLabelValues(status, jobType).Inc()
	JobDuration.WithLabelValues(jobType, status).Observe(durationSeconds)
}

// RecordPipelineDispatch records a cron-triggered pipeline run.
func RecordPipelineDispatch(pipeline string, lagSeconds float64) {
	PipelineRunsTotal.WithLabelValues(pipeline).Inc()
	PipelineLag.WithLabelValues(pipeline).Observe(lagSeconds)
}
