// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Setup saga metrics.
var (
	// SetupStepsTotal counts saga step results: ok, failed, degraded, timeout.
	SetupStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_setup_steps_total",
			Help: "Tenant setup saga steps by result",
		},
		[]string{"step", "result"},
	)

	SetupStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_setup_step_duration_seconds",
			Help:    "Duration of each tenant setup saga step",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"step"},
	)

	SetupOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_setup_outcomes_total",
			Help: "Tenant setup calls by mode or error code",
		},
		[]string{"outcome"},
	)

	ProgressPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_progress_polls_total",
			Help: "Progress channel reads by result",
		},
		[]string{"result"},
	)

	ActivePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_progress_pollers_active",
			Help: "Number of running progress pollers",
		},
	)
)
