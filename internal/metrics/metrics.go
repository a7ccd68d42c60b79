// Package metrics defines Prometheus metrics for the migration engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntitiesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qase_migrate_entities_processed_total",
			Help: "Source entities examined, by entity type",
		},
		[]string{"entity"},
	)

	EntitiesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qase_migrate_entities_created_total",
			Help: "Target entities created or mapped, by entity type",
		},
		[]string{"entity"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qase_migrate_errors_total",
			Help: "Migration errors by entity type",
		},
		[]string{"entity"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qase_migrate_retries_total",
			Help: "Retried API calls by operation",
		},
		[]string{"op"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qase_migrate_api_request_duration_seconds",
			Help:    "Qase API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workspace", "method", "status"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qase_migrate_step_duration_seconds",
			Help:    "Orchestrator step duration in seconds",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 3600},
		},
		[]string{"step"},
	)

	ProjectsCompleted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qase_migrate_projects_completed",
			Help: "Projects whose per-project steps have all run",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EntitiesProcessed, EntitiesCreated, ErrorsTotal,
		RetriesTotal, RequestDuration, StepDuration,
		ProjectsCompleted,
	)
}
