// Package metrics registers the Prometheus instruments the worker,
// queue and alert evaluator report through.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished pipeline runs by terminal status
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Name:      "executions_total",
		Help:      "Pipeline executions by terminal status.",
	}, []string{"status"})

	// RowsProcessedTotal counts rows loaded per pipeline
	RowsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Name:      "rows_processed_total",
		Help:      "Rows loaded by pipeline.",
	}, []string{"pipeline_id"})

	// StageDuration observes per-stage wall time
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowforge",
		Name:      "stage_duration_seconds",
		Help:      "Wall time per pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	// QueueDepth tracks jobs by queue state
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowforge",
		Name:      "queue_depth",
		Help:      "Jobs currently in the queue by state.",
	}, []string{"state"})

	// AlertsTotal counts alert evaluations by outcome
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Name:      "alerts_total",
		Help:      "Alert evaluations by outcome.",
	}, []string{"status"})
)
