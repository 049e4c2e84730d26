// Package metrics provides Prometheus metrics for ubaguard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ubaguard"
)

// Ingestion metrics
var (
	// EventsEnqueuedTotal counts events accepted into the queue.
	EventsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total events accepted into the event queue",
		},
	)

	// EventsDroppedTotal counts events rejected because the queue was full.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total events dropped due to queue backpressure",
		},
	)

	// QueueOccupancy tracks events currently waiting in the queue.
	QueueOccupancy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "occupancy",
			Help:      "Events currently buffered in the event queue",
		},
	)
)

// Pipeline metrics
var (
	// BatchesProcessedTotal counts scored batches.
	BatchesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total batches flushed and scored",
		},
	)

	// BatchSize tracks the distribution of flushed batch sizes.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_size",
			Help:      "Events per flushed batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	// DetectorErrorsTotal counts per-batch detector failures by detector name.
	DetectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "detector_errors_total",
			Help:      "Total detector scoring failures",
		},
		[]string{"detector"},
	)

	// ActiveSessions tracks tracked user sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "active_sessions",
			Help:      "User sessions currently tracked",
		},
	)
)

// Alert metrics
var (
	// AlertsCreatedTotal counts created alerts by severity.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Total alerts created",
		},
		[]string{"severity"},
	)

	// AlertPersistErrorsTotal counts alert persistence failures.
	AlertPersistErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "persist_errors_total",
			Help:      "Total alert persistence failures",
		},
	)

	// NotificationsTotal counts notification attempts by channel and status.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "attempts_total",
			Help:      "Total notification attempts",
		},
		[]string{"channel", "status"},
	)
)

// Collector metrics
var (
	// CollectorRunsTotal counts collection cycles by collector and outcome.
	CollectorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "runs_total",
			Help:      "Total collection cycles",
		},
		[]string{"collector", "outcome"},
	)

	// CollectorEventsTotal counts events emitted by each collector.
	CollectorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "events_total",
			Help:      "Total events produced by collectors",
		},
		[]string{"collector"},
	)
)

// Maintenance metrics
var (
	// MaintenanceRunsTotal counts maintenance task executions by task and outcome.
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Total maintenance task executions",
		},
		[]string{"task", "outcome"},
	)
)
