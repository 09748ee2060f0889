package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobpulse_jobs_submitted_total",
		Help: "Total number of jobs created and handed to the task queue",
	})

	JobsEnqueueFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobpulse_jobs_enqueue_failed_total",
		Help: "Total number of jobs persisted but rejected by the task queue",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobpulse_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobpulse_jobs_failed_total",
		Help: "Total number of jobs marked as failed",
	})

	JobTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobpulse_job_timeouts_total",
		Help: "Total number of job executions that hit a deadline",
	}, []string{"kind"})

	JobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobpulse_job_processing_duration_seconds",
		Help:    "Time taken to execute work functions in seconds",
		Buckets: prometheus.DefBuckets,
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobpulse_active_workers",
		Help: "Current number of active workers",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobpulse_events_published_total",
		Help: "Status events handed to the event channel, by result",
	}, []string{"result"})

	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobpulse_events_received_total",
		Help: "Status events read from the event channel, by result",
	}, []string{"result"})

	NotificationsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobpulse_notifications_delivered_total",
		Help: "Messages written to live push connections",
	})

	ConnectionsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobpulse_connections_pruned_total",
		Help: "Push connections dropped after a failed write",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobpulse_active_connections",
		Help: "Current number of registered push connections",
	})
)
