package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PublishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_publish_attempts_total",
		Help: "Publish attempts per platform and outcome",
	}, []string{"platform", "status"})

	PublishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postflow_publish_duration_seconds",
		Help:    "Time spent publishing to a single platform",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"platform"})

	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_jobs_enqueued_total",
		Help: "Publish jobs enqueued by kind",
	}, []string{"kind"})

	JobsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postflow_jobs_cancelled_total",
		Help: "Pending publish jobs removed from the queue",
	})

	JobsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_jobs_dropped_total",
		Help: "Publish jobs dropped by the worker before publishing",
	}, []string{"reason"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "postflow_queue_jobs",
		Help: "Jobs in the publish queue by state",
	}, []string{"state"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PublishAttempts,
		PublishDuration,
		JobsEnqueued,
		JobsCancelled,
		JobsDropped,
		QueueDepth,
	)
}

// ObservePublish records the outcome and duration of one platform publish.
func ObservePublish(platform string, start time.Time, success bool) {
	if platform == "" {
		platform = "unknown"
	}
	status := "success"
	if !success {
		status = "error"
	}
	PublishAttempts.WithLabelValues(platform, status).Inc()
	PublishDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
}

func SetQueueDepth(waiting, active, delayed, completed, failed int) {
	QueueDepth.WithLabelValues("waiting").Set(float64(waiting))
	QueueDepth.WithLabelValues("active").Set(float64(active))
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	QueueDepth.WithLabelValues("completed").Set(float64(completed))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}
