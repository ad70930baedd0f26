package photoflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photoflow_jobs_enqueued_total",
		Help: "The total number of enqueued jobs.",
	}, []string{"type"})

	metricJobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photoflow_jobs_claimed_total",
		Help: "The total number of jobs claimed by this runner.",
	})

	metricJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photoflow_jobs_processed_total",
		Help: "The total number of processed jobs.",
	}, []string{"type", "status"})

	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "photoflow_job_duration_seconds",
		Help:    "Duration of individual job handler executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	metricCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "photoflow_cycle_duration_seconds",
		Help:    "Duration of poll cycles.",
		Buckets: prometheus.DefBuckets,
	})
)
