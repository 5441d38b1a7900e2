package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDurationSeconds, jobQueueDepth, jobsSweptTotal) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_jobs_processed_total",
			Help: "Total number of agent jobs that reached a terminal state, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'failed', 'cancelled'
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_job_duration_seconds",
			Help:    "Time from Processing to a terminal state.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	jobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_job_queue_depth",
			Help: "Jobs accepted by the worker pool but not yet started.",
		},
	)

	jobsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_jobs_swept_total",
			Help: "Terminal jobs removed by the retention sweep.",
		},
	)
)

func IncJob(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveJobDuration(status string, d time.Duration) {
	jobDurationSeconds.WithLabelValues(norm(status)).Observe(d.Seconds())
}

func SetQueueDepth(n int) { jobQueueDepth.Set(float64(n)) }

func AddSwept(n int) { jobsSweptTotal.Add(float64(n)) }
