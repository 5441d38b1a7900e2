package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, httpRequestDurationMs, submitsRateLimited) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		},
		[]string{"route", "method", "code"},
	)

	httpRequestDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "HTTP handler latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"route", "method"},
	)

	submitsRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "job_submits_rate_limited_total",
			Help: "Job submissions rejected by the per-chat rate limit.",
		},
	)
)

func ObserveHTTP(route, method string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	httpRequestDurationMs.WithLabelValues(route, method).Observe(float64(d.Milliseconds()))
}

func IncSubmitRateLimited() { submitsRateLimited.Inc() }
