package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		agentTokensIn,
		agentTokensOut,
		agentRunLatencyMs,
	)
}

var (
	agentTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tokens_in",
			Help: "Estimated prompt (input) tokens per model.",
		},
		[]string{"model"},
	)

	agentTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tokens_out",
			Help: "Estimated completion (output) tokens per model.",
		},
		[]string{"model"},
	)

	agentRunLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_run_latency_ms",
			Help:    "Agent process wall time in milliseconds.",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
		},
		[]string{"model", "outcome"},
	)
)

// ObserveAgentRun records one finished run. Token counts are estimates.
func ObserveAgentRun(model, outcome string, tokensIn, tokensOut int, d time.Duration) {
	m := norm(model)
	agentTokensIn.WithLabelValues(m).Add(float64(tokensIn))
	agentTokensOut.WithLabelValues(m).Add(float64(tokensOut))
	agentRunLatencyMs.WithLabelValues(m, norm(outcome)).Observe(float64(d.Milliseconds()))
}
