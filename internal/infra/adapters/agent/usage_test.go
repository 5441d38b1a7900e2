package agent

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-relay/internal/domain/ports/adapter"
	"agent-relay/internal/infra/metrics"
)

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 3, c.Count("hello world"))
}

func TestTiktokenCounter_HeuristicBeforeWarm(t *testing.T) {
	c := NewTiktokenCounter(zerolog.Nop())
	assert.Equal(t, HeuristicCounter{}.Count("some prompt text"), c.Count("some prompt text"))
}

func TestEchoRunner(t *testing.T) {
	r := NewEchoRunner(0, zerolog.Nop())
	out := r.Run(context.Background(), adapter.RunRequest{ConversationID: "c", Prompt: "ping", Model: "gpt-5"})
	assert.Equal(t, adapter.OutcomeSuccess, out.Kind)
	assert.Equal(t, "echo (gpt-5): ping", out.Text)

	slow := NewEchoRunner(time.Minute, zerolog.Nop())
	out = slow.Run(context.Background(), adapter.RunRequest{Prompt: "p", Timeout: 20 * time.Millisecond})
	assert.Equal(t, adapter.OutcomeTimedOut, out.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = slow.Run(ctx, adapter.RunRequest{Prompt: "p"})
	assert.Equal(t, adapter.OutcomeFailure, out.Kind)
	assert.Equal(t, "interrupted", out.Info)
}

func TestInstrumented_RecordsRun(t *testing.T) {
	metrics.MustRegister()
	before, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "agent_run_latency_ms")
	require.NoError(t, err)

	r := NewInstrumented(NewEchoRunner(0, zerolog.Nop()), nil)
	out := r.Run(context.Background(), adapter.RunRequest{Prompt: "count me", Model: "instrumented-test"})
	assert.Equal(t, adapter.OutcomeSuccess, out.Kind)

	after, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "agent_run_latency_ms")
	require.NoError(t, err)
	assert.Equal(t, before+1, after, "new model/outcome series")
}
