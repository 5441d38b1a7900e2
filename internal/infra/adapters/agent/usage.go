package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"agent-relay/internal/domain/ports/adapter"
	"agent-relay/internal/infra/metrics"
)

// TokenCounter estimates the token length of a text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter assumes about four bytes per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TiktokenCounter uses the cl100k_base encoding once it has been loaded and
// the heuristic until then. Loading may need network access, so it happens
// in Warm, never on the Count path.
type TiktokenCounter struct {
	enc  atomic.Pointer[tiktoken.Tiktoken]
	once sync.Once
	log  zerolog.Logger
}

func NewTiktokenCounter(logger zerolog.Logger) *TiktokenCounter {
	return &TiktokenCounter{log: logger.With().Str("component", "tokens").Logger()}
}

// Warm loads the encoding. Safe to call more than once.
func (t *TiktokenCounter) Warm() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			t.log.Warn().Err(err).Msg("tiktoken unavailable, using heuristic token estimates")
			return
		}
		t.enc.Store(enc)
	})
}

func (t *TiktokenCounter) Count(text string) int {
	enc := t.enc.Load()
	if enc == nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// Instrumented records run latency and estimated token usage.
type Instrumented struct {
	next    adapter.AgentRunner
	counter TokenCounter
}

var _ adapter.AgentRunner = (*Instrumented)(nil)

func NewInstrumented(next adapter.AgentRunner, counter TokenCounter) *Instrumented {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &Instrumented{next: next, counter: counter}
}

func (i *Instrumented) Run(ctx context.Context, req adapter.RunRequest) adapter.Outcome {
	out := i.next.Run(ctx, req)
	in := i.counter.Count(req.Prompt)
	outTokens := 0
	if out.Kind == adapter.OutcomeSuccess {
		outTokens = i.counter.Count(out.Text) + i.counter.Count(out.Thinking)
	}
	metrics.ObserveAgentRun(modelOrDefault(req.Model), string(out.Kind), in, outTokens, out.Duration)
	return out
}
