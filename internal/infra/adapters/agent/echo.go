package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"agent-relay/internal/domain/ports/adapter"
)

var _ adapter.AgentRunner = (*EchoRunner)(nil)

// EchoRunner answers every prompt with a fixed transformation of it after
// Delay. It is used with --dev and in demos where no agent binary exists.
type EchoRunner struct {
	Delay time.Duration
	log   zerolog.Logger
}

func NewEchoRunner(delay time.Duration, logger zerolog.Logger) *EchoRunner {
	return &EchoRunner{Delay: delay, log: logger.With().Str("component", "agent_echo").Logger()}
}

func (e *EchoRunner) Run(ctx context.Context, req adapter.RunRequest) adapter.Outcome {
	start := time.Now()
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	select {
	case <-time.After(e.Delay):
	case <-runCtx.Done():
		out := adapter.Outcome{Kind: adapter.OutcomeFailure, Info: "interrupted", Duration: time.Since(start)}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out.Kind = adapter.OutcomeTimedOut
			out.Info = fmt.Sprintf("timed out after %s", req.Timeout)
		}
		return out
	}

	text := fmt.Sprintf("echo (%s): %s", modelOrDefault(req.Model), req.Prompt)
	zero := 0
	e.log.Debug().Str("chat_id", req.ConversationID).Msg("echo reply")
	return adapter.Outcome{
		Kind:     adapter.OutcomeSuccess,
		Text:     text,
		Raw:      text,
		ExitCode: &zero,
		Duration: time.Since(start),
	}
}

func modelOrDefault(m string) string {
	if m == "" {
		return "default"
	}
	return m
}
