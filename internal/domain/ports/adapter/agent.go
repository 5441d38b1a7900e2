package adapter

import (
	"context"
	"time"

	"agent-relay/internal/domain/model"
)

type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeFailure  OutcomeKind = "failure"
	OutcomeTimedOut OutcomeKind = "timed_out"
)

type RunRequest struct {
	ConversationID string
	Prompt         string
	Model          string
	Timeout        time.Duration
}

// Outcome of one agent run. Text is only meaningful on success.
type Outcome struct {
	Kind          OutcomeKind
	Text          string
	Thinking      string
	ToolCalls     []model.ToolCall
	Raw           string
	ExitCode      *int
	Info          string
	StderrExcerpt string
	Duration      time.Duration
}

// AgentRunner is the port for the external agent process.
// Run never panics and never returns without an Outcome; cancellation of
// ctx interrupts the run.
type AgentRunner interface {
	Run(ctx context.Context, req RunRequest) Outcome
}

// ChatCreator asks the agent for a fresh conversation id.
type ChatCreator interface {
	CreateChat(ctx context.Context) (string, error)
}

// Agent is a runner that can also open conversations.
type Agent interface {
	AgentRunner
	ChatCreator
}
