package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/adapter"
	"agent-relay/internal/domain/ports/repository"
	"agent-relay/internal/domain/ports/usecase"
	"agent-relay/internal/domain/record"
	"agent-relay/internal/infra/metrics"
)

// commitTimeout bounds the final store write once a run has succeeded.
// The write is detached from the worker context so shutdown does not tear
// a job between its agent run and its commit.
const commitTimeout = 30 * time.Second

var errNotPending = errors.New("job is no longer pending")

var _ usecase.JobDispatcher = (*AgentJobProcessor)(nil)

// AgentJobProcessor runs dispatched jobs on the pool: agent run, commit
// gate, record write, terminal transition.
type AgentJobProcessor struct {
	jobs    repository.JobRepository
	convs   repository.ConversationRepository
	runner  adapter.AgentRunner
	pool    *Pool
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewAgentJobProcessor(
	jobs repository.JobRepository,
	convs repository.ConversationRepository,
	runner adapter.AgentRunner,
	pool *Pool,
	timeout time.Duration,
	logger zerolog.Logger,
) *AgentJobProcessor {
	return &AgentJobProcessor{
		jobs:    jobs,
		convs:   convs,
		runner:  runner,
		pool:    pool,
		timeout: timeout,
		log:     logger.With().Str("component", "job_processor").Logger(),
		now:     time.Now,
		running: make(map[string]context.CancelFunc),
	}
}

func (p *AgentJobProcessor) Dispatch(ctx context.Context, jobID string) error {
	return p.pool.Submit(func(ctx context.Context) error {
		return p.Process(ctx, jobID)
	})
}

// Interrupt cancels the agent run of jobID if it is in flight.
func (p *AgentJobProcessor) Interrupt(jobID string) {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *AgentJobProcessor) track(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()
}

func (p *AgentJobProcessor) untrack(jobID string) {
	p.mu.Lock()
	delete(p.running, jobID)
	p.mu.Unlock()
}

// Process drives one job to a terminal state. Only job table failures are
// returned; everything else ends up on the job.
func (p *AgentJobProcessor) Process(ctx context.Context, jobID string) error {
	log := p.log.With().Str("job_id", jobID).Logger()
	if ctx.Err() != nil {
		return p.abandon(ctx, jobID, log)
	}

	job, err := p.jobs.Update(ctx, jobID, func(j *model.Job) error {
		if j.Status != model.JobStatusPending {
			return errNotPending
		}
		return j.TransitionTo(model.JobStatusProcessing, p.now())
	})
	if errors.Is(err, errNotPending) {
		log.Debug().Msg("skipping job that left pending while queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	metrics.IncJob(string(model.JobStatusProcessing))
	log = log.With().Str("chat_id", job.ChatID).Logger()
	log.Info().Str("model", job.Model).Msg("processing job")

	runCtx, cancel := context.WithCancel(ctx)
	p.track(jobID, cancel)
	defer func() {
		p.untrack(jobID)
		cancel()
	}()
	// A cancel that landed between the transition and track found nothing
	// to interrupt.
	if cur, err := p.jobs.Get(ctx, jobID); err == nil && cur.CancelRequested {
		cancel()
	}

	out := p.runner.Run(runCtx, adapter.RunRequest{
		ConversationID: job.ChatID,
		Prompt:         job.Prompt,
		Model:          job.Model,
		Timeout:        p.timeout,
	})

	commitCtx, done := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer done()

	final, err := p.finish(commitCtx, job, out)
	if err != nil {
		log.Error().Err(err).Msg("could not record job outcome")
		return err
	}
	status := string(final.Status)
	metrics.IncJob(status)
	if final.StartedAt != nil && final.CompletedAt != nil {
		metrics.ObserveJobDuration(status, final.CompletedAt.Sub(*final.StartedAt))
	}
	ev := log.Info()
	if final.Error != nil {
		ev = log.Warn().Str("error_kind", string(final.Error.Kind)).Str("error", final.Error.Message)
	}
	ev.Str("status", status).Msg("job finished")
	return nil
}

// abandon cancels a job that was still queued when the pool shut down.
func (p *AgentJobProcessor) abandon(ctx context.Context, jobID string, log zerolog.Logger) error {
	ctx, done := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer done()
	_, err := p.jobs.Update(ctx, jobID, func(j *model.Job) error {
		if j.Status != model.JobStatusPending {
			return errNotPending
		}
		j.Error = &model.JobError{Kind: domain.KindInternal, Message: "shutdown"}
		return j.TransitionTo(model.JobStatusCancelled, p.now())
	})
	if errors.Is(err, errNotPending) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("abandon job %s: %w", jobID, err)
	}
	metrics.IncJob(string(model.JobStatusCancelled))
	log.Warn().Msg("job cancelled by shutdown")
	return nil
}

func (p *AgentJobProcessor) finish(ctx context.Context, job *model.Job, out adapter.Outcome) (*model.Job, error) {
	if out.Kind != adapter.OutcomeSuccess {
		return p.jobs.Update(ctx, job.ID, func(j *model.Job) error {
			if j.CancelRequested {
				j.Error = &model.JobError{Kind: domain.KindCancelled, Message: "cancelled while running"}
				return j.TransitionTo(model.JobStatusCancelled, p.now())
			}
			j.Error = runError(out)
			return j.TransitionTo(model.JobStatusFailed, p.now())
		})
	}

	gated, err := p.jobs.Update(ctx, job.ID, func(j *model.Job) error {
		if j.CancelRequested {
			j.Error = &model.JobError{Kind: domain.KindCancelled, Message: "cancelled before commit"}
			return j.TransitionTo(model.JobStatusCancelled, p.now())
		}
		j.Committing = true
		return nil
	})
	if err != nil || gated.Status == model.JobStatusCancelled {
		return gated, err
	}

	result, err := p.commit(ctx, job, out)
	return p.jobs.Update(ctx, job.ID, func(j *model.Job) error {
		if err != nil {
			j.Error = &model.JobError{Kind: domain.KindOf(err), Message: err.Error()}
			return j.TransitionTo(model.JobStatusFailed, p.now())
		}
		j.Result = result
		return j.TransitionTo(model.JobStatusCompleted, p.now())
	})
}

// commit writes the user prompt and the agent reply as one batch.
func (p *AgentJobProcessor) commit(ctx context.Context, job *model.Job, out adapter.Outcome) (*model.JobResult, error) {
	user, err := record.BuildMessage(model.RoleUser, job.Prompt, job.ChatID, nil)
	if err != nil {
		return nil, err
	}
	opts := []record.MessageOption{record.WithThinking(out.Thinking)}
	if len(out.ToolCalls) > 0 {
		// The record has room for one tool call; the IDE shows the first.
		opt, err := toolCallOption(out.ToolCalls[0])
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	reply, err := record.BuildMessage(model.RoleAssistant, out.Text, job.ChatID, &model.ModelInfo{ModelName: job.Model}, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.convs.AppendMessages(ctx, job.ChatID, user, reply); err != nil {
		return nil, err
	}
	return &model.JobResult{
		Text:               out.Text,
		Thinking:           out.Thinking,
		ToolCalls:          out.ToolCalls,
		UserMessageID:      user.BubbleID,
		AssistantMessageID: reply.BubbleID,
	}, nil
}

func toolCallOption(tc model.ToolCall) (record.MessageOption, error) {
	name := tc.Name
	if name == "" {
		name = "unknown"
	}
	args := []byte("{}")
	if len(tc.Arguments) > 0 {
		var err error
		if args, err = json.Marshal(tc.Arguments); err != nil {
			return nil, domain.NewError(domain.KindValidation, "encode tool call arguments", err)
		}
	}
	return record.WithToolCall(name, string(args)), nil
}

func runError(out adapter.Outcome) *model.JobError {
	e := &model.JobError{
		Kind:     domain.KindProcess,
		Message:  out.Info,
		ExitCode: out.ExitCode,
		Stderr:   out.StderrExcerpt,
	}
	if out.Kind == adapter.OutcomeTimedOut {
		e.Kind = domain.KindTimeout
	}
	if e.Message == "" {
		e.Message = "agent run failed"
	}
	return e
}
