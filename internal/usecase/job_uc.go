package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/repository"
	ports "agent-relay/internal/domain/ports/usecase"
	"agent-relay/internal/infra/metrics"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

type JobUseCase interface {
	ports.JobManager
	// Sweep drops terminal jobs older than the retention window.
	Sweep(ctx context.Context) (int, error)
}

type JobOptions struct {
	DefaultModel     string
	Retention        time.Duration
	DefaultListLimit int
	MaxListLimit     int
}

type jobUC struct {
	jobs       repository.JobRepository
	dispatcher ports.JobDispatcher
	opts       JobOptions
	log        zerolog.Logger
	now        func() time.Time
}

func NewJobUseCase(jobs repository.JobRepository, dispatcher ports.JobDispatcher, opts JobOptions, logger *zerolog.Logger) *jobUC {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.DefaultListLimit <= 0 {
		opts.DefaultListLimit = 20
	}
	if opts.MaxListLimit <= 0 {
		opts.MaxListLimit = 100
	}
	return &jobUC{
		jobs:       jobs,
		dispatcher: dispatcher,
		opts:       opts,
		log:        logger.With().Str("component", "JobUseCase").Logger(),
		now:        time.Now,
	}
}

func (u *jobUC) Submit(ctx context.Context, chatID, prompt, modelName string) (model.JobView, error) {
	chatID = strings.TrimSpace(chatID)
	if err := model.ValidateChatID(chatID); err != nil {
		return model.JobView{}, err
	}
	if strings.TrimSpace(prompt) == "" {
		return model.JobView{}, fmt.Errorf("empty prompt: %w", domain.ErrInvalidArgument)
	}
	if modelName = strings.TrimSpace(modelName); modelName == "" {
		modelName = u.opts.DefaultModel
	}

	now := u.now()
	job := model.NewJob(ulid.Make().String(), chatID, prompt, modelName, now)
	if err := u.jobs.Create(ctx, job); err != nil {
		return model.JobView{}, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJob(string(model.JobStatusPending))

	if err := u.dispatcher.Dispatch(ctx, job.ID); err != nil {
		// The job can never run; do not leave it pending forever.
		failed, uerr := u.jobs.Update(ctx, job.ID, func(j *model.Job) error {
			j.Error = &model.JobError{Kind: domain.KindInternal, Message: "dispatch failed: " + err.Error()}
			return j.TransitionTo(model.JobStatusCancelled, u.now())
		})
		if uerr != nil {
			u.log.Error().Err(uerr).Str("job_id", job.ID).Msg("could not cancel undispatched job")
		} else {
			job = failed
		}
		return job.View(u.now()), fmt.Errorf("dispatch job: %w", err)
	}

	u.log.Info().Str("job_id", job.ID).Str("chat_id", chatID).Str("model", modelName).Msg("job submitted")
	return job.View(now), nil
}

func (u *jobUC) Status(ctx context.Context, jobID string) (model.JobView, error) {
	job, err := u.jobs.Get(ctx, jobID)
	if err != nil {
		return model.JobView{}, err
	}
	return job.View(u.now()), nil
}

func (u *jobUC) ListJobs(ctx context.Context, chatID string, limit int, status *model.JobStatus) ([]model.JobView, error) {
	if limit <= 0 {
		limit = u.opts.DefaultListLimit
	}
	if limit > u.opts.MaxListLimit {
		limit = u.opts.MaxListLimit
	}
	jobs, err := u.jobs.ListByChat(ctx, chatID, limit, status)
	if err != nil {
		return nil, err
	}
	now := u.now()
	out := make([]model.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.View(now))
	}
	return out, nil
}

// Cancel is immediate for queued jobs and cooperative for running ones: a
// running job is marked and its agent interrupted, and the processor makes
// the final transition.
func (u *jobUC) Cancel(ctx context.Context, jobID string) error {
	var interrupt bool
	_, err := u.jobs.Update(ctx, jobID, func(j *model.Job) error {
		interrupt = false
		switch {
		case j.Status.IsTerminal():
			return domain.ErrJobAlreadyTerminal
		case j.Status == model.JobStatusPending:
			j.Error = &model.JobError{Kind: domain.KindCancelled, Message: "cancelled before start"}
			return j.TransitionTo(model.JobStatusCancelled, u.now())
		case j.Committing:
			// Already writing; the run will complete.
			return nil
		default:
			j.CancelRequested = true
			interrupt = true
			return nil
		}
	})
	if err != nil {
		return err
	}
	if interrupt {
		u.dispatcher.Interrupt(jobID)
	}
	u.log.Info().Str("job_id", jobID).Bool("interrupted", interrupt).Msg("cancel requested")
	return nil
}

func (u *jobUC) Sweep(ctx context.Context) (int, error) {
	n, err := u.jobs.DeleteTerminalBefore(ctx, u.now().Add(-u.opts.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddSwept(n)
	}
	return n, nil
}
