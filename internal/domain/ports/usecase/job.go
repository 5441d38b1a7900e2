package usecase

import (
	"context"

	"agent-relay/internal/domain/model"
)

// JobManager is the caller-facing job coordinator.
type JobManager interface {
	Submit(ctx context.Context, chatID, prompt, model string) (model.JobView, error)
	Status(ctx context.Context, jobID string) (model.JobView, error)
	ListJobs(ctx context.Context, chatID string, limit int, status *model.JobStatus) ([]model.JobView, error)
	Cancel(ctx context.Context, jobID string) error
}

// JobDispatcher hands accepted jobs to the execution side.
type JobDispatcher interface {
	// Dispatch must not block on job execution.
	Dispatch(ctx context.Context, jobID string) error
	// Interrupt stops the in-flight run of jobID, if any.
	Interrupt(jobID string)
}
