package repository

import (
	"context"
	"time"

	"agent-relay/internal/domain/model"
)

// JobRepository is the job table. Every method returns copies; callers
// never share a *model.Job with the table.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	// Get returns domain.ErrJobNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update applies fn to the stored job atomically. If fn returns an error
	// the stored job is left untouched and the error is returned.
	Update(ctx context.Context, id string, fn func(job *model.Job) error) (*model.Job, error)
	// ListByChat is newest first. A nil status matches every status.
	ListByChat(ctx context.Context, chatID string, limit int, status *model.JobStatus) ([]*model.Job, error)
	// DeleteTerminalBefore removes terminal jobs completed before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}
