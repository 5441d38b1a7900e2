// Package memory holds process-local implementations of the repository ports.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/repository"
)

// JobRepo is the in-memory job table. All reads hand out clones.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

var _ repository.JobRepository = (*JobRepo)(nil)

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*model.Job)}
}

func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (r *JobRepo) Update(ctx context.Context, id string, fn func(job *model.Job) error) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	r.jobs[id] = next
	return next.Clone(), nil
}

func (r *JobRepo) ListByChat(ctx context.Context, chatID string, limit int, status *model.JobStatus) ([]*model.Job, error) {
	r.mu.RLock()
	out := make([]*model.Job, 0)
	for _, j := range r.jobs {
		if j.ChatID != chatID {
			continue
		}
		if status != nil && j.Status != *status {
			continue
		}
		out = append(out, j.Clone())
	}
	r.mu.RUnlock()

	// ULIDs sort by creation time; the id breaks same-instant ties.
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if !j.Status.IsTerminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

// Len is the number of jobs currently held.
func (r *JobRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
