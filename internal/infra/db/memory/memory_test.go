package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/model"
	"agent-relay/internal/domain/ports/repository"
)

func TestJobRepo_CreateGetIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	job := model.NewJob("j1", "chat-1", "p", "auto", time.Now())
	require.NoError(t, repo.Create(ctx, job))
	require.ErrorIs(t, repo.Create(ctx, job), domain.ErrAlreadyExists)

	job.Status = model.JobStatusFailed // caller's copy, not the table's
	got, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)

	got.Prompt = "mutated"
	again, _ := repo.Get(ctx, "j1")
	assert.Equal(t, "p", again.Prompt)

	_, err = repo.Get(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobRepo_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	require.NoError(t, repo.Create(ctx, model.NewJob("j1", "c", "p", "", time.Now())))

	boom := errors.New("boom")
	_, err := repo.Update(ctx, "j1", func(j *model.Job) error {
		j.Prompt = "half-written"
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, _ := repo.Get(ctx, "j1")
	assert.Equal(t, "p", got.Prompt)

	updated, err := repo.Update(ctx, "j1", func(j *model.Job) error {
		return j.TransitionTo(model.JobStatusProcessing, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, updated.Status)
	assert.NotNil(t, updated.StartedAt)
}

func TestJobRepo_ListByChatNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, model.NewJob(id, "chat", "p", "", base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, repo.Create(ctx, model.NewJob("x", "other", "p", "", base)))
	_, err := repo.Update(ctx, "b", func(j *model.Job) error { return j.TransitionTo(model.JobStatusCancelled, base) })
	require.NoError(t, err)

	all, err := repo.ListByChat(ctx, "chat", 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, _ := repo.ListByChat(ctx, "chat", 2, nil)
	assert.Len(t, limited, 2)

	st := model.JobStatusCancelled
	cancelled, _ := repo.ListByChat(ctx, "chat", 10, &st)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "b", cancelled[0].ID)
}

func TestJobRepo_DeleteTerminalBeforeKeepsLiveJobs(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	old := time.Now().Add(-3 * time.Hour)

	require.NoError(t, repo.Create(ctx, model.NewJob("done", "c", "p", "", old)))
	_, _ = repo.Update(ctx, "done", func(j *model.Job) error { return j.TransitionTo(model.JobStatusCancelled, old) })
	require.NoError(t, repo.Create(ctx, model.NewJob("running", "c", "p", "", old)))
	_, _ = repo.Update(ctx, "running", func(j *model.Job) error { return j.TransitionTo(model.JobStatusProcessing, old) })
	require.NoError(t, repo.Create(ctx, model.NewJob("queued", "c", "p", "", old)))

	n, err := repo.DeleteTerminalBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, repo.Len())
}

func TestKVStore_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStore()
	err := kv.Update(ctx, func(ctx context.Context, tx repository.KVTx) error {
		require.NoError(t, tx.Put(ctx, "a", []byte("1")))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, 0, kv.Len())
}

func TestKVStore_ScanSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStore()
	require.NoError(t, kv.Update(ctx, func(ctx context.Context, tx repository.KVTx) error {
		return tx.Put(ctx, "p:1", []byte("old"))
	}))
	require.NoError(t, kv.Update(ctx, func(ctx context.Context, tx repository.KVTx) error {
		require.NoError(t, tx.Put(ctx, "p:1", []byte("new")))
		require.NoError(t, tx.Put(ctx, "p:0", []byte("zero")))
		require.ErrorIs(t, tx.Insert(ctx, "p:0", nil), domain.ErrAlreadyExists)
		var got []string
		require.NoError(t, tx.Scan(ctx, "p:", func(k string, v []byte) error {
			got = append(got, k+"="+string(v))
			return nil
		}))
		assert.Equal(t, []string{"p:0=zero", "p:1=new"}, got)
		return nil
	}))

	err := kv.View(ctx, func(ctx context.Context, tx repository.KVTx) error {
		return tx.Put(ctx, "p:2", nil)
	})
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
}
