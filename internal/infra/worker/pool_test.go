package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-relay/internal/domain"
)

func TestPool_SubmitNeverBlocks(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	// Not started: everything stays queued.
	for i := 0; i < 1000; i++ {
		require.NoError(t, p.Submit(func(context.Context) error { return nil }))
	}
	assert.Equal(t, 1000, p.Len())
	p.Stop()
	assert.Equal(t, 0, p.Len())
}

func TestPool_StopDrainsQueueWithDoneContext(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	var seen, live int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&seen, 1)
			if ctx.Err() == nil {
				atomic.AddInt32(&live, 1)
			}
			return nil
		}))
	}
	p.Stop()
	assert.Equal(t, int32(10), atomic.LoadInt32(&seen), "every queued task is handed back once")
	assert.Zero(t, atomic.LoadInt32(&live))
}

func TestPool_ContextCancelDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(1, zerolog.Nop())
	p.Start(ctx)

	gate := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) error {
		close(started)
		<-gate
		return nil
	}))
	<-started
	drained := make(chan error, 1)
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		drained <- ctx.Err()
		return nil
	}))

	cancel()
	select {
	case err := <-drained:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("queued task was not drained")
	}
	close(gate)
	p.Stop()
}

func TestPool_FIFOOnSingleWorker(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	p.Start(context.Background())
	wg.Wait()
	p.Stop()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	p := NewPool(3, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestPool_PanicAndErrorDoNotKillWorker(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	p.Start(context.Background())
	defer p.Stop()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) error { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) error { return errors.New("bad") }))
	require.NoError(t, p.Submit(func(context.Context) error { close(done); return nil }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(2, zerolog.Nop())
	p.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool {
		return errors.Is(p.Submit(func(context.Context) error { return nil }), domain.ErrPoolStopped)
	}, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.Error(t, p.Submit(nil))
}
