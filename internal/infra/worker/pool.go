package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"agent-relay/internal/domain"
	"agent-relay/internal/infra/metrics"
)

// Task is one unit of work run on a pool slot.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of workers. The queue is an
// unbounded FIFO so Submit never blocks the caller.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	stopped bool
	started bool

	wg  sync.WaitGroup
	n   int
	log zerolog.Logger
}

func NewPool(workers int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{n: workers, log: logger.With().Str("component", "worker_pool").Logger()}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Cancelling ctx stops the pool as Stop does.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	go func() {
		<-ctx.Done()
		p.halt()
	}()
	p.log.Info().Int("workers", p.n).Msg("worker pool started")
}

// Stop lets running tasks finish and waits for the workers to exit. Tasks
// still queued are run once with an already cancelled context so they can
// record that they never started.
func (p *Pool) Stop() {
	p.halt()
	p.wg.Wait()
}

func (p *Pool) halt() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	drained := p.queue
	p.queue = nil
	metrics.SetQueueDepth(0)
	if len(drained) > 0 {
		p.wg.Add(1)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	if len(drained) == 0 {
		return
	}
	defer p.wg.Done()
	p.log.Warn().Int("drained", len(drained)).Msg("worker pool stopped with queued tasks")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, task := range drained {
		if err := p.run(ctx, task); err != nil {
			p.log.Error().Err(err).Msg("drained task error")
		}
	}
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return domain.ErrPoolStopped
	}
	p.queue = append(p.queue, task)
	metrics.SetQueueDepth(len(p.queue))
	p.cond.Signal()
	return nil
}

// Len is the number of queued, not yet started tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	metrics.SetQueueDepth(len(p.queue))
	return task, true
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		if err := p.run(ctx, task); err != nil {
			p.log.Error().Err(err).Int("worker", id).Msg("task error")
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}
