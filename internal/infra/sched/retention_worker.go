package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper drops expired terminal jobs and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RetentionWorker periodically sweeps the job table.
type RetentionWorker struct {
	interval time.Duration
	jobs     Sweeper
	log      *zerolog.Logger
}

func NewRetentionWorker(interval time.Duration, jobs Sweeper, logger *zerolog.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	retLog := logger.With().Str("component", "RetentionWorker").Logger()
	return &RetentionWorker{
		interval: interval,
		jobs:     jobs,
		log:      &retLog,
	}
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting retention worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping retention worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *RetentionWorker) tick(ctx context.Context) {
	n, err := w.jobs.Sweep(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("retention sweep error")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("expired jobs swept")
	}
}
