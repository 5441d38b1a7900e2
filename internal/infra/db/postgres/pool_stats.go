package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"agent-relay/internal/infra/metrics"
)

// ReportPoolStats publishes pool gauges every interval until ctx is done.
func ReportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s := pool.Stat()
		metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
