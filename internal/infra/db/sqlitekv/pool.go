// Package sqlitekv stores conversation records in the IDE's own SQLite
// database (state.vscdb), table cursorDiskKV.
package sqlitekv

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PoolConfig holds the parameters for opening a connection pool.
type PoolConfig struct {
	// Path of the database file. ":memory:" only works with PoolSize 1,
	// since every in-memory connection is its own database.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	// BusyTimeoutMS is how long a writer waits for the IDE to release the
	// database before failing with SQLITE_BUSY.
	BusyTimeoutMS int

	// OnConnect runs once per connection after the pragmas.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of connections with the pragmas this service
// needs to share the file with a running IDE.
type Pool struct {
	inner  *sqlitex.Pool
	logger zerolog.Logger
	path   string
}

func OpenPool(cfg PoolConfig, logger zerolog.Logger) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitekv: Path is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}
	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, busy, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: opening %s: %w", cfg.Path, err)
	}

	logger = logger.With().Str("component", "sqlite").Logger()
	logger.Info().Str("path", cfg.Path).Int("pool_size", poolSize).Msg("sqlite pool opened")
	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection; the caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: take: %w", err)
	}
	return conn, nil
}

func (p *Pool) Put(conn *sqlite.Conn) { p.inner.Put(conn) }

// Close blocks until every borrowed connection is returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error().Err(err).Str("path", p.path).Msg("sqlite pool close error")
		return fmt.Errorf("sqlitekv: closing %s: %w", p.path, err)
	}
	p.logger.Info().Str("path", p.path).Msg("sqlite pool closed")
	return nil
}

func prepareConnection(conn *sqlite.Conn, busyTimeoutMS int, onConnect func(*sqlite.Conn) error) error {
	// WAL lets the IDE keep reading while we write.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitekv: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitekv: OnConnect: %w", err)
		}
	}
	return nil
}
