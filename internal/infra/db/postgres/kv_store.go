package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/ports/repository"
)

// Schema of the standalone conversation table. Same key scheme as the
// IDE's cursorDiskKV.
const Schema = `
CREATE TABLE IF NOT EXISTS cursor_disk_kv (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const uniqueViolation = "23505"

var _ repository.KVStore = (*KVStore)(nil)

type KVStore struct {
	pool *pgxpool.Pool
	tm   *TxManager
}

func NewKVStore(pool *pgxpool.Pool, tm *TxManager) *KVStore {
	return &KVStore{pool: pool, tm: tm}
}

// EnsureSchema creates the table if it is missing.
func (s *KVStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return domain.StorageError("ensure schema", err)
	}
	return nil
}

func (s *KVStore) View(ctx context.Context, fn func(ctx context.Context, tx repository.KVTx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *KVStore) Update(ctx context.Context, fn func(ctx context.Context, tx repository.KVTx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (s *KVStore) run(ctx context.Context, opt pgx.TxOptions, fn func(ctx context.Context, tx repository.KVTx) error) error {
	var inner error
	err := s.tm.WithTx(ctx, opt, func(ctx context.Context, tx pgx.Tx) error {
		inner = fn(ctx, &kvTx{q: tx})
		return inner
	})
	if err != nil && inner == nil {
		// Begin or commit failed.
		return domain.StorageError("transaction", err)
	}
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (s *KVStore) Close() error { return nil }

type kvTx struct {
	q executor
}

func (t *kvTx) Get(ctx context.Context, key string) ([]byte, error) {
	var val string
	err := t.q.QueryRow(ctx, `SELECT value FROM cursor_disk_kv WHERE key = $1`, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageError("get "+key, err)
	}
	return []byte(val), nil
}

func (t *kvTx) Insert(ctx context.Context, key string, value []byte) error {
	_, err := t.q.Exec(ctx, `INSERT INTO cursor_disk_kv (key, value) VALUES ($1, $2)`, key, string(value))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.StorageError("insert "+key, err)
	}
	return nil
}

func (t *kvTx) Put(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO cursor_disk_kv (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET
  value = EXCLUDED.value,
  updated_at = EXCLUDED.updated_at;`
	if _, err := t.q.Exec(ctx, q, key, string(value)); err != nil {
		return domain.StorageError("put "+key, err)
	}
	return nil
}

func (t *kvTx) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := t.q.Query(ctx,
		`SELECT key, value FROM cursor_disk_kv WHERE key LIKE $1 ESCAPE '\' ORDER BY key COLLATE "C"`,
		likePrefix(prefix))
	if err != nil {
		return domain.StorageError("scan "+prefix, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.StorageError("scan "+prefix, err)
		}
		if err := fn(k, []byte(v)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError("scan "+prefix, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
