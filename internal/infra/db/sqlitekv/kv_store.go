package sqlitekv

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/ports/repository"
)

// Same definition the IDE uses, so a fresh file is indistinguishable.
const schema = `CREATE TABLE IF NOT EXISTS cursorDiskKV (key TEXT UNIQUE ON CONFLICT REPLACE, value BLOB);`

// KVStore implements repository.KVStore on top of Pool.
type KVStore struct {
	pool *Pool
}

var _ repository.KVStore = (*KVStore)(nil)

// Open opens path and makes sure the cursorDiskKV table exists.
func Open(cfg PoolConfig, logger zerolog.Logger) (*KVStore, error) {
	user := cfg.OnConnect
	cfg.OnConnect = func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return err
		}
		if user != nil {
			return user(conn)
		}
		return nil
	}
	pool, err := OpenPool(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &KVStore{pool: pool}, nil
}

func (s *KVStore) View(ctx context.Context, fn func(ctx context.Context, tx repository.KVTx) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.StorageError("take connection", err)
	}
	defer s.pool.Put(conn)

	endFn := sqlitex.Transaction(conn)
	defer endFn(&err)
	return fn(ctx, &kvTx{conn: conn})
}

// Update runs fn inside BEGIN IMMEDIATE: the write lock is held from the
// start of the transaction, not from its first write.
func (s *KVStore) Update(ctx context.Context, fn func(ctx context.Context, tx repository.KVTx) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.StorageError("take connection", err)
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return domain.StorageError("begin immediate", err)
	}
	defer endFn(&err)
	return fn(ctx, &kvTx{conn: conn})
}

func (s *KVStore) Close() error { return s.pool.Close() }

type kvTx struct {
	conn *sqlite.Conn
}

func (t *kvTx) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		val   []byte
		found bool
	)
	err := sqlitex.Execute(t.conn, `SELECT value FROM cursorDiskKV WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			val = columnBytes(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return nil, domain.StorageError("get "+key, err)
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	return val, nil
}

func (t *kvTx) Insert(ctx context.Context, key string, value []byte) error {
	_, err := t.Get(ctx, key)
	switch {
	case err == nil:
		return domain.ErrAlreadyExists
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	return t.Put(ctx, key, value)
}

// Put stores the value as TEXT, matching what the IDE writes.
func (t *kvTx) Put(ctx context.Context, key string, value []byte) error {
	err := sqlitex.Execute(t.conn, `INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, &sqlitex.ExecOptions{
		Args: []any{key, string(value)},
	})
	if err != nil {
		return domain.StorageError("put "+key, err)
	}
	return nil
}

func (t *kvTx) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	query := `SELECT key, value FROM cursorDiskKV WHERE key >= ? ORDER BY key`
	args := []any{prefix}
	if end, ok := prefixEnd(prefix); ok {
		query = `SELECT key, value FROM cursorDiskKV WHERE key >= ? AND key < ? ORDER BY key`
		args = append(args, end)
	}
	var cbErr error
	err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if cbErr = fn(stmt.ColumnText(0), columnBytes(stmt, 1)); cbErr != nil {
				return cbErr
			}
			return nil
		},
	})
	if cbErr != nil {
		return cbErr
	}
	if err != nil {
		return domain.StorageError("scan "+prefix, err)
	}
	return nil
}

func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

// prefixEnd is the smallest string greater than every string with prefix.
func prefixEnd(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
