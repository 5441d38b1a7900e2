package repository

import "context"

// KVTx is the handle passed to a KV transaction body. Implementations are
// not safe for use outside the callback that received them.
type KVTx interface {
	// Get returns domain.ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Insert fails with domain.ErrAlreadyExists if key is present.
	Insert(ctx context.Context, key string, value []byte) error
	// Put inserts or replaces.
	Put(ctx context.Context, key string, value []byte) error
	// Scan calls fn for every key with the given prefix, in key order.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}

// KVStore is the durable key/value table the IDE reads (cursorDiskKV).
//
// Update runs fn in a single write transaction: either every write in fn
// becomes visible or none does. A non-nil error from fn rolls back.
//
// USAGE
//
//	err := store.Update(ctx, func(ctx context.Context, tx KVTx) error {
//		raw, err := tx.Get(ctx, key)
//		...
//		return tx.Put(ctx, key, raw)
//	})
type KVStore interface {
	View(ctx context.Context, fn func(ctx context.Context, tx KVTx) error) error
	Update(ctx context.Context, fn func(ctx context.Context, tx KVTx) error) error
	Close() error
}
