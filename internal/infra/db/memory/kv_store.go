package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"agent-relay/internal/domain"
	"agent-relay/internal/domain/ports/repository"
)

// KVStore is a map-backed KVStore. Update works on a private overlay that is
// merged on success, so a failed transaction leaves no trace.
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailPut, when set, is consulted on every write; used by tests to
	// simulate storage failures mid-transaction.
	FailPut func(key string) error
}

var _ repository.KVStore = (*KVStore)(nil)

func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

func (s *KVStore) View(ctx context.Context, fn func(ctx context.Context, tx repository.KVTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &kvTx{base: s.data, readOnly: true})
}

func (s *KVStore) Update(ctx context.Context, fn func(ctx context.Context, tx repository.KVTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &kvTx{base: s.data, overlay: map[string][]byte{}, failPut: s.FailPut}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.overlay {
		s.data[k] = v
	}
	return nil
}

func (s *KVStore) Close() error { return nil }

// Len reports the number of committed keys.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type kvTx struct {
	base     map[string][]byte
	overlay  map[string][]byte
	readOnly bool
	failPut  func(key string) error
}

func (t *kvTx) lookup(key string) ([]byte, bool) {
	if v, ok := t.overlay[key]; ok {
		return v, true
	}
	v, ok := t.base[key]
	return v, ok
}

func (t *kvTx) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := t.lookup(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *kvTx) Insert(ctx context.Context, key string, value []byte) error {
	if _, ok := t.lookup(key); ok {
		return domain.ErrAlreadyExists
	}
	return t.Put(ctx, key, value)
}

func (t *kvTx) Put(ctx context.Context, key string, value []byte) error {
	if t.readOnly {
		return domain.StorageError("write in read-only transaction", nil)
	}
	if t.failPut != nil {
		if err := t.failPut(key); err != nil {
			return err
		}
	}
	t.overlay[key] = append([]byte(nil), value...)
	return nil
}

func (t *kvTx) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0)
	seen := map[string]bool{}
	for _, m := range []map[string][]byte{t.overlay, t.base} {
		for k := range m {
			if strings.HasPrefix(k, prefix) && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := t.lookup(k)
		if err := fn(k, append([]byte(nil), v...)); err != nil {
			return err
		}
	}
	return nil
}
