// Package lock provides the in-process ConversationLocker.
package lock

import (
	"context"
	"sync"

	"agent-relay/internal/domain/ports/repository"
)

// KeyedMutex is a set of mutexes indexed by conversation id. Entries are
// dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ repository.ConversationLocker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) Lock(ctx context.Context, id string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[id] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(id, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.unref(id, s)
		})
	}, nil
}

func (k *KeyedMutex) unref(id string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, id)
	}
}

// Len reports how many conversations currently have a holder or waiter.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
