/*
Package lock serializes work on a single loan.

PURPOSE:
  Two payments against the same loan, or a payment racing the daily pass,
  must never interleave: the waterfall is only deterministic if one
  allocation sees the result of the previous one. Everything that mutates
  a loan takes its lock first.

IMPLEMENTATIONS:
  KeyedMutex:  one process, one mutex per loan ID, reference counted
  RedisLocker: several replicas, SET NX PX lease with token-checked release

USAGE:
  unlock, err := locker.Lock(ctx, "loan-42")
  if err != nil {
      return err
  }
  defer unlock()
*/
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout is returned when a lock could not be acquired before ctx ended.
var ErrLockTimeout = errors.New("timed out waiting for loan lock")

// Unlock releases a held lock. Safe to call once.
type Unlock func()

// Locker grants exclusive access to a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// =============================================================================
// KEYED MUTEX - In-process
// =============================================================================

type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1): holding the token = holding the lock
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Held reports how many keys currently have holders or waiters.
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
