package pipeline

import (
	"context"
	"sync"
)

// keyedLock serializes work per batch id while letting different ids proceed
// in parallel. Entries are dropped once nobody holds or waits for them.
type keyedLock struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[int64]*lockEntry)}
}

func (k *keyedLock) acquireEntry(key int64) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.locks[key]
	if e == nil {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedLock) releaseEntry(key int64, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free or ctx is done.
func (k *keyedLock) Lock(ctx context.Context, key int64) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := k.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
		return k.unlocker(key, e), nil
	case <-ctx.Done():
		k.releaseEntry(key, e)
		return nil, ctx.Err()
	}
}

// TryLock acquires key only if it is free.
func (k *keyedLock) TryLock(key int64) (func(), bool) {
	e := k.acquireEntry(key)
	select {
	case e.ch <- struct{}{}:
		return k.unlocker(key, e), true
	default:
		k.releaseEntry(key, e)
		return nil, false
	}
}

func (k *keyedLock) unlocker(key int64, e *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.releaseEntry(key, e)
		})
	}
}

func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
