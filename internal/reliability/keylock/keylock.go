package keylock

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per string key. Locks for distinct keys are
// independent, so operations on different books or loans never block each
// other. Acquisition is bounded by the caller's context deadline.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// New creates an empty KeyedMutex
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is free or the context
// is done. On context expiry the ctx error is returned and no lock is held.
func (k *KeyedMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key)
		return ctx.Err()
	}
}

// Unlock releases the mutex for key. Calling Unlock without a matching
// successful Lock is a programming error.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	k.mu.Unlock()
	if !ok {
		panic("keylock: unlock of unheld key " + key)
	}
	<-e.sem
	k.release(key)
}

// release drops one reference and frees the map entry once nobody is
// holding or waiting on it, so idle keys don't accumulate.
func (k *KeyedMutex) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}
