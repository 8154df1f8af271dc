package ingest

import (
	"context"
	"sync"

	"github.com/starford/ansuz/internal/apperr"
)

// keyedLocks provides per-key mutual exclusion. Entries are created
// lazily and removed once the last waiter releases, so the map does not
// grow with the number of distinct sources ever seen.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sourceLock
}

type sourceLock struct {
	// ch is a one-slot semaphore; holding the token means holding the lock.
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sourceLock)}
}

// acquire blocks until the lock for key is held or ctx expires. A wait
// abandoned because of ctx is reported as apperr.ErrConflictInFlight:
// another ingestion for the same source was still running. A ctx that
// is already dead on entry reports its own error instead, since nothing
// was in flight from the caller's point of view.
func (k *keyedLocks) acquire(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sourceLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := ctx.Err(); err != nil {
		k.drop(key, l)
		return err
	}

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.drop(key, l)
		return apperr.ErrConflictInFlight
	}
}

// release frees the lock for key and garbage-collects the entry when no
// other waiter references it.
func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-l.ch
	k.drop(key, l)
}

func (k *keyedLocks) drop(key string, l *sourceLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs <= 0 {
		delete(k.locks, key)
	}
}
