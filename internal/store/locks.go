package store

import (
	"sync"
	"time"
)

// lockTable hands out one exclusive lock per session id. Locks are channel
// semaphores so acquisition can be bounded by a timeout. Two sessions never
// contend with each other's locks. Entries live for the life of the
// process: a deleted and recreated session keeps one lock identity, so a
// waiter queued across the delete still excludes later mutators.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (t *lockTable) get(sessionID string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = make(chan struct{}, 1)
		t.locks[sessionID] = l
	}
	return l
}

// acquire blocks until the session lock is held or the wait bound elapses.
// The returned release must be called on every exit path. wait <= 0 means
// block indefinitely.
func (t *lockTable) acquire(sessionID string, wait time.Duration) (release func(), err error) {
	l := t.get(sessionID)
	if wait <= 0 {
		l <- struct{}{}
		return func() { <-l }, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	}
}
