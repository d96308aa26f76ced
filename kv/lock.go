package kv

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/secidx/internal/logging"
)

// rowLock guards one primary key. Acquisition is a plain mutex polled with
// TryLock; this is a deliberately simple reference lock manager rather
// than a fair/ticketed one.
type rowLock struct {
	mu sync.Mutex
}

// lockTable maps a column-family-prefixed key to its rowLock, backed by a
// typed concurrent map rather than sync.Map plus manual type assertions.
type lockTable struct {
	locks *xsync.MapOf[string, *rowLock]
	log   logging.Logger
}

func newLockTable(log logging.Logger) *lockTable {
	return &lockTable{locks: xsync.NewMapOf[string, *rowLock](), log: log}
}

func (t *lockTable) handle(key string) *rowLock {
	lk, _ := t.locks.LoadOrStore(key, &rowLock{})
	return lk
}

// acquire blocks until the lock for key is held or timeout elapses.
func (t *lockTable) acquire(key string, timeout time.Duration) (unlock func(), err error) {
	lk := t.handle(key)
	deadline := time.Now().Add(timeout)
	for {
		if lk.mu.TryLock() {
			return lk.mu.Unlock, nil
		}
		if time.Now().After(deadline) {
			t.log.Warn("lock acquisition timed out", "key", key, "timeout", timeout.String())
			return nil, ErrLockTimeout
		}
		time.Sleep(time.Millisecond)
	}
}
