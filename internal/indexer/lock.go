package indexer

import (
	"sync"
	"sync/atomic"
)

// IngestLock provides non-blocking lock semantics using atomic operations.
// A second ingest for the same tenant fails fast instead of queueing.
type IngestLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IngestLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IngestLock) Release() {
	l.state.Store(0)
}

// tenantLocks hands out one IngestLock per tenant
type tenantLocks struct {
	mu    sync.Mutex
	locks map[string]*IngestLock
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[string]*IngestLock)}
}

func (t *tenantLocks) get(tenantID string) *IngestLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tenantID]
	if !ok {
		l = &IngestLock{}
		t.locks[tenantID] = l
	}
	return l
}
