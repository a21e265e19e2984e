// Package lock provides per-client locking so one client identity can
// drive at most one search or match at a time.
package lock

import (
	"sync"
)

// clientMutex wraps a mutex with reference counting for cleanup.
type clientMutex struct {
	mu       sync.Mutex
	refCount int
}

// ClientLock provides per-client-identity locking. A second session for
// the same identity must fail fast rather than queue behind the first,
// so TryLock is the primary entry point.
type ClientLock struct {
	locks sync.Map // map[string]*clientMutex
	pool  sync.Pool
}

// NewClientLock creates a new ClientLock instance.
func NewClientLock() *ClientLock {
	return &ClientLock{
		pool: sync.Pool{
			New: func() any {
				return &clientMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given client identity.
func (cl *ClientLock) getLock(clientID string) *clientMutex {
	if v, ok := cl.locks.Load(clientID); ok {
		return v.(*clientMutex)
	}

	newLock := cl.pool.Get().(*clientMutex)
	newLock.refCount = 0

	actual, loaded := cl.locks.LoadOrStore(clientID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		cl.pool.Put(newLock)
	}
	return actual.(*clientMutex)
}

// Lock acquires the lock for a client, blocking until available.
func (cl *ClientLock) Lock(clientID string) {
	lock := cl.getLock(clientID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a client.
func (cl *ClientLock) Unlock(clientID string) {
	if v, ok := cl.locks.Load(clientID); ok {
		lock := v.(*clientMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (cl *ClientLock) TryLock(clientID string) bool {
	lock := cl.getLock(clientID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// IsLocked checks if a client currently holds an active lock.
// Note: this is a point-in-time check and may change immediately after.
func (cl *ClientLock) IsLocked(clientID string) bool {
	if v, ok := cl.locks.Load(clientID); ok {
		lock := v.(*clientMutex)
		if lock.mu.TryLock() {
			lock.mu.Unlock()
			return false
		}
		return true
	}
	return false
}

// WithLock executes a function while holding the client's lock.
func (cl *ClientLock) WithLock(clientID string, fn func() error) error {
	cl.Lock(clientID)
	defer cl.Unlock(clientID)
	return fn()
}
