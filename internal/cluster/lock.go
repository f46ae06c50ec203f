package cluster

import (
	"sync"
	"sync/atomic"
)

// ProjectLock provides non-blocking per-project lock semantics using atomic operations.
// A project can have one clustering or projection run at a time.
type ProjectLock struct {
	mu    sync.Mutex
	state map[int64]*atomic.Int32 // 0 = unlocked, 1 = locked
}

// NewProjectLock creates an empty lock table
func NewProjectLock() *ProjectLock {
	return &ProjectLock{state: make(map[int64]*atomic.Int32)}
}

// TryAcquire attempts to lock projectID without blocking
func (l *ProjectLock) TryAcquire(projectID int64) bool {
	l.mu.Lock()
	s, ok := l.state[projectID]
	if !ok {
		s = new(atomic.Int32)
		l.state[projectID] = s
	}
	l.mu.Unlock()
	return s.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *ProjectLock) Release(projectID int64) {
	l.mu.Lock()
	s := l.state[projectID]
	l.mu.Unlock()
	if s != nil {
		s.Store(0)
	}
}
