package state

import "sync"

// Locks serialises status transitions per task. Apply is pure, so two
// concurrent observers could otherwise interleave their read-apply-write
// cycles and both commit; holding the task's lock across the cycle
// collapses concurrent starts to exactly one Requested.
type Locks struct {
	mu sync.Mutex
	m  map[string]*taskLock
}

type taskLock struct {
	sync.Mutex
	refs int
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{m: make(map[string]*taskLock)}
}

// Lock acquires the lock of one task and returns its release func.
// Locks are created on first use and dropped when the last holder
// releases, so the table does not grow with task history.
func (l *Locks) Lock(taskID string) func() {
	l.mu.Lock()
	tl, ok := l.m[taskID]
	if !ok {
		tl = &taskLock{}
		l.m[taskID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Mutex.Lock()
	return func() {
		tl.Mutex.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, taskID)
		}
		l.mu.Unlock()
	}
}
