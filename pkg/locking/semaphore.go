package locking

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore guarding a pool of scan or import
// slots. A capacity of 0 or less means unlimited: every operation
// succeeds immediately.
type Semaphore struct {
	capacity int64
	sem      *semaphore.Weighted
	held     atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	s := &Semaphore{capacity: int64(capacity)}
	if capacity > 0 {
		s.sem = semaphore.NewWeighted(int64(capacity))
	}
	return s
}

// Capacity returns the configured capacity; 0 means unlimited.
func (s *Semaphore) Capacity() int {
	if s.capacity < 0 {
		return 0
	}
	return int(s.capacity)
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	return int(s.held.Load())
}

// Free returns the number of slots still available, or -1 for an
// unlimited semaphore.
func (s *Semaphore) Free() int {
	if s.sem == nil {
		return -1
	}
	free := int(s.capacity - s.held.Load())
	if free < 0 {
		free = 0
	}
	return free
}

// Acquire takes one slot, blocking until one is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.sem == nil {
		s.held.Add(1)
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held.Add(1)
	return nil
}

// TryAcquire takes one slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	if s.sem == nil {
		s.held.Add(1)
		return true
	}
	if s.sem.TryAcquire(1) {
		s.held.Add(1)
		return true
	}
	return false
}

// Release returns one slot. Calls must pair with a successful Acquire
// or TryAcquire.
func (s *Semaphore) Release() {
	s.held.Add(-1)
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// WaitZero blocks until no slot is held, by acquiring the whole
// capacity and releasing it again. Unlimited semaphores return
// immediately.
func (s *Semaphore) WaitZero(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	if err := s.sem.Acquire(ctx, s.capacity); err != nil {
		return err
	}
	s.sem.Release(s.capacity)
	return nil
}
