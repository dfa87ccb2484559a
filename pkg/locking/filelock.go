package locking

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// FileLock is an advisory file lock shared between every process that
// coordinates on the same path. The kernel drops the lock when the
// holder exits, so a crashed holder never wedges the others.
type FileLock struct {
	path  string
	lock  *flock.Flock
	stamp bool
}

// NewFileLock creates a lock on path. The file is created on first
// acquire if it does not exist.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, lock: flock.New(path)}
}

// NewStampedFileLock creates a lock that records "<pid> <timestamp>"
// in the file while held, so observers can see who owns it and since
// when. The content is truncated on release.
func NewStampedFileLock(path string) *FileLock {
	return &FileLock{path: path, lock: flock.New(path), stamp: true}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// TryAcquire attempts the lock without blocking. It returns false when
// another holder has it.
func (l *FileLock) TryAcquire() (bool, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	if ok && l.stamp {
		if err := l.writeStamp(); err != nil {
			l.lock.Unlock()
			return false, err
		}
	}
	return ok, nil
}

// Acquire blocks until the lock is held or ctx is done, retrying every
// 250ms.
func (l *FileLock) Acquire(ctx context.Context) error {
	ok, err := l.lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("failed to lock %s", l.path)
	}
	if l.stamp {
		if err := l.writeStamp(); err != nil {
			l.lock.Unlock()
			return err
		}
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if l.stamp && l.lock.Locked() {
		// Clear the stamp first so a reader never sees our pid after
		// the lock is free.
		if err := os.Truncate(l.path, 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear lock stamp %s: %w", l.path, err)
		}
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return nil
}

// Locked reports whether this handle currently holds the lock.
func (l *FileLock) Locked() bool {
	return l.lock.Locked()
}

func (l *FileLock) writeStamp() error {
	// Separate fd: the flock handle stays dedicated to locking.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to stamp lock %s: %w", l.path, err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to stamp lock %s: %w", l.path, err)
	}
	return nil
}
