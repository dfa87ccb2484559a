package locking

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockTryAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	a := NewFileLock(path)
	b := NewFileLock(path)

	ok, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.Locked())

	// Second handle must not get the lock
	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release())

	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release())
}

func TestFileLockAcquireWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	a := NewFileLock(path)
	b := NewFileLock(path)

	ok, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		done <- b.Acquire(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Acquire returned while the lock was held elsewhere")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Release())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not obtain the lock after release")
	}
	require.NoError(t, b.Release())
}

func TestFileLockAcquireCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	a := NewFileLock(path)
	ok, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	defer a.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	b := NewFileLock(path)
	assert.Error(t, b.Acquire(ctx))
}

func TestStampedFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.lock")

	l := NewStampedFileLock(path)
	ok, err := l.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	// While held the file carries "<pid> <timestamp>"
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fields := strings.Fields(string(data))
	require.Len(t, fields, 2)

	pid, err := strconv.Atoi(fields[0])
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = time.Parse(time.RFC3339, fields[1])
	assert.NoError(t, err)

	require.NoError(t, l.Release())

	// After release the file is empty
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
