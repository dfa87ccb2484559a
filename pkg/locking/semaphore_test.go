package locking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreCapacity(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))
	assert.Equal(t, 2, s.InUse())
	assert.Equal(t, 0, s.Free())

	// Third slot is not available
	assert.False(t, s.TryAcquire())

	s.Release()
	assert.Equal(t, 1, s.Free())
	assert.True(t, s.TryAcquire())

	s.Release()
	s.Release()
	assert.Equal(t, 0, s.InUse())
}

func TestSemaphoreUnlimited(t *testing.T) {
	s := NewSemaphore(0)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Acquire(ctx))
	}
	assert.Equal(t, 100, s.InUse())
	assert.Equal(t, -1, s.Free())
	assert.True(t, s.TryAcquire())

	require.NoError(t, s.WaitZero(ctx))
}

func TestSemaphoreAcquireBlocks(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	assert.Error(t, err, "second acquire should block until the deadline")
}

func TestSemaphoreWaitZero(t *testing.T) {
	s := NewSemaphore(3)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))

	done := make(chan error, 1)
	go func() {
		done <- s.WaitZero(context.Background())
	}()

	// WaitZero must not return while slots are held
	select {
	case <-done:
		t.Fatal("WaitZero returned while slots were held")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release()
	s.Release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitZero did not return after all slots were released")
	}
}

func TestSemaphoreWaitZeroCancel(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))
	defer s.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, s.WaitZero(ctx))
}
