package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST330: Saves requested during a persist collapse into one trailing run
func TestSaveQueueTrailingCoalescing(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	q := NewSaveQueue(func(context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, q.Persist(ctx))
	}()
	<-started
	require.True(t, q.InFlight())

	gaveUp, cancel := context.WithCancel(ctx)
	cancel()
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, q.Persist(gaveUp), context.Canceled)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, q.InFlight())
}

// TEST331: A failed persist ends the run and the next request starts fresh
func TestSaveQueueFailure(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	q := NewSaveQueue(func(context.Context) error {
		if calls.Add(1) == 1 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, q.Persist(context.Background()), boom)
	assert.False(t, q.InFlight())
	assert.NoError(t, q.Persist(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

// TEST332: Sequential saves each persist once
func TestSaveQueueSequential(t *testing.T) {
	var calls atomic.Int32
	q := NewSaveQueue(func(context.Context) error {
		calls.Add(1)
		return nil
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Persist(context.Background()))
	}
	assert.Equal(t, int32(3), calls.Load())
}
