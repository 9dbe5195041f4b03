package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(2)
	var ran atomic.Int64

	for i := 0; i < 5; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(5), ran.Load())
	m := pool.Metrics()
	assert.Equal(t, int64(5), m.Completed)
	assert.Equal(t, int64(0), m.Active)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	var current, peak atomic.Int64
	var mu sync.Mutex

	for i := 0; i < 8; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPoolCountsFailures(t *testing.T) {
	pool := NewWorkerPool(1)
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		return errors.New("step blew up")
	}))
	pool.Wait()

	assert.Equal(t, int64(1), pool.Metrics().Failed)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		panic("worker bug")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)

	// The slot was released despite the panic.
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { return nil }))
	pool.Wait()
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestPoolSubmitRespectsContextWhileBlocked(t *testing.T) {
	pool := NewWorkerPool(1)
	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}
