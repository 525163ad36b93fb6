package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360/networker/metric"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(0, 0, func(context.Context, int) error { return nil })
	stats := p.Stats()
	assert.Equal(t, 10, stats.Workers)
	assert.Equal(t, 1000, stats.QueueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[int](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	p := NewPool(2, 10, func(context.Context, int) error { return nil })

	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), 1), ErrPoolStopped)
	require.NoError(t, p.Stop(time.Second))
}

func TestPool_ProcessesAllWork(t *testing.T) {
	var sum int64
	var wg sync.WaitGroup
	p := NewPool(4, 100, func(_ context.Context, n int) error {
		atomic.AddInt64(&sum, int64(n))
		wg.Done()
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	for i := 1; i <= 50; i++ {
		wg.Add(1)
		require.NoError(t, p.SubmitWait(context.Background(), i))
	}
	wg.Wait()

	assert.Equal(t, int64(1275), atomic.LoadInt64(&sum))
	assert.Equal(t, int64(50), p.Stats().Submitted)
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, 1, func(context.Context, int) error {
		<-block
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	defer func() {
		close(block)
		p.Stop(time.Second)
	}()

	require.NoError(t, p.Submit(1))
	// Give the single worker time to pick up item 1 so item 2 fills the queue.
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.SubmitWait(ctx, 4), context.DeadlineExceeded)
}

func TestPool_FailuresAndPanics(t *testing.T) {
	var recovered atomic.Value
	var wg sync.WaitGroup
	p := NewPool(1, 10, func(_ context.Context, n int) error {
		defer wg.Done()
		switch n {
		case 1:
			return errors.New("handler failed")
		case 2:
			panic("listener blew up")
		}
		return nil
	}, WithPanicHandler[int](func(r any) { recovered.Store(r) }))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	wg.Add(3)
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Submit(i))
	}
	wg.Wait()

	require.Eventually(t, func() bool { return p.Stats().Processed == 3 }, time.Second, 5*time.Millisecond)
	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Equal(t, "listener blew up", recovered.Load())
}

func TestPool_StopDrainsQueue(t *testing.T) {
	var done int64
	p := NewPool(1, 10, func(context.Context, int) error {
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&done, 1)
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(5), atomic.LoadInt64(&done))
}

func TestPool_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	var wg sync.WaitGroup
	p := NewPool(1, 10, func(context.Context, int) error { wg.Done(); return nil },
		WithMetricsRegistry[int](reg, "test_dispatch"))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(time.Second)

	wg.Add(2)
	require.NoError(t, p.Submit(1))
	require.NoError(t, p.Submit(2))
	wg.Wait()

	require.NotNil(t, p.metrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.submitted))
	require.Eventually(t, func() bool { return testutil.ToFloat64(p.metrics.processed) == 2.0 }, time.Second, 5*time.Millisecond)
}
