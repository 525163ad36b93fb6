package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nwerrors "github.com/c360/networker/errors"
)

// runConformance exercises the behavior every Transport must share
func runConformance(t *testing.T, newTransport func(t *testing.T) Transport) {
	t.Run("publish reaches every subscriber in order", func(t *testing.T) {
		tr := newTransport(t)
		ctx := context.Background()

		const n = 20
		var mu sync.Mutex
		got := map[int][]string{}
		var wg sync.WaitGroup
		wg.Add(2 * n)
		for i := 0; i < 2; i++ {
			i := i
			_, err := tr.Subscribe(ctx, "conf.pub", func(_ context.Context, data []byte) {
				mu.Lock()
				got[i] = append(got[i], string(data))
				mu.Unlock()
				wg.Done()
			})
			require.NoError(t, err)
		}

		want := make([]string, n)
		for i := 0; i < n; i++ {
			want[i] = fmt.Sprintf("m%d", i)
			require.NoError(t, tr.Publish(ctx, "conf.pub", []byte(want[i])))
		}
		waitGroup(t, &wg)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, want, got[0])
		assert.Equal(t, want, got[1])
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		tr := newTransport(t)
		ctx := context.Background()

		received := make(chan string, 4)
		sub, err := tr.Subscribe(ctx, "conf.unsub", func(_ context.Context, data []byte) {
			received <- string(data)
		})
		require.NoError(t, err)

		require.NoError(t, tr.Publish(ctx, "conf.unsub", []byte("first")))
		assert.Equal(t, "first", receive(t, received))

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, tr.Publish(ctx, "conf.unsub", []byte("second")))

		select {
		case msg := <-received:
			t.Fatalf("unexpected delivery after unsubscribe: %s", msg)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("request reply", func(t *testing.T) {
		tr := newTransport(t)
		ctx := context.Background()

		_, err := tr.Reply(ctx, "conf.echo", func(_ context.Context, data []byte) ([]byte, error) {
			return append([]byte("re:"), data...), nil
		})
		require.NoError(t, err)

		resp, err := tr.Request(ctx, "conf.echo", []byte("hi"), 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "re:hi", string(resp))
	})

	t.Run("no responders is transient", func(t *testing.T) {
		tr := newTransport(t)

		_, err := tr.Request(context.Background(), "conf.nobody", []byte("x"), time.Second)
		require.ErrorIs(t, err, ErrNoResponders)
		assert.True(t, nwerrors.IsTransient(err))
	})

	t.Run("unanswered request times out", func(t *testing.T) {
		tr := newTransport(t)
		ctx := context.Background()

		_, err := tr.Reply(ctx, "conf.silent", func(context.Context, []byte) ([]byte, error) {
			return nil, errors.New("refused")
		})
		require.NoError(t, err)

		start := time.Now()
		_, err = tr.Request(ctx, "conf.silent", []byte("x"), 150*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)
		assert.True(t, nwerrors.IsTransient(err))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("blocked request does not stall others", func(t *testing.T) {
		tr := newTransport(t)
		ctx := context.Background()

		release := make(chan struct{})
		_, err := tr.Reply(ctx, "conf.park", func(hctx context.Context, data []byte) ([]byte, error) {
			if string(data) == "wait" {
				select {
				case <-release:
				case <-hctx.Done():
					return nil, hctx.Err()
				}
			}
			return data, nil
		})
		require.NoError(t, err)

		parked := make(chan error, 1)
		go func() {
			_, err := tr.Request(ctx, "conf.park", []byte("wait"), 5*time.Second)
			parked <- err
		}()

		resp, err := tr.Request(ctx, "conf.park", []byte("go"), 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "go", string(resp))

		close(release)
		select {
		case err := <-parked:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("parked request never completed")
		}
	})

	t.Run("closed transport refuses calls", func(t *testing.T) {
		tr := newTransport(t)
		require.NoError(t, tr.Close())
		require.NoError(t, tr.Close())

		ctx := context.Background()
		assert.ErrorIs(t, tr.Publish(ctx, "conf.x", nil), ErrClosed)
		_, err := tr.Subscribe(ctx, "conf.x", func(context.Context, []byte) {})
		assert.ErrorIs(t, err, ErrClosed)
		_, err = tr.Request(ctx, "conf.x", nil, time.Second)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}
