package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Transport {
		m := NewMemory()
		t.Cleanup(func() { _ = m.Close() })
		return m
	})
}

func TestMemory_RoundRobinRepliers(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		name := name
		_, err := m.Reply(ctx, "rr", func(context.Context, []byte) ([]byte, error) {
			return []byte(name), nil
		})
		require.NoError(t, err)
	}

	var got []string
	for i := 0; i < 4; i++ {
		resp, err := m.Request(ctx, "rr", nil, time.Second)
		require.NoError(t, err)
		got = append(got, string(resp))
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
}

func TestMemory_ReplyUnsubscribe(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	sub, err := m.Reply(ctx, "gone", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	_, err = m.Request(ctx, "gone", nil, time.Second)
	assert.ErrorIs(t, err, ErrNoResponders)
}

func TestMemory_ReplierSeesRequestDeadline(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	deadlines := make(chan bool, 1)
	_, err := m.Reply(ctx, "deadline", func(hctx context.Context, _ []byte) ([]byte, error) {
		_, ok := hctx.Deadline()
		deadlines <- ok
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	_, err = m.Request(ctx, "deadline", nil, time.Second)
	require.NoError(t, err)
	assert.True(t, <-deadlines)
}

func TestMemory_PublishCopiesData(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	got := make(chan string, 1)
	_, err := m.Subscribe(ctx, "copy", func(_ context.Context, data []byte) {
		got <- string(data)
	})
	require.NoError(t, err)

	buf := []byte("original")
	require.NoError(t, m.Publish(ctx, "copy", buf))
	copy(buf, "mutated!")

	assert.Equal(t, "original", receive(t, got))
}

func TestMemory_Healthy(t *testing.T) {
	m := NewMemory()
	assert.True(t, m.Healthy())
	require.NoError(t, m.Close())
	assert.False(t, m.Healthy())
}

func TestMemory_CallerCancellation(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	_, err := m.Reply(context.Background(), "cancel", func(hctx context.Context, _ []byte) ([]byte, error) {
		<-hctx.Done()
		return nil, hctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = m.Request(ctx, "cancel", nil, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}
