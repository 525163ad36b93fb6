package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("peer not ready")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("no responders")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	sentinel := errors.New("role violation")
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) { seen = append(seen, attempt) }

	_ = Do(context.Background(), cfg, func() error { return errors.New("busy") })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative initial delay", Config{InitialDelay: -1}},
		{"negative max delay", Config{MaxDelay: -1}},
		{"negative multiplier", Config{Multiplier: -1}},
		{"max below initial", Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := Do(context.Background(), tt.cfg, func() error { called = true; return nil })
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("temporary")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestInvokePresetIsFixedDelay(t *testing.T) {
	cfg := Invoke()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, cfg.InitialDelay, cfg.next(cfg.InitialDelay))
}
