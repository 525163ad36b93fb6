package bridge

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/networker/errors"
	"github.com/c360/networker/metric"
)

func TestCross_DroppedWithoutHandlerAndNotReplayed(t *testing.T) {
	b, err := Named[string, int]("test.dropped")
	require.NoError(t, err)
	before := testutil.ToFloat64(droppedTotal.WithLabelValues("test.dropped"))

	out, ok := b.Cross("x")
	assert.False(t, ok)
	assert.Zero(t, out)
	assert.Equal(t, before+1, testutil.ToFloat64(droppedTotal.WithLabelValues("test.dropped")))

	var seen []string
	b.SetCrossCallback(func(s string) int {
		seen = append(seen, s)
		return len(s)
	})
	assert.Empty(t, seen, "a late bind must not receive earlier calls")

	out, ok = b.Cross("abc")
	assert.True(t, ok)
	assert.Equal(t, 3, out)
	assert.Equal(t, []string{"abc"}, seen)
}

func TestSetCrossCallback_Replaces(t *testing.T) {
	b := New[int, int]()
	b.SetCrossCallback(func(v int) int { return v + 1 })
	b.SetCrossCallback(func(v int) int { return v * 10 })

	out, ok := b.Cross(4)
	require.True(t, ok)
	assert.Equal(t, 40, out)

	b.Unbind()
	assert.False(t, b.Bound())
	_, ok = b.Cross(4)
	assert.False(t, ok)
}

func TestNamed_SameInstanceAndTypeCheck(t *testing.T) {
	var wg sync.WaitGroup
	got := make([]*Bridge[uint64, string], 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := Named[uint64, string]("Get Player Details")
			assert.NoError(t, err)
			got[i] = b
		}()
	}
	wg.Wait()
	for _, b := range got {
		assert.Same(t, got[0], b)
	}
	assert.Equal(t, "Get Player Details", got[0].Name())

	_, err := Named[string, string]("Get Player Details")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	require.NoError(t, RegisterMetrics(reg))
	assert.Error(t, RegisterMetrics(reg))
}
