package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	assert.Zero(t, m.Count())

	m.Update("router", Status{Status: "healthy", Message: "running"})
	got, ok := m.Get("router")
	require.True(t, ok)
	assert.Equal(t, "router", got.Component, "name is taken from the key")
	assert.False(t, got.Timestamp.IsZero())

	m.UpdateDegraded("gateway", "draining")
	m.UpdateUnhealthy("transport", "disconnected")
	m.UpdateHealthy("registry", "ready")
	assert.Equal(t, 4, m.Count())
	assert.ElementsMatch(t, []string{"router", "gateway", "transport", "registry"}, m.ListComponents())

	all := m.GetAll()
	delete(all, "router")
	assert.Equal(t, 4, m.Count(), "GetAll returns a copy")

	m.Remove("gateway")
	_, ok = m.Get("gateway")
	assert.False(t, ok)

	m.Clear()
	assert.Zero(t, m.Count())
}

func TestMonitor_AggregateHealth(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("router", "running")
	assert.True(t, m.AggregateHealth("networker").IsHealthy())

	m.UpdateDegraded("gateway", "draining")
	assert.True(t, m.AggregateHealth("networker").IsDegraded())

	m.UpdateUnhealthy("transport", "disconnected")
	agg := m.AggregateHealth("networker")
	assert.True(t, agg.IsUnhealthy())
	assert.Equal(t, "networker", agg.Component)
	assert.Len(t, agg.SubStatuses, 3)
}

func TestMonitor_RegisterAndRefresh(t *testing.T) {
	m := NewMonitor()
	var down atomic.Bool
	m.Register("transport", func() Status {
		if down.Load() {
			return NewUnhealthy("transport", "disconnected")
		}
		return NewHealthy("transport", "connected")
	})

	got, ok := m.Get("transport")
	require.True(t, ok, "Register runs the check once")
	assert.True(t, got.IsHealthy())

	down.Store(true)
	m.Refresh()
	got, _ = m.Get("transport")
	assert.True(t, got.IsUnhealthy())

	m.Remove("transport")
	m.Refresh()
	_, ok = m.Get("transport")
	assert.False(t, ok, "removed checks are not polled")
}

func TestMonitor_Run(t *testing.T) {
	m := NewMonitor()
	var calls atomic.Int32
	m.Register("router", func() Status {
		calls.Add(1)
		return NewHealthy("router", "running")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	var down atomic.Bool
	m.Register("transport", func() Status {
		var err error
		if down.Load() {
			err = fmt.Errorf("lost nats://10.1.1.1:4222")
		}
		return FromError("transport", err, "connected")
	})
	m.UpdateHealthy("router", "running")

	get := func() (*httptest.ResponseRecorder, Status) {
		rec := httptest.NewRecorder()
		m.Handler("networker").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var st Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		return rec, st
	}

	rec, st := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, st.IsHealthy())
	require.Len(t, st.SubStatuses, 2)
	assert.Equal(t, "router", st.SubStatuses[0].Component, "sub statuses are sorted")

	down.Store(true)
	rec, st = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "lost [URL]", st.SubStatuses[1].Message)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("peer-%d", i)
			for j := range 50 {
				if j%2 == 0 {
					m.UpdateHealthy(name, "ok")
				} else {
					m.UpdateDegraded(name, "slow")
				}
				m.Get(name)
				m.AggregateHealth("networker")
				m.Refresh()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, m.Count())
}
