package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		status                       State
		healthy, degraded, unhealthy bool
	}{
		{StateHealthy, true, false, false},
		{StateDegraded, false, true, false},
		{StateUnhealthy, false, false, true},
		{"", false, false, false},
		{"HEALTHY", false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := Status{Status: tt.status}
			assert.Equal(t, tt.healthy, s.IsHealthy())
			assert.Equal(t, tt.degraded, s.IsDegraded())
			assert.Equal(t, tt.unhealthy, s.IsUnhealthy())
		})
	}
}

func TestStatus_WithMetrics(t *testing.T) {
	original := NewHealthy("router", "running")
	got := original.WithMetrics(&Metrics{Peers: 3, Channels: 7})

	assert.Nil(t, original.Metrics)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 3, got.Metrics.Peers)
	assert.Equal(t, 7, got.Metrics.Channels)
}

func TestStatus_WithSubStatus(t *testing.T) {
	parent := NewHealthy("networker", "running")
	got := parent.WithSubStatus(NewUnhealthy("transport", "down"))

	assert.Empty(t, parent.SubStatuses)
	require.Len(t, got.SubStatuses, 1)
	assert.Equal(t, "transport", got.SubStatuses[0].Component)

	again := got.WithSubStatus(NewHealthy("registry", "ready"))
	got.SubStatuses[0].Status = StateDegraded
	assert.Equal(t, StateUnhealthy, again.SubStatuses[0].Status, "copies do not share sub-statuses")
}

func TestFromError(t *testing.T) {
	ok := FromError("transport", nil, "connected")
	assert.True(t, ok.IsHealthy())
	assert.Equal(t, "transport", ok.Component)
	assert.Equal(t, "connected", ok.Message)
	assert.False(t, ok.Timestamp.IsZero())

	down := FromError("transport", errors.New("dial nats://10.0.0.4:4222 refused"), "connected")
	assert.True(t, down.IsUnhealthy())
	assert.Equal(t, "dial [URL] refused", down.Message)
}
