package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	before := time.Now()
	tests := []struct {
		status Status
		want   State
		check  func(Status) bool
	}{
		{NewHealthy("router", "running"), "healthy", Status.IsHealthy},
		{NewUnhealthy("router", "stopped"), "unhealthy", Status.IsUnhealthy},
		{NewDegraded("router", "starting"), "degraded", Status.IsDegraded},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, "router", tt.status.Component)
			assert.Equal(t, tt.want, tt.status.Status)
			assert.Equal(t, tt.want == StateHealthy, tt.status.Healthy)
			assert.True(t, tt.check(tt.status))
			assert.False(t, tt.status.Timestamp.Before(before))
		})
	}
}

func TestAggregate(t *testing.T) {
	healthy := NewHealthy("registry", "ready")
	degraded := NewDegraded("gateway", "draining")
	unhealthy := NewUnhealthy("transport", "disconnected")

	tests := map[string]struct {
		subs []Status
		want State
		msg  string
	}{
		"empty":          {nil, StateHealthy, "0 checks passing"},
		"all healthy":    {[]Status{healthy, healthy}, StateHealthy, "2 checks passing"},
		"one degraded":   {[]Status{healthy, degraded}, StateDegraded, "1 of 2 checks degraded"},
		"unhealthy wins": {[]Status{degraded, unhealthy, healthy}, StateUnhealthy, "2 of 3 checks unhealthy"},
		"only unhealthy": {[]Status{unhealthy}, StateUnhealthy, "1 of 1 checks unhealthy"},
		"unknown state":  {[]Status{healthy, {Component: "x"}}, StateUnhealthy, "1 of 2 checks unhealthy"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := Aggregate("networker", tt.subs)
			assert.Equal(t, "networker", got.Component)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.msg, got.Message)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_CopiesInput(t *testing.T) {
	in := []Status{NewHealthy("registry", "ready"), NewUnhealthy("transport", "down")}
	got := Aggregate("networker", in)

	got.SubStatuses[0].Component = "changed"
	assert.Equal(t, "registry", in[0].Component)
}
