package health

import (
	"fmt"
	"time"
)

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate takes the worst state among subs. An empty set is healthy.
// subs is copied into the result.
func Aggregate(component string, subs []Status) Status {
	worst := StateHealthy
	failing := 0
	for _, sub := range subs {
		state := sub.Status
		if state.severity() == StateUnhealthy.severity() {
			state = StateUnhealthy
		}
		if state.severity() > worst.severity() {
			worst = state
		}
		if !sub.IsHealthy() {
			failing++
		}
	}

	msg := fmt.Sprintf("%d checks passing", len(subs))
	if failing > 0 {
		msg = fmt.Sprintf("%d of %d checks %s", failing, len(subs), worst)
	}
	status := newStatus(component, worst, msg)
	if len(subs) > 0 {
		status.SubStatuses = make([]Status, len(subs))
		copy(status.SubStatuses, subs)
	}
	return status
}
