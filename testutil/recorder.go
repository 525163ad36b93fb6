package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Recorder collects values from callbacks running on other goroutines.
// Thread-safe for concurrent use.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
	notify chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{notify: make(chan struct{}, 1)}
}

// Record appends v. It matches the shape of most listener callbacks.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// All returns a copy of everything recorded so far
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of recorded values
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Wait blocks until at least n values were recorded and returns them. It
// fails the test after timeout.
func (r *Recorder[T]) Wait(t testing.TB, n int, timeout time.Duration) []T {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		if got := r.All(); len(got) >= n {
			return got
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for %d recorded values (got %d)", n, r.Len())
			return nil
		case <-r.notify:
		}
	}
}

// Quiet fails the test if more than n values are recorded within d
func (r *Recorder[T]) Quiet(t testing.TB, n int, d time.Duration) {
	t.Helper()
	time.Sleep(d)
	if got := r.Len(); got > n {
		t.Fatalf("expected at most %d recorded values, got %d", n, got)
	}
}
