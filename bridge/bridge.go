// Package bridge connects two modules of the same process that cannot import
// each other. A bridge is a named slot holding at most one handler; it never
// crosses the client/server boundary and does not use the channel registry.
package bridge

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/networker/errors"
	"github.com/c360/networker/metric"
)

// ErrTypeMismatch is returned by Named when a name is already in use with other types
var ErrTypeMismatch = stderrors.New("bridge type mismatch")

var droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "networker",
	Subsystem: "bridge",
	Name:      "dropped_total",
	Help:      "Cross calls dropped because no handler was bound",
}, []string{"bridge"})

// RegisterMetrics adds the bridge metrics to registry
func RegisterMetrics(registry metric.MetricsRegistrar) error {
	return registry.RegisterCounterVec("bridge", "dropped_total", droppedTotal)
}

// Bridge forwards In to the bound handler and hands back its Out
type Bridge[In, Out any] struct {
	name string

	mu sync.RWMutex
	fn func(In) Out
}

// New creates an unnamed bridge
func New[In, Out any]() *Bridge[In, Out] {
	return &Bridge[In, Out]{}
}

var (
	namedMu sync.Mutex
	named   = make(map[string]any)
)

// Named returns the process-wide bridge for name, creating it on first use.
// Every caller must use the same In and Out types for a name.
func Named[In, Out any](name string) (*Bridge[In, Out], error) {
	namedMu.Lock()
	defer namedMu.Unlock()

	if existing, ok := named[name]; ok {
		b, ok := existing.(*Bridge[In, Out])
		if !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %q is %T", ErrTypeMismatch, name, existing),
				"Bridge", "Named", "look up bridge")
		}
		return b, nil
	}
	b := &Bridge[In, Out]{name: name}
	named[name] = b
	return b, nil
}

// Name returns the bridge name, empty for bridges made with New
func (b *Bridge[In, Out]) Name() string {
	return b.name
}

// SetCrossCallback binds fn, replacing any handler already bound
func (b *Bridge[In, Out]) SetCrossCallback(fn func(In) Out) {
	b.mu.Lock()
	b.fn = fn
	b.mu.Unlock()
}

// Unbind removes the handler
func (b *Bridge[In, Out]) Unbind() {
	b.SetCrossCallback(nil)
}

// Bound reports whether a handler is bound
func (b *Bridge[In, Out]) Bound() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fn != nil
}

// Cross calls the bound handler synchronously. Without a handler the call is
// dropped and Cross returns false; it is not replayed on a later bind.
func (b *Bridge[In, Out]) Cross(in In) (Out, bool) {
	b.mu.RLock()
	fn := b.fn
	b.mu.RUnlock()

	if fn == nil {
		var zero Out
		label := b.name
		if label == "" {
			label = "unnamed"
		}
		droppedTotal.WithLabelValues(label).Inc()
		slog.Debug("Bridge call dropped, no handler bound", "bridge", label)
		return zero, false
	}
	return fn(in), true
}
