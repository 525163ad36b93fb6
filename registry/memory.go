package registry

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
)

// MemoryFolder keeps handles in a process-local map. Routers that share one
// MemoryFolder behave as if they shared a store.
type MemoryFolder struct {
	mu      sync.Mutex
	handles map[string]channel.Handle
	waiters map[string][]chan channel.Handle
}

// NewMemoryFolder creates an empty folder
func NewMemoryFolder() *MemoryFolder {
	return &MemoryFolder{
		handles: make(map[string]channel.Handle),
		waiters: make(map[string][]chan channel.Handle),
	}
}

// GetOrCreate inserts h under the folder lock
func (f *MemoryFolder) GetOrCreate(_ context.Context, h channel.Handle) (channel.Handle, bool, error) {
	if err := h.Validate(); err != nil {
		return channel.Handle{}, false, err
	}
	name := h.Name()

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.handles[name]; ok {
		return existing, false, nil
	}
	f.handles[name] = h

	for _, ch := range f.waiters[name] {
		ch <- h
	}
	delete(f.waiters, name)

	return h, true, nil
}

// Get returns the stored handle
func (f *MemoryFolder) Get(_ context.Context, kind channel.Kind, token channel.Token) (channel.Handle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[channel.Name(kind, token)]
	return h, ok, nil
}

// WaitFor blocks until the handle is created or ctx ends
func (f *MemoryFolder) WaitFor(ctx context.Context, kind channel.Kind, token channel.Token) (channel.Handle, error) {
	name := channel.Name(kind, token)

	f.mu.Lock()
	if h, ok := f.handles[name]; ok {
		f.mu.Unlock()
		return h, nil
	}
	ch := make(chan channel.Handle, 1)
	f.waiters[name] = append(f.waiters[name], ch)
	f.mu.Unlock()

	select {
	case h := <-ch:
		return h, nil
	case <-ctx.Done():
		f.removeWaiter(name, ch)
		return channel.Handle{}, errors.WrapTransient(ctx.Err(), "MemoryFolder", "WaitFor", "wait for "+name)
	}
}

func (f *MemoryFolder) removeWaiter(name string, ch chan channel.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiters[name] = slices.DeleteFunc(f.waiters[name], func(c chan channel.Handle) bool { return c == ch })
	if len(f.waiters[name]) == 0 {
		delete(f.waiters, name)
	}
}

// List returns the handles sorted by composite name
func (f *MemoryFolder) List(_ context.Context) ([]channel.Handle, error) {
	f.mu.Lock()
	out := make([]channel.Handle, 0, len(f.handles))
	for _, h := range f.handles {
		out = append(out, h)
	}
	f.mu.Unlock()

	sortHandles(out)
	return out, nil
}

func sortHandles(hs []channel.Handle) {
	slices.SortFunc(hs, func(a, b channel.Handle) int {
		return strings.Compare(a.Name(), b.Name())
	})
}
