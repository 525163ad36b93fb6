package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/networker/channel"
)

// task is one listener invocation queued on the router's pool
type task struct {
	fn func(context.Context)
}

func runTask(ctx context.Context, t task) error {
	t.fn(ctx)
	return nil
}

// dispatch queues fn on the listener pool, waiting for room until ctx ends
func (r *Router) dispatch(ctx context.Context, subject string, fn func(context.Context)) {
	if err := r.pool.SubmitWait(ctx, task{fn: fn}); err != nil {
		r.drop("shutdown", subject, err)
	}
}

type listener[F any] struct {
	fn     F
	linked atomic.Bool
}

// listeners is an unordered set of callbacks. Each one is unlinked on its own.
type listeners[F any] struct {
	mu    sync.RWMutex
	next  uint64
	items map[uint64]*listener[F]
}

func (ls *listeners[F]) add(fn F) channel.Unlinker {
	l := &listener[F]{fn: fn}
	l.linked.Store(true)

	ls.mu.Lock()
	if ls.items == nil {
		ls.items = make(map[uint64]*listener[F])
	}
	ls.next++
	id := ls.next
	ls.items[id] = l
	ls.mu.Unlock()

	return channel.UnlinkFunc(func() channel.Result {
		if !l.linked.CompareAndSwap(true, false) {
			return channel.Fail("already unlinked")
		}
		ls.mu.Lock()
		delete(ls.items, id)
		ls.mu.Unlock()
		return channel.Ok("unlinked")
	})
}

func (ls *listeners[F]) snapshot() []*listener[F] {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]*listener[F], 0, len(ls.items))
	for _, l := range ls.items {
		out = append(out, l)
	}
	return out
}
