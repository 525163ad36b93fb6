// Package worker provides a generic bounded worker pool.
//
// The router uses one pool per process to run event listeners and to keep
// slow handlers from blocking transport delivery. Work is submitted either
// without blocking (Submit, which drops and counts when the queue is full)
// or with backpressure (SubmitWait, which waits for space until the context
// ends).
//
// A processor that panics is recovered; the panic is counted, reported to the
// optional panic handler, and the worker continues with the next item.
//
//	pool := worker.NewPool(8, 256, func(ctx context.Context, fn func(context.Context)) error {
//	    fn(ctx)
//	    return nil
//	}, worker.WithMetricsRegistry[func(context.Context)](reg, "router_dispatch"))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
package worker
