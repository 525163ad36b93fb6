// Package worker provides a bounded worker pool used to run channel handlers
// off the transport's delivery goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/networker/metric"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
	// ErrProcessorPanic wraps the value recovered from a panicking handler
	ErrProcessorPanic = errors.New("processor panicked")
)

// Pool runs a processor over work items of type T on a fixed number of goroutines
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	stopCh      chan struct{}

	submitted int64
	processed int64
	failed    int64
	dropped   int64
	panicked  int64

	metricsRegistry metric.MetricsRegistrar
	metricsPrefix   string
	onPanic         func(recovered any)
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under the given name prefix
func WithMetricsRegistry[T any](registry metric.MetricsRegistrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithPanicHandler is called with the recovered value when a processor panics.
// The worker keeps running either way.
func WithPanicHandler[T any](fn func(recovered any)) Option[T] {
	return func(p *Pool[T]) {
		p.onPanic = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}
	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}
	return pool
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that returned an error or panicked",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	service := "worker_pool"
	_ = p.metricsRegistry.RegisterGauge(service, prefix+"_queue_depth", m.queueDepth)
	_ = p.metricsRegistry.RegisterCounter(service, prefix+"_submitted_total", m.submitted)
	_ = p.metricsRegistry.RegisterCounter(service, prefix+"_processed_total", m.processed)
	_ = p.metricsRegistry.RegisterCounter(service, prefix+"_failed_total", m.failed)
	_ = p.metricsRegistry.RegisterCounter(service, prefix+"_dropped_total", m.dropped)
	_ = p.metricsRegistry.RegisterHistogramVec(service, prefix+"_processing_duration_seconds", m.processingTime)
	p.metrics = m
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if err := p.checkRunning(); err != nil {
		return err
	}
	select {
	case p.workChan <- work:
		p.recordSubmitted()
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait enqueues work, waiting for queue space until ctx ends or the pool stops
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.Lock()
	if err := p.checkRunning(); err != nil {
		p.lifecycleMu.Unlock()
		return err
	}
	stopCh := p.stopCh
	p.lifecycleMu.Unlock()

	select {
	case <-stopCh:
		return ErrPoolStopped
	default:
	}

	select {
	case p.workChan <- work:
		p.recordSubmitted()
		return nil
	case <-stopCh:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) checkRunning() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) recordSubmitted() {
	atomic.AddInt64(&p.submitted, 1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Stop stops accepting work, lets workers drain the queue, and waits up to timeout
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Panicked:   atomic.LoadInt64(&p.panicked),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panicked   int64 `json:"panicked"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work := <-p.workChan:
			p.process(ctx, work)
		case <-p.stopCh:
			// drain what is already queued, then exit
			for {
				select {
				case work := <-p.workChan:
					p.process(ctx, work)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.safeProcess(ctx, work)
	duration := time.Since(start)

	atomic.AddInt64(&p.processed, 1)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	}
	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

func (p *Pool[T]) safeProcess(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.panicked, 1)
			if p.onPanic != nil {
				p.onPanic(r)
			}
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()
	return p.processor(ctx, work)
}
