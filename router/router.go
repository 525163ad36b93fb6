package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/health"
	"github.com/c360/networker/message"
	"github.com/c360/networker/metric"
	"github.com/c360/networker/pkg/retry"
	"github.com/c360/networker/pkg/worker"
	"github.com/c360/networker/registry"
	"github.com/c360/networker/transport"
)

// Status is the lifecycle state of a Router
type Status int32

// Router lifecycle states
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the lowercase status name
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Router owns the channels of one process. It is built for exactly one role,
// which decides the operations each channel accepts.
type Router struct {
	role     channel.Role
	peer     channel.PeerID
	tr       transport.Transport
	reg      *registry.Registry
	subjects Subjects
	payloads *message.Registry

	logger          *slog.Logger
	metrics         *metric.Metrics
	metricsRegistry *metric.MetricsRegistry

	workers          int
	queueSize        int
	provisionTimeout time.Duration
	retry            retry.Config

	pool   *worker.Pool[task]
	peers  *peerSet
	status atomic.Int32

	lifecycleMu sync.Mutex
	runCtx      context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	channels map[string]any

	subsMu sync.Mutex
	subs   []transport.Subscription
}

// New creates a router for role. reg must have been built for the same role.
func New(role channel.Role, tr transport.Transport, reg *registry.Registry, opts ...Option) (*Router, error) {
	if !role.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Router", "New", "check role")
	}
	if tr == nil || reg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "New", "check transport and registry")
	}
	if reg.Role() != role {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: registry is %s, router is %s", errors.ErrInvalidConfig, reg.Role(), role),
			"Router", "New", "check registry role")
	}

	r := &Router{
		role:             role,
		tr:               tr,
		reg:              reg,
		subjects:         Subjects{Namespace: DefaultNamespace},
		payloads:         message.Default,
		logger:           slog.Default(),
		workers:          10,
		queueSize:        1000,
		provisionTimeout: 5 * time.Second,
		retry:            retry.Invoke(),
		channels:         make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	if role == channel.RoleClient && r.peer == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: client router needs a peer id", errors.ErrMissingConfig),
			"Router", "New", "check peer")
	}
	if role == channel.RoleServer {
		r.peer = 0
	}
	r.logger = r.logger.With("component", "router", "role", role.String())
	r.peers = newPeerSet(r.metrics)

	poolOpts := []worker.Option[task]{
		worker.WithPanicHandler[task](func(recovered any) {
			r.logger.Error("Listener panicked", "panic", recovered)
		}),
	}
	if r.metricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[task](r.metricsRegistry, "router_listeners"))
	}
	r.pool = worker.NewPool(r.workers, r.queueSize, runTask, poolOpts...)
	return r, nil
}

// Role returns the role the router was built for
func (r *Router) Role() channel.Role { return r.role }

// Peer returns the client's own id, or 0 on the server
func (r *Router) Peer() channel.PeerID { return r.peer }

// Registry returns the router's registry
func (r *Router) Registry() *registry.Registry { return r.reg }

// Subjects returns the subject layout in use
func (r *Router) Subjects() Subjects { return r.subjects }

// Status returns the lifecycle state
func (r *Router) Status() Status { return Status(r.status.Load()) }

// Start starts the listener pool and the role's background services. On the
// server that is presence tracking, registry lookups, creation announcements
// and the provisioning channels. On the client it announces the join.
func (r *Router) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if s := r.Status(); s == StatusRunning || s == StatusStarting {
		return nil
	}
	if r.Status() == StatusStopped && r.cancel != nil {
		return errors.WrapFatal(errors.ErrShuttingDown, "Router", "Start", "restart stopped router")
	}
	r.status.Store(int32(StatusStarting))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.runCtx, r.cancel = runCtx, cancel
	if err := r.pool.Start(runCtx); err != nil {
		r.status.Store(int32(StatusStopped))
		return errors.WrapFatal(err, "Router", "Start", "start listener pool")
	}

	var err error
	if r.role == channel.RoleServer {
		err = r.startServer()
	} else {
		err = r.startClient(ctx)
	}
	if err != nil {
		r.status.Store(int32(StatusStopped))
		r.unsubscribeAll()
		_ = r.pool.Stop(time.Second)
		return err
	}

	r.status.Store(int32(StatusRunning))
	r.logger.Info("Router started", "namespace", r.subjects.ns(), "peer", r.peer)
	return nil
}

func (r *Router) startServer() error {
	if err := r.watchPresence(); err != nil {
		return err
	}

	sub, err := registry.ServeLookups(r.runCtx, r.tr, r.subjects.RegistryLookup(), r.reg)
	if err != nil {
		return errors.Wrap(err, "Router", "Start", "serve registry lookups")
	}
	r.track(sub)
	r.reg.OnCreated(registry.Announcer(r.tr, r.subjects.RegistryCreated(), r.logger))

	return r.serveProvisioning()
}

func (r *Router) startClient(ctx context.Context) error {
	return r.announce(ctx, r.subjects.PresenceJoin())
}

// Stop announces the leave (client), unsubscribes every channel and waits up
// to timeout for running listeners. The transport stays open.
func (r *Router) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.Status() != StatusRunning {
		return nil
	}
	r.status.Store(int32(StatusStopping))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if r.role == channel.RoleClient {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := r.announce(ctx, r.subjects.PresenceLeave()); err != nil {
			r.logger.Warn("Failed to announce leave", "error", err)
		}
		cancel()
	}

	r.unsubscribeAll()
	err := r.pool.Stop(timeout)
	r.cancel()
	r.peers.clear()
	r.status.Store(int32(StatusStopped))
	r.logger.Info("Router stopped")
	if err != nil {
		return errors.WrapTransient(err, "Router", "Stop", "drain listener pool")
	}
	return nil
}

// Health reports whether the router is running
func (r *Router) Health() health.Status {
	counts := &health.Metrics{Peers: len(r.peers.list())}
	r.mu.Lock()
	counts.Channels = len(r.channels)
	r.mu.Unlock()

	var st health.Status
	switch s := r.Status(); s {
	case StatusRunning:
		st = health.NewHealthy("router", fmt.Sprintf("%s router running, %d peers", r.role, counts.Peers))
	case StatusStarting, StatusStopping:
		st = health.NewDegraded("router", "router is "+s.String())
	default:
		st = health.NewUnhealthy("router", "router is stopped")
	}
	return st.WithMetrics(counts)
}

func (r *Router) running() error {
	if r.Status() != StatusRunning {
		return errors.WrapFatal(errors.ErrNotStarted, "Router", "running", "check status")
	}
	return nil
}

func (r *Router) track(sub transport.Subscription) {
	r.subsMu.Lock()
	r.subs = append(r.subs, sub)
	r.subsMu.Unlock()
}

func (r *Router) unsubscribeAll() {
	r.mu.Lock()
	r.channels = make(map[string]any)
	r.mu.Unlock()

	r.subsMu.Lock()
	subs := r.subs
	r.subs = nil
	r.subsMu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Debug("Unsubscribe failed", "error", err)
		}
	}
}

// violation records a wrong-role call and returns its error
func (r *Router) violation(want channel.Role, component, op string) error {
	err := channel.Require(r.role, want, component, op)
	if err != nil {
		r.metrics.RecordRoleViolation(op)
		r.logger.Error("Role violation", "operation", op)
	}
	return err
}

// attach returns the channel object already open for h, or builds one. A
// second open with different payload types is rejected.
func attach[T any](r *Router, h channel.Handle, build func() (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.channels[h.Name()]; ok {
		typed, ok := existing.(T)
		if !ok {
			var zero T
			return zero, errors.WrapInvalid(fmt.Errorf("%w: %s already open as %T", message.ErrTypeMismatch, h.Name(), existing),
				"Router", "attach", "reuse channel")
		}
		return typed, nil
	}

	v, err := build()
	if err != nil {
		var zero T
		return zero, err
	}
	r.channels[h.Name()] = v
	return v, nil
}

// subscribe registers a subscription that lives until Stop
func (r *Router) subscribe(subject string, handler transport.Handler) error {
	sub, err := r.tr.Subscribe(r.runCtx, subject, handler)
	if err != nil {
		return errors.Wrap(err, "Router", "subscribe", subject)
	}
	r.track(sub)
	return nil
}

// reply serves requests on subject until Stop
func (r *Router) reply(subject string, handler transport.RequestHandler) error {
	sub, err := r.tr.Reply(r.runCtx, subject, handler)
	if err != nil {
		return errors.Wrap(err, "Router", "reply", subject)
	}
	r.track(sub)
	return nil
}

// drop logs and counts an inbound message that never reached a handler
func (r *Router) drop(reason, subject string, err error) {
	r.metrics.RecordDropped(reason)
	r.logger.Warn("Dropped inbound message", "reason", reason, "subject", subject, "error", err)
}
