package registry

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/metric"
)

// Registry resolves tokens to handles for one role. Resolved handles are
// cached, so repeat resolves of a token never reach the folder.
type Registry struct {
	role    channel.Role
	folder  Folder
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.RWMutex
	cache     map[string]channel.Handle
	onCreated []func(context.Context, channel.Handle)
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records resolves and channel counts in m
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithCreatedHook runs fn after this registry creates a new handle
func WithCreatedHook(fn func(context.Context, channel.Handle)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.onCreated = append(r.onCreated, fn)
		}
	}
}

// New creates a registry for role over folder
func New(role channel.Role, folder Folder, opts ...Option) (*Registry, error) {
	if !role.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "New", "check role")
	}
	if folder == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Registry", "New", "check folder")
	}

	r := &Registry{
		role:   role,
		folder: folder,
		logger: slog.Default(),
		cache:  make(map[string]channel.Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry", "role", role.String())
	return r, nil
}

// Role returns the role the registry was built for
func (r *Registry) Role() channel.Role {
	return r.role
}

// OnCreated adds a hook that runs after this registry creates a new handle
func (r *Registry) OnCreated(fn func(context.Context, channel.Handle)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onCreated = append(r.onCreated, fn)
	r.mu.Unlock()
}

// Folder returns the backing folder
func (r *Registry) Folder() Folder {
	return r.folder
}

func check(token channel.Token, kind channel.Kind) error {
	if err := token.Validate(); err != nil {
		return err
	}
	if !kind.Valid() {
		return errors.WrapInvalid(channel.ErrKindMismatch, "Registry", "Resolve", "check kind")
	}
	return nil
}

// Cached returns a handle this process already resolved
func (r *Registry) Cached(token channel.Token, kind channel.Kind) (channel.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.cache[channel.Name(kind, token)]
	return h, ok
}

// Remember caches a handle obtained outside the folder, such as through provisioning
func (r *Registry) Remember(h channel.Handle) error {
	if err := h.Validate(); err != nil {
		return err
	}
	r.store(h)
	return nil
}

// store caches h unless a handle for the same name is already cached, and returns the cached one
func (r *Registry) store(h channel.Handle) channel.Handle {
	r.mu.Lock()
	if existing, ok := r.cache[h.Name()]; ok {
		r.mu.Unlock()
		return existing
	}
	r.cache[h.Name()] = h
	n := len(r.cache)
	r.mu.Unlock()

	r.metrics.SetChannels(n)
	return h
}

// Resolve returns the handle for token. On the server it finds or creates the
// handle atomically; on the client it waits until the server has created it,
// bounded only by ctx.
func (r *Registry) Resolve(ctx context.Context, token channel.Token, kind channel.Kind) (channel.Handle, error) {
	if err := check(token, kind); err != nil {
		r.metrics.RecordResolve(r.role.String(), kind.String(), "invalid")
		return channel.Handle{}, err
	}

	if h, ok := r.Cached(token, kind); ok {
		r.metrics.RecordResolve(r.role.String(), kind.String(), "cached")
		return h, nil
	}

	if r.role == channel.RoleServer {
		return r.resolveServer(ctx, token, kind)
	}
	return r.resolveClient(ctx, token, kind)
}

func (r *Registry) resolveServer(ctx context.Context, token channel.Token, kind channel.Kind) (channel.Handle, error) {
	h, created, err := r.folder.GetOrCreate(ctx, channel.NewHandle(kind, token))
	if err != nil {
		r.metrics.RecordResolve(r.role.String(), kind.String(), "error")
		return channel.Handle{}, errors.Wrap(err, "Registry", "Resolve", "find or create "+channel.Name(kind, token))
	}

	result := "found"
	if created {
		result = "created"
		r.logger.Info("Created channel", "token", token, "kind", kind.String(), "id", h.ID)
		r.mu.RLock()
		hooks := slices.Clone(r.onCreated)
		r.mu.RUnlock()
		for _, fn := range hooks {
			fn(ctx, h)
		}
	}
	r.metrics.RecordResolve(r.role.String(), kind.String(), result)
	return r.store(h), nil
}

func (r *Registry) resolveClient(ctx context.Context, token channel.Token, kind channel.Kind) (channel.Handle, error) {
	r.logger.Debug("Waiting for channel", "token", token, "kind", kind.String())

	h, err := r.folder.WaitFor(ctx, kind, token)
	if err != nil {
		r.metrics.RecordResolve(r.role.String(), kind.String(), "error")
		return channel.Handle{}, errors.Wrap(err, "Registry", "Resolve", "wait for "+channel.Name(kind, token))
	}
	r.metrics.RecordResolve(r.role.String(), kind.String(), "found")
	return r.store(h), nil
}

// Lookup finds a handle without creating or waiting. It is legal on both roles.
func (r *Registry) Lookup(ctx context.Context, token channel.Token, kind channel.Kind) (channel.Handle, bool, error) {
	if err := check(token, kind); err != nil {
		return channel.Handle{}, false, err
	}
	if h, ok := r.Cached(token, kind); ok {
		return h, true, nil
	}

	h, ok, err := r.folder.Get(ctx, kind, token)
	if err != nil {
		return channel.Handle{}, false, errors.Wrap(err, "Registry", "Lookup", "get "+channel.Name(kind, token))
	}
	if !ok {
		return channel.Handle{}, false, nil
	}
	return r.store(h), true, nil
}

// List returns every handle in the folder
func (r *Registry) List(ctx context.Context) ([]channel.Handle, error) {
	handles, err := r.folder.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "List", "list folder")
	}
	return handles, nil
}

// Ping checks that the folder answers a lookup
func (r *Registry) Ping(ctx context.Context) error {
	_, _, err := r.folder.Get(ctx, channel.KindEvent, "core.ping")
	return err
}
