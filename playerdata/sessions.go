package playerdata

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
)

// Sessions owns the Details of every connected player and persists them
// through a Store.
type Sessions struct {
	store  Store
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[channel.PeerID]*Details
	waiters  map[channel.PeerID]chan struct{}

	hooksMu sync.RWMutex
	opened  []func(*Details)
	saved   []func(*Details)
}

// SessionsOption configures Sessions
type SessionsOption func(*Sessions)

// WithSessionLogger sets the logger
func WithSessionLogger(logger *slog.Logger) SessionsOption {
	return func(s *Sessions) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessions creates an empty session set over store
func NewSessions(store Store, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		store:    store,
		logger:   slog.Default(),
		sessions: make(map[channel.PeerID]*Details),
		waiters:  make(map[channel.PeerID]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnOpened registers fn to run after a session is loaded
func (s *Sessions) OnOpened(fn func(*Details)) {
	s.hooksMu.Lock()
	s.opened = append(s.opened, fn)
	s.hooksMu.Unlock()
}

// OnSaved registers fn to run after a session was written to the store
func (s *Sessions) OnSaved(fn func(*Details)) {
	s.hooksMu.Lock()
	s.saved = append(s.saved, fn)
	s.hooksMu.Unlock()
}

func (s *Sessions) run(hooks *[]func(*Details), d *Details) {
	s.hooksMu.RLock()
	fns := slices.Clone(*hooks)
	s.hooksMu.RUnlock()
	for _, fn := range fns {
		fn(d)
	}
}

// Open loads the record for peer. Opening a peer that already has a session
// returns the existing one.
func (s *Sessions) Open(ctx context.Context, peer channel.PeerID) (*Details, error) {
	if d, ok := s.Get(peer); ok {
		return d, nil
	}

	data, err := s.store.Load(ctx, peer)
	if err != nil {
		return nil, errors.Wrap(err, "Sessions", "Open", "load player "+peer.String())
	}

	s.mu.Lock()
	if d, ok := s.sessions[peer]; ok {
		s.mu.Unlock()
		return d, nil
	}
	d := NewDetails(peer, data)
	s.sessions[peer] = d
	if ready, ok := s.waiters[peer]; ok {
		close(ready)
		delete(s.waiters, peer)
	}
	s.mu.Unlock()

	s.logger.Debug("Player session opened", "peer", peer)
	s.run(&s.opened, d)
	return d, nil
}

// Get returns the open session for peer
func (s *Sessions) Get(peer channel.PeerID) (*Details, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[peer]
	return d, ok
}

// Wait returns the session for peer, blocking until Open has loaded it or
// ctx ends
func (s *Sessions) Wait(ctx context.Context, peer channel.PeerID) (*Details, error) {
	for {
		s.mu.Lock()
		if d, ok := s.sessions[peer]; ok {
			s.mu.Unlock()
			return d, nil
		}
		ready, ok := s.waiters[peer]
		if !ok {
			ready = make(chan struct{})
			s.waiters[peer] = ready
		}
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, errors.WrapTransient(fmt.Errorf("no data loaded for %s: %w", peer, ctx.Err()),
				"Sessions", "Wait", "wait for player "+peer.String())
		}
	}
}

// Len returns the number of open sessions
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Save writes the current record of peer
func (s *Sessions) Save(ctx context.Context, peer channel.PeerID) error {
	d, ok := s.Get(peer)
	if !ok {
		return errors.WrapInvalid(channel.ErrPeerGone, "Sessions", "Save", "look up player "+peer.String())
	}
	return s.save(ctx, d)
}

func (s *Sessions) save(ctx context.Context, d *Details) error {
	if err := s.store.Save(ctx, d.Peer(), d.Snapshot()); err != nil {
		return errors.Wrap(err, "Sessions", "Save", "save player "+d.Peer().String())
	}
	s.run(&s.saved, d)
	return nil
}

// Close saves the record of peer and ends its session. The session is
// dropped even when the save fails.
func (s *Sessions) Close(ctx context.Context, peer channel.PeerID) error {
	s.mu.Lock()
	d, ok := s.sessions[peer]
	delete(s.sessions, peer)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.save(ctx, d)
	if err != nil {
		s.logger.Error("Failed to save player on close", "peer", peer, "error", err)
	}
	s.logger.Debug("Player session closed", "peer", peer)
	return err
}

// SaveAll saves every open session concurrently and returns the first error
func (s *Sessions) SaveAll(ctx context.Context) error {
	s.mu.RLock()
	all := make([]*Details, 0, len(s.sessions))
	for _, d := range s.sessions {
		all = append(all, d)
	}
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, d := range all {
		g.Go(func() error {
			return s.save(gctx, d)
		})
	}
	return g.Wait()
}

// Run saves every session each interval until ctx ends, then saves once more
func (s *Sessions) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Sessions", "Run", "autosave interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return s.SaveAll(final)
		case <-ticker.C:
			if err := s.SaveAll(ctx); err != nil {
				s.logger.Warn("Autosave failed", "error", err)
			}
		}
	}
}
