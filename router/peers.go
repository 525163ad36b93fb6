package router

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
	"github.com/c360/networker/metric"
)

// PresenceType tags join and leave announcements
var PresenceType = message.Type{Domain: "core", Category: "presence", Version: "v1"}

// Presence announces a peer joining or leaving
type Presence struct {
	Peer channel.PeerID `json:"peer"`
}

// Schema implements message.Payload
func (Presence) Schema() message.Type { return PresenceType }

// Validate implements message.Payload
func (p Presence) Validate() error {
	if p.Peer == 0 {
		return errors.WrapInvalid(message.ErrInvalidPayload, "Presence", "Validate", "peer is zero")
	}
	return nil
}

// peerSet tracks the connected peers on the server
type peerSet struct {
	metrics *metric.Metrics

	mu       sync.Mutex
	peers    map[channel.PeerID]struct{}
	watchers map[channel.PeerID]map[uint64]func()
	next     uint64

	joined  listeners[func(context.Context, channel.PeerID)]
	leaving listeners[func(context.Context, channel.PeerID)]
}

func newPeerSet(m *metric.Metrics) *peerSet {
	return &peerSet{
		metrics:  m,
		peers:    make(map[channel.PeerID]struct{}),
		watchers: make(map[channel.PeerID]map[uint64]func()),
	}
}

// join adds peer and reports whether it was new
func (s *peerSet) join(peer channel.PeerID) bool {
	s.mu.Lock()
	_, ok := s.peers[peer]
	if !ok {
		s.peers[peer] = struct{}{}
	}
	n := len(s.peers)
	s.mu.Unlock()

	s.metrics.SetPeers(n)
	return !ok
}

// leave removes peer, fires its leave watchers and reports whether it was present
func (s *peerSet) leave(peer channel.PeerID) bool {
	s.mu.Lock()
	_, ok := s.peers[peer]
	delete(s.peers, peer)
	watchers := s.watchers[peer]
	delete(s.watchers, peer)
	n := len(s.peers)
	s.mu.Unlock()

	s.metrics.SetPeers(n)
	for _, fn := range watchers {
		fn()
	}
	return ok
}

func (s *peerSet) connected(peer channel.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[peer]
	return ok
}

func (s *peerSet) list() []channel.PeerID {
	s.mu.Lock()
	out := make([]channel.PeerID, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}

// watch runs fn once when peer leaves. It returns false without registering
// when the peer is not connected.
func (s *peerSet) watch(peer channel.PeerID, fn func()) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peer]; !ok {
		return nil, false
	}
	s.next++
	id := s.next
	if s.watchers[peer] == nil {
		s.watchers[peer] = make(map[uint64]func())
	}
	s.watchers[peer][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[peer], id)
	}, true
}

func (s *peerSet) clear() {
	s.mu.Lock()
	s.peers = make(map[channel.PeerID]struct{})
	s.watchers = make(map[channel.PeerID]map[uint64]func())
	s.mu.Unlock()
	s.metrics.SetPeers(0)
}

// Peers returns the connected peers, sorted. It is empty on a client.
func (r *Router) Peers() []channel.PeerID {
	return r.peers.list()
}

// Connected reports whether peer is connected to this server
func (r *Router) Connected(peer channel.PeerID) bool {
	return r.peers.connected(peer)
}

// OnPeerJoined registers fn to run when a peer joins. Server only.
func (r *Router) OnPeerJoined(fn func(context.Context, channel.PeerID)) (channel.Unlinker, error) {
	if err := r.violation(channel.RoleServer, "Router", "OnPeerJoined"); err != nil {
		return nil, err
	}
	return r.peers.joined.add(fn), nil
}

// OnPeerLeaving registers fn to run when a peer leaves. The peer is already
// gone from Peers when fn runs. Server only.
func (r *Router) OnPeerLeaving(fn func(context.Context, channel.PeerID)) (channel.Unlinker, error) {
	if err := r.violation(channel.RoleServer, "Router", "OnPeerLeaving"); err != nil {
		return nil, err
	}
	return r.peers.leaving.add(fn), nil
}

func (r *Router) watchPresence() error {
	join, leave := r.subjects.PresenceJoin(), r.subjects.PresenceLeave()
	if err := r.subscribe(join, func(ctx context.Context, data []byte) {
		r.onPresence(ctx, join, data, true)
	}); err != nil {
		return err
	}
	return r.subscribe(leave, func(ctx context.Context, data []byte) {
		r.onPresence(ctx, leave, data, false)
	})
}

// onPresence runs presence listeners inline, so one peer's join and leave
// handlers never overlap within a subject.
func (r *Router) onPresence(ctx context.Context, subject string, data []byte, joined bool) {
	p, env, err := message.Decode[Presence](r.payloads, data)
	if err != nil {
		r.drop("invalid", subject, err)
		return
	}
	if env.Sender != 0 && env.Sender != p.Peer {
		r.drop("spoofed", subject, fmt.Errorf("sender %d announced peer %d", env.Sender, p.Peer))
		return
	}

	set, verb := &r.peers.leaving, "left"
	if joined {
		if !r.peers.join(p.Peer) {
			return
		}
		set, verb = &r.peers.joined, "joined"
	} else if !r.peers.leave(p.Peer) {
		return
	}

	r.logger.Info("Peer "+verb, "peer", p.Peer)
	for _, l := range set.snapshot() {
		if l.linked.Load() {
			r.runGuarded(ctx, func(ctx context.Context) { l.fn(ctx, p.Peer) })
		}
	}
}

// runGuarded runs fn and logs a panic instead of unwinding the caller
func (r *Router) runGuarded(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Listener panicked", "panic", rec)
		}
	}()
	fn(ctx)
}

func (r *Router) announce(ctx context.Context, subject string) error {
	data, err := message.Encode(Presence{Peer: r.peer}, r.peer)
	if err != nil {
		return err
	}
	if err := r.tr.Publish(ctx, subject, data); err != nil {
		return errors.Wrap(err, "Router", "announce", subject)
	}
	return nil
}

func init() {
	if err := message.Default.Register(&message.Registration{
		Type:        PresenceType,
		Description: "peer join or leave announcement",
		Factory:     func() message.Payload { return &Presence{} },
		JSONSchema:  `{"type":"object","properties":{"peer":{"type":"integer","minimum":1}},"required":["peer"]}`,
	}); err != nil {
		panic("failed to register presence payload: " + err.Error())
	}
}
