package router

import (
	"context"
	"sync"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
)

// Event is a fire-and-forget channel. C2S is what clients send to the
// server and S2C is what the server sends to clients; use message.Empty for
// a direction the channel does not use.
type Event[C2S, S2C message.Payload] struct {
	r      *Router
	handle channel.Handle

	server listeners[func(context.Context, channel.PeerID, C2S)]
	client listeners[func(context.Context, S2C)]

	mu         sync.Mutex
	subscribed bool
}

func newEvent[C2S, S2C message.Payload](r *Router, h channel.Handle) *Event[C2S, S2C] {
	return &Event[C2S, S2C]{r: r, handle: h}
}

// Handle returns the channel's handle
func (e *Event[C2S, S2C]) Handle() channel.Handle {
	return e.handle
}

// FireServer sends msg to the server without waiting. Client only.
func (e *Event[C2S, S2C]) FireServer(ctx context.Context, msg C2S) error {
	if err := e.r.violation(channel.RoleClient, "Event", "FireServer"); err != nil {
		return err
	}
	data, err := message.Encode(msg, e.r.peer)
	if err != nil {
		return err
	}
	if err := e.r.tr.Publish(ctx, e.r.subjects.EventServer(e.handle), data); err != nil {
		return errors.Wrap(err, "Event", "FireServer", "publish "+e.handle.Name())
	}
	e.r.metrics.RecordSent("event", "c2s")
	return nil
}

// FireClient sends msg to one peer. A peer that is not connected is skipped
// without error. Server only.
func (e *Event[C2S, S2C]) FireClient(ctx context.Context, peer channel.PeerID, msg S2C) error {
	if err := e.r.violation(channel.RoleServer, "Event", "FireClient"); err != nil {
		return err
	}
	data, err := message.Encode(msg, 0)
	if err != nil {
		return err
	}
	if !e.r.Connected(peer) {
		e.r.logger.Debug("Skipping event for disconnected peer", "name", e.handle.Name(), "peer", peer)
		return nil
	}
	if err := e.r.tr.Publish(ctx, e.r.subjects.EventPeer(e.handle, peer), data); err != nil {
		return errors.Wrap(err, "Event", "FireClient", "publish "+e.handle.Name())
	}
	e.r.metrics.RecordSent("event", "s2c")
	return nil
}

// Broadcast sends msg to every connected client. Server only.
func (e *Event[C2S, S2C]) Broadcast(ctx context.Context, msg S2C) error {
	if err := e.r.violation(channel.RoleServer, "Event", "Broadcast"); err != nil {
		return err
	}
	data, err := message.Encode(msg, 0)
	if err != nil {
		return err
	}
	if err := e.r.tr.Publish(ctx, e.r.subjects.EventAll(e.handle), data); err != nil {
		return errors.Wrap(err, "Event", "Broadcast", "publish "+e.handle.Name())
	}
	e.r.metrics.RecordSent("event", "broadcast")
	return nil
}

// OnServerFired registers a listener for messages from clients. Server only.
func (e *Event[C2S, S2C]) OnServerFired(fn func(ctx context.Context, from channel.PeerID, msg C2S)) (channel.Unlinker, error) {
	if err := e.r.violation(channel.RoleServer, "Event", "OnServerFired"); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Event", "OnServerFired", "nil listener")
	}
	if err := e.ensureSubscribed(); err != nil {
		return nil, err
	}
	return e.server.add(fn), nil
}

// OnClientFired registers a listener for messages from the server, both
// addressed and broadcast. Client only.
func (e *Event[C2S, S2C]) OnClientFired(fn func(ctx context.Context, msg S2C)) (channel.Unlinker, error) {
	if err := e.r.violation(channel.RoleClient, "Event", "OnClientFired"); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Event", "OnClientFired", "nil listener")
	}
	if err := e.ensureSubscribed(); err != nil {
		return nil, err
	}
	return e.client.add(fn), nil
}

func (e *Event[C2S, S2C]) ensureSubscribed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subscribed {
		return nil
	}

	s := e.r.subjects
	if e.r.role == channel.RoleServer {
		subject := s.EventServer(e.handle)
		if err := e.r.subscribe(subject, func(ctx context.Context, data []byte) {
			e.onServer(ctx, subject, data)
		}); err != nil {
			return err
		}
	} else {
		for _, subject := range []string{s.EventPeer(e.handle, e.r.peer), s.EventAll(e.handle)} {
			if err := e.r.subscribe(subject, func(ctx context.Context, data []byte) {
				e.onClient(ctx, subject, data)
			}); err != nil {
				return err
			}
		}
	}
	e.subscribed = true
	return nil
}

func (e *Event[C2S, S2C]) onServer(ctx context.Context, subject string, data []byte) {
	msg, env, err := message.Decode[C2S](e.r.payloads, data)
	if err == nil && (env.Error != "" || env.Sender == 0) {
		err = errors.WrapInvalid(message.ErrInvalidPayload, "Event", "onServer", "client event without sender")
	}
	if err != nil {
		e.r.drop("invalid", subject, err)
		return
	}
	e.r.metrics.RecordReceived("event", "c2s")

	ls := e.server.snapshot()
	if len(ls) == 0 {
		e.r.metrics.RecordDropped("no_listener")
		return
	}
	for _, l := range ls {
		e.r.dispatch(ctx, subject, func(ctx context.Context) {
			if l.linked.Load() {
				l.fn(ctx, env.Sender, msg)
			}
		})
	}
}

func (e *Event[C2S, S2C]) onClient(ctx context.Context, subject string, data []byte) {
	msg, env, err := message.Decode[S2C](e.r.payloads, data)
	if err == nil && env.Error != "" {
		err = errors.WrapInvalid(message.ErrInvalidPayload, "Event", "onClient", "error envelope on event")
	}
	if err != nil {
		e.r.drop("invalid", subject, err)
		return
	}
	e.r.metrics.RecordReceived("event", "s2c")

	ls := e.client.snapshot()
	if len(ls) == 0 {
		e.r.metrics.RecordDropped("no_listener")
		return
	}
	for _, l := range ls {
		e.r.dispatch(ctx, subject, func(ctx context.Context) {
			if l.linked.Load() {
				l.fn(ctx, msg)
			}
		})
	}
}
