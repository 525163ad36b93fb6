package transport

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/networker/errors"
	"github.com/c360/networker/natsclient"
)

// NATS adapts a connected natsclient.Client. Closing the adapter removes the
// subscriptions it created; the client itself stays open for its owner.
type NATS struct {
	client *natsclient.Client

	mu     sync.Mutex
	subs   map[*natsclient.Subscription]struct{}
	closed bool
}

// NewNATS wraps client
func NewNATS(client *natsclient.Client) *NATS {
	return &NATS{
		client: client,
		subs:   make(map[*natsclient.Subscription]struct{}),
	}
}

type natsSub struct {
	owner *NATS
	sub   *natsclient.Subscription
}

func (s natsSub) Unsubscribe() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s.sub)
	s.owner.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (n *NATS) track(sub *natsclient.Subscription) (Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		_ = sub.Unsubscribe()
		return nil, ErrClosed
	}
	n.subs[sub] = struct{}{}
	return natsSub{owner: n, sub: sub}, nil
}

func (n *NATS) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// mapError folds connection-level failures into ErrClosed
func mapError(err error) error {
	switch {
	case stderrors.Is(err, natsclient.ErrNotConnected),
		stderrors.Is(err, nats.ErrConnectionClosed),
		stderrors.Is(err, nats.ErrConnectionDraining):
		return ErrClosed
	case stderrors.Is(err, nats.ErrNoResponders):
		return ErrNoResponders
	case stderrors.Is(err, nats.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

// Publish sends data on subject
func (n *NATS) Publish(ctx context.Context, subject string, data []byte) error {
	if n.isClosed() {
		return errors.WrapTransient(ErrClosed, "NATS", "Publish", "publish "+subject)
	}
	if err := n.client.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(mapError(err), "NATS", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe delivers messages on subject to handler
func (n *NATS) Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if n.isClosed() {
		return nil, errors.WrapTransient(ErrClosed, "NATS", "Subscribe", "subscribe "+subject)
	}
	sub, err := n.client.Subscribe(ctx, subject, func(msgCtx context.Context, data []byte) {
		handler(msgCtx, data)
	})
	if err != nil {
		return nil, errors.WrapTransient(mapError(err), "NATS", "Subscribe", "subscribe "+subject)
	}
	return n.track(sub)
}

// Request sends data and waits for a single reply
func (n *NATS) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if n.isClosed() {
		return nil, errors.WrapTransient(ErrClosed, "NATS", "Request", "request "+subject)
	}
	resp, err := n.client.Request(ctx, subject, data, timeout)
	if err != nil {
		if ctx.Err() != nil && !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.WrapTransient(ctx.Err(), "NATS", "Request", "request "+subject)
		}
		return nil, errors.WrapTransient(mapError(err), "NATS", "Request", "request "+subject)
	}
	return resp, nil
}

// Reply serves requests on subject
func (n *NATS) Reply(ctx context.Context, subject string, handler RequestHandler) (Subscription, error) {
	if n.isClosed() {
		return nil, errors.WrapTransient(ErrClosed, "NATS", "Reply", "serve "+subject)
	}
	sub, err := n.client.Reply(ctx, subject, func(reqCtx context.Context, data []byte) ([]byte, error) {
		return handler(reqCtx, data)
	})
	if err != nil {
		return nil, errors.WrapTransient(mapError(err), "NATS", "Reply", "serve "+subject)
	}
	return n.track(sub)
}

// Close removes the adapter's subscriptions
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = make(map[*natsclient.Subscription]struct{})
	n.mu.Unlock()

	var errs []error
	for sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Healthy reports whether the underlying connection is up
func (n *NATS) Healthy() bool {
	return !n.isClosed() && n.client.IsHealthy()
}
