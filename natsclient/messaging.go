package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/networker/errors"
)

// Subscription is a handle to a single subject subscription on the client
type Subscription struct {
	client *Client
	sub    *nats.Subscription
	once   sync.Once
	err    error
}

// Subject returns the subscribed subject
func (s *Subscription) Subject() string {
	return s.sub.Subject
}

// Unsubscribe removes the subscription. Repeat calls return the first result.
func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s.sub)
		s.client.mu.Unlock()

		if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			s.err = errors.Wrap(err, "Subscription", "Unsubscribe", "unsubscribe "+s.sub.Subject)
		}
	})
	return s.err
}

func (m *Client) track(sub *nats.Subscription) *Subscription {
	m.subs[sub] = struct{}{}
	return &Subscription{client: m, sub: sub}
}

// Subscribe subscribes to a subject. Each message handler receives a context
// derived from ctx with the client's reply timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	timeout := m.replyTimeout
	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	return m.track(sub), nil
}

// Publish publishes a message to a subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.connected()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// Request sends data to subject and waits for a single reply. A positive
// timeout bounds the wait in addition to ctx. The raw nats errors
// (nats.ErrNoResponders, context.DeadlineExceeded) are returned unwrapped.
func (m *Client) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	conn, err := m.connected()
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Reply serves requests on subject. Every request runs on its own goroutine,
// so a slow handler never blocks later requests on the same subject. A
// handler error leaves the request unanswered and is logged.
func (m *Client) Reply(ctx context.Context, subject string, handler func(context.Context, []byte) ([]byte, error)) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	timeout := m.replyTimeout
	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			m.logger.Debugf("Dropping request on %s without reply subject", subject)
			return
		}
		go func() {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			resp, err := handler(reqCtx, msg.Data)
			if err != nil {
				m.logger.Errorf("Request handler on %s failed: %v", subject, err)
				return
			}
			if err := msg.Respond(resp); err != nil {
				m.logger.Errorf("Respond on %s failed: %v", subject, err)
			}
		}()
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Reply", "subscribe "+subject)
	}

	return m.track(sub), nil
}
