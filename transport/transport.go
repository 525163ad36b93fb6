// Package transport defines the message plumbing the router runs on: subject
// based publish/subscribe plus request/reply. Implementations are an
// in-process bus, a NATS adapter and the WebSocket gateway client.
package transport

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/c360/networker/errors"
)

// Transport errors. All of them are transient: the same call may succeed later.
var (
	ErrNoResponders = stderrors.New("no responders for subject")
	ErrTimeout      = stderrors.New("request timed out")
	ErrClosed       = stderrors.New("transport closed")
)

// Handler receives published messages
type Handler func(ctx context.Context, data []byte)

// RequestHandler answers a request. Returning an error leaves the request
// unanswered, so the requester sees a timeout.
type RequestHandler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription is a live subscription or reply registration
type Subscription interface {
	Unsubscribe() error
}

// Transport carries opaque payloads between router instances
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error)
	// Request waits for one reply. A positive timeout bounds the wait on top of ctx.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)
	// Reply serves requests on subject, one goroutine per request.
	Reply(ctx context.Context, subject string, handler RequestHandler) (Subscription, error)
	Close() error
}

// HealthReporter is implemented by transports that can report liveness
type HealthReporter interface {
	Healthy() bool
}

// requestContext applies timeout to ctx when positive
func requestContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// timeoutError maps an ended request context to ErrTimeout or the caller's cancellation
func timeoutError(ctx context.Context, component, subject string) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.WrapTransient(ErrTimeout, component, "Request", "request "+subject)
	}
	return errors.WrapTransient(ctx.Err(), component, "Request", "request "+subject)
}
