package router

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
	"github.com/c360/networker/pkg/retry"
	"github.com/c360/networker/transport"
)

// Retry delays while a peer has not opened the channel InvokeClient targets
const (
	unopenedBackoff    = 10 * time.Millisecond
	maxUnopenedBackoff = 200 * time.Millisecond
)

// ErrRemote wraps an error returned by the callback on the other side
var ErrRemote = stderrors.New("remote callback failed")

// Function is a request/response channel. The server answers SReq with SResp
// and the client answers CReq with CResp.
//
// Each side serves its requests from the moment the channel is opened.
// Requests that arrive before a callback is bound wait for the bind, or
// until their deadline passes.
type Function[SReq, SResp, CReq, CResp message.Payload] struct {
	r      *Router
	handle channel.Handle

	mu       sync.RWMutex
	serverCb func(context.Context, channel.PeerID, SReq) (SResp, error)
	clientCb func(context.Context, CReq) (CResp, error)
	bound    chan struct{}
	bindOnce sync.Once
}

func newFunction[SReq, SResp, CReq, CResp message.Payload](r *Router, h channel.Handle) (*Function[SReq, SResp, CReq, CResp], error) {
	f := &Function[SReq, SResp, CReq, CResp]{r: r, handle: h, bound: make(chan struct{})}

	var err error
	if r.role == channel.RoleServer {
		err = r.reply(r.subjects.FunctionServer(h), f.serveServer)
	} else {
		err = r.reply(r.subjects.FunctionPeer(h, r.peer), f.serveClient)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Handle returns the channel's handle
func (f *Function[SReq, SResp, CReq, CResp]) Handle() channel.Handle {
	return f.handle
}

// SetServerCallback binds the server's handler, replacing any previous one.
// Server only.
func (f *Function[SReq, SResp, CReq, CResp]) SetServerCallback(fn func(ctx context.Context, from channel.PeerID, req SReq) (SResp, error)) error {
	if err := f.r.violation(channel.RoleServer, "Function", "SetServerCallback"); err != nil {
		return err
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Function", "SetServerCallback", "nil callback")
	}
	f.mu.Lock()
	f.serverCb = fn
	f.mu.Unlock()
	f.bindOnce.Do(func() { close(f.bound) })
	return nil
}

// SetClientCallback binds the client's handler, replacing any previous one.
// Client only.
func (f *Function[SReq, SResp, CReq, CResp]) SetClientCallback(fn func(ctx context.Context, req CReq) (CResp, error)) error {
	if err := f.r.violation(channel.RoleClient, "Function", "SetClientCallback"); err != nil {
		return err
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Function", "SetClientCallback", "nil callback")
	}
	f.mu.Lock()
	f.clientCb = fn
	f.mu.Unlock()
	f.bindOnce.Do(func() { close(f.bound) })
	return nil
}

// InvokeServer sends req to the server and waits up to timeout for the
// response. Client only.
func (f *Function[SReq, SResp, CReq, CResp]) InvokeServer(ctx context.Context, timeout time.Duration, req SReq) (SResp, error) {
	var zero SResp
	if err := f.r.violation(channel.RoleClient, "Function", "InvokeServer"); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		return zero, errors.WrapInvalid(fmt.Errorf("%w: timeout must be positive", errors.ErrInvalidConfig),
			"Function", "InvokeServer", "check timeout")
	}
	return invoke[SResp](ctx, f.r, "c2s", f.handle, f.r.subjects.FunctionServer(f.handle), timeout, req)
}

// InvokeServerWithRetry retries InvokeServer on transient failures only
func (f *Function[SReq, SResp, CReq, CResp]) InvokeServerWithRetry(ctx context.Context, timeout time.Duration, cfg retry.Config, req SReq) (SResp, error) {
	resp, err := retry.DoWithResult(ctx, cfg, func() (SResp, error) {
		resp, err := f.InvokeServer(ctx, timeout, req)
		return resp, errors.ForRetry(err)
	})
	var nre *retry.NonRetryableError
	if stderrors.As(err, &nre) {
		return resp, nre.Err
	}
	return resp, err
}

// InvokeClient sends req to peer and waits up to timeout for the response.
// A peer that has not opened or bound the channel yet keeps the call blocked
// until it does, the timeout passes, or the peer leaves. It fails with
// channel.ErrPeerGone if the peer is not connected or leaves before
// answering. Server only.
func (f *Function[SReq, SResp, CReq, CResp]) InvokeClient(ctx context.Context, peer channel.PeerID, timeout time.Duration, req CReq) (CResp, error) {
	var zero CResp
	if err := f.r.violation(channel.RoleServer, "Function", "InvokeClient"); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		return zero, errors.WrapInvalid(fmt.Errorf("%w: timeout must be positive", errors.ErrInvalidConfig),
			"Function", "InvokeClient", "check timeout")
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unwatch, ok := f.r.peers.watch(peer, func() { cancel(channel.ErrPeerGone) })
	if !ok {
		f.r.metrics.RecordInvocation("s2c", "peer_gone", 0)
		return zero, errors.WrapTransient(channel.ErrPeerGone, "Function", "InvokeClient", fmt.Sprintf("peer %d", peer))
	}
	defer unwatch()

	subject := f.r.subjects.FunctionPeer(f.handle, peer)
	deadline := time.Now().Add(timeout)
	backoff := unopenedBackoff
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, errors.WrapTransient(transport.ErrTimeout, "Function", "InvokeClient",
				fmt.Sprintf("peer %d never opened %s", peer, f.handle.Name()))
		}
		resp, err := invoke[CResp](callCtx, f.r, "s2c", f.handle, subject, remaining, req)
		if err != nil && stderrors.Is(context.Cause(callCtx), channel.ErrPeerGone) {
			return zero, errors.WrapTransient(channel.ErrPeerGone, "Function", "InvokeClient", fmt.Sprintf("peer %d left", peer))
		}
		if !stderrors.Is(err, transport.ErrNoResponders) {
			return resp, err
		}

		// the peer has not opened the channel yet
		timer := time.NewTimer(min(backoff, time.Until(deadline)))
		select {
		case <-timer.C:
		case <-callCtx.Done():
			timer.Stop()
			if stderrors.Is(context.Cause(callCtx), channel.ErrPeerGone) {
				return zero, errors.WrapTransient(channel.ErrPeerGone, "Function", "InvokeClient", fmt.Sprintf("peer %d left", peer))
			}
			return zero, errors.WrapTransient(callCtx.Err(), "Function", "InvokeClient", "wait for "+f.handle.Name())
		}
		backoff = min(backoff*2, maxUnopenedBackoff)
	}
}

// invoke runs one request and decodes the reply as Resp
func invoke[Resp message.Payload](ctx context.Context, r *Router, direction string, h channel.Handle,
	subject string, timeout time.Duration, req message.Payload) (Resp, error) {
	var zero Resp
	start := time.Now()

	data, err := message.Encode(req, r.peer)
	if err != nil {
		r.metrics.RecordInvocation(direction, "invalid", time.Since(start))
		return zero, err
	}
	raw, err := r.tr.Request(ctx, subject, data, timeout)
	if err != nil {
		r.metrics.RecordInvocation(direction, "transport_error", time.Since(start))
		return zero, errors.Wrap(err, "Function", "invoke", "request "+h.Name())
	}
	r.metrics.RecordSent("function", direction)

	resp, env, err := message.Decode[Resp](r.payloads, raw)
	if err != nil {
		r.metrics.RecordInvocation(direction, "invalid", time.Since(start))
		return zero, err
	}
	if env.Error != "" {
		r.metrics.RecordInvocation(direction, "remote_error", time.Since(start))
		return zero, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrRemote, env.Error), "Function", "invoke", "call "+h.Name())
	}
	r.metrics.RecordInvocation(direction, "ok", time.Since(start))
	return resp, nil
}

// waitBound parks a request until a callback is bound or ctx ends
func (f *Function[SReq, SResp, CReq, CResp]) waitBound(ctx context.Context) error {
	select {
	case <-f.bound:
		return nil
	default:
	}
	f.r.logger.Debug("Request parked until a callback is bound", "name", f.handle.Name())
	select {
	case <-f.bound:
		return nil
	case <-ctx.Done():
		f.r.metrics.RecordDropped("unbound")
		return ctx.Err()
	}
}

func (f *Function[SReq, SResp, CReq, CResp]) serveServer(ctx context.Context, data []byte) ([]byte, error) {
	req, env, err := message.Decode[SReq](f.r.payloads, data)
	if err == nil && env.Sender == 0 {
		err = errors.WrapInvalid(message.ErrInvalidPayload, "Function", "serveServer", "client request without sender")
	}
	if err != nil {
		f.r.drop("invalid", f.r.subjects.FunctionServer(f.handle), err)
		return message.EncodeError("invalid request: "+err.Error(), 0), nil
	}
	f.r.metrics.RecordReceived("function", "c2s")

	if err := f.waitBound(ctx); err != nil {
		return nil, err
	}
	f.mu.RLock()
	cb := f.serverCb
	f.mu.RUnlock()

	var resp SResp
	err = f.guard(func() error {
		var cbErr error
		resp, cbErr = cb(ctx, env.Sender, req)
		return cbErr
	})
	return f.encodeReply(resp, err, 0), nil
}

func (f *Function[SReq, SResp, CReq, CResp]) serveClient(ctx context.Context, data []byte) ([]byte, error) {
	req, _, err := message.Decode[CReq](f.r.payloads, data)
	if err != nil {
		f.r.drop("invalid", f.r.subjects.FunctionPeer(f.handle, f.r.peer), err)
		return message.EncodeError("invalid request: "+err.Error(), f.r.peer), nil
	}
	f.r.metrics.RecordReceived("function", "s2c")

	if err := f.waitBound(ctx); err != nil {
		return nil, err
	}
	f.mu.RLock()
	cb := f.clientCb
	f.mu.RUnlock()

	var resp CResp
	err = f.guard(func() error {
		var cbErr error
		resp, cbErr = cb(ctx, req)
		return cbErr
	})
	return f.encodeReply(resp, err, f.r.peer), nil
}

// guard turns a callback panic into an error reply
func (f *Function[SReq, SResp, CReq, CResp]) guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			f.r.logger.Error("Callback panicked", "name", f.handle.Name(), "panic", rec)
			err = fmt.Errorf("callback panicked: %v", rec)
		}
	}()
	return fn()
}

func (f *Function[SReq, SResp, CReq, CResp]) encodeReply(resp message.Payload, cbErr error, sender channel.PeerID) []byte {
	if cbErr != nil {
		return message.EncodeError(cbErr.Error(), sender)
	}
	out, err := message.Encode(resp, sender)
	if err != nil {
		f.r.logger.Warn("Callback returned an invalid response", "name", f.handle.Name(), "error", err)
		return message.EncodeError("invalid response: "+err.Error(), sender)
	}
	return out
}
