package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/networker/errors"
	"github.com/c360/networker/transport"
)

// Conn is the client end of a hub connection. It implements
// transport.Transport, so a client router can run over it unchanged.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Frame
	subs    map[uint64]*clientSub
	serves  map[uint64]*clientServe

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Conn)(nil)

type clientSub struct {
	ctx     context.Context
	handler transport.Handler
	queue   chan []byte
	stop    chan struct{}
}

type clientServe struct {
	ctx     context.Context
	handler transport.RequestHandler
}

// DialOption configures Dial
type DialOption func(*dialOptions)

type dialOptions struct {
	logger           *slog.Logger
	handshakeTimeout time.Duration
}

// WithDialLogger sets the connection logger
func WithDialLogger(l *slog.Logger) DialOption {
	return func(o *dialOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket handshake
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// Dial connects to a hub at url ("ws://host/ws") using token
func Dial(ctx context.Context, url, token string, opts ...DialOption) (*Conn, error) {
	o := dialOptions{logger: slog.Default(), handshakeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.WrapInvalid(ErrUnauthorized, "Conn", "Dial", "connect "+url)
		}
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, errors.WrapInvalid(fmt.Errorf("peer already connected: %w", err), "Conn", "Dial", "connect "+url)
		}
		return nil, errors.WrapTransient(err, "Conn", "Dial", "connect "+url)
	}

	c := &Conn{
		ws:      ws,
		logger:  o.logger,
		pending: make(map[uint64]chan Frame),
		subs:    make(map[uint64]*clientSub),
		serves:  make(map[uint64]*clientServe),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Healthy reports whether the socket is still open
func (c *Conn) Healthy() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed when the connection ends
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) closedError(op, subject string) error {
	return errors.WrapTransient(transport.ErrClosed, "Conn", op, subject)
}

func (c *Conn) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.Healthy() {
		return transport.ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		c.shutdown(err)
		return transport.ErrClosed
	}
	return nil
}

// roundTrip sends f under id and waits for the matching res or err
func (c *Conn) roundTrip(ctx context.Context, id uint64, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	f.ID = id
	if err := c.write(f); err != nil {
		return Frame{}, err
	}
	select {
	case answer := <-ch:
		if answer.Op == OpErr {
			return answer, frameError(answer)
		}
		return answer, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, transport.ErrClosed
	}
}

// frameError maps an err frame to the matching transport error
func frameError(f Frame) error {
	switch f.Code {
	case CodeNoResponders:
		return fmt.Errorf("%w: %s", transport.ErrNoResponders, f.Error)
	case CodeTimeout:
		return fmt.Errorf("%w: %s", transport.ErrTimeout, f.Error)
	case CodeClosed:
		return fmt.Errorf("%w: %s", transport.ErrClosed, f.Error)
	default:
		return fmt.Errorf("%s: %s", f.Code, f.Error)
	}
}

func classify(err error, op, subject string) error {
	switch {
	case stderrors.Is(err, transport.ErrNoResponders), stderrors.Is(err, transport.ErrTimeout),
		stderrors.Is(err, transport.ErrClosed), stderrors.Is(err, context.Canceled):
		return errors.WrapTransient(err, "Conn", op, subject)
	default:
		return errors.WrapInvalid(err, "Conn", op, subject)
	}
}

// Publish implements transport.Transport
func (c *Conn) Publish(_ context.Context, subject string, data []byte) error {
	if err := c.write(Frame{Op: OpPub, Subject: subject, Data: data}); err != nil {
		return c.closedError("Publish", "publish "+subject)
	}
	return nil
}

// Subscribe implements transport.Transport. The hub acknowledges the
// subscription before Subscribe returns, so later publishes are delivered.
func (c *Conn) Subscribe(ctx context.Context, subject string, handler transport.Handler) (transport.Subscription, error) {
	if !c.Healthy() {
		return nil, c.closedError("Subscribe", "subscribe "+subject)
	}
	id := c.nextID.Add(1)
	sub := &clientSub{ctx: ctx, handler: handler, queue: make(chan []byte, 256), stop: make(chan struct{})}
	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()

	if _, err := c.roundTrip(ctx, id, Frame{Op: OpSub, Subject: subject}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, classify(err, "Subscribe", "subscribe "+subject)
	}

	go sub.deliver()
	return c.unsubscriber(id, sub.stop), nil
}

func (s *clientSub) deliver() {
	for {
		select {
		case data := <-s.queue:
			s.handler(s.ctx, data)
		case <-s.stop:
			return
		}
	}
}

type unsubscriber struct {
	once sync.Once
	fn   func()
}

func (u *unsubscriber) Unsubscribe() error {
	u.once.Do(u.fn)
	return nil
}

func (c *Conn) unsubscriber(id uint64, stop chan struct{}) transport.Subscription {
	return &unsubscriber{fn: func() {
		c.mu.Lock()
		delete(c.subs, id)
		delete(c.serves, id)
		c.mu.Unlock()
		if stop != nil {
			close(stop)
		}
		_ = c.write(Frame{Op: OpUnsub, ID: id})
	}}
}

// Request implements transport.Transport
func (c *Conn) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if !c.Healthy() {
		return nil, c.closedError("Request", "request "+subject)
	}
	rctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	f := Frame{Op: OpReq, Subject: subject, Data: data}
	if deadline, ok := rctx.Deadline(); ok {
		f.TimeoutMS = max(time.Until(deadline).Milliseconds(), 1)
	}
	answer, err := c.roundTrip(rctx, c.nextID.Add(1), f)
	if err != nil {
		if rctx.Err() != nil && ctx.Err() == nil {
			return nil, errors.WrapTransient(transport.ErrTimeout, "Conn", "Request", "request "+subject)
		}
		return nil, classify(err, "Request", "request "+subject)
	}
	return answer.Data, nil
}

// Reply implements transport.Transport. Each call runs in its own goroutine.
func (c *Conn) Reply(ctx context.Context, subject string, handler transport.RequestHandler) (transport.Subscription, error) {
	if !c.Healthy() {
		return nil, c.closedError("Reply", "serve "+subject)
	}
	id := c.nextID.Add(1)
	c.mu.Lock()
	c.serves[id] = &clientServe{ctx: ctx, handler: handler}
	c.mu.Unlock()

	if _, err := c.roundTrip(ctx, id, Frame{Op: OpServe, Subject: subject}); err != nil {
		c.mu.Lock()
		delete(c.serves, id)
		c.mu.Unlock()
		return nil, classify(err, "Reply", "serve "+subject)
	}
	return c.unsubscriber(id, nil), nil
}

// Close closes the socket. Pending calls fail with ErrClosed.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	if c.Healthy() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		if cause != nil {
			c.logger.Debug("Gateway connection closed", "error", cause)
		}
	})
}

func (c *Conn) readLoop() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("Malformed frame from hub", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f Frame) {
	switch f.Op {
	case OpRes, OpErr:
		c.mu.Lock()
		ch := c.pending[f.ID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- f:
			default:
			}
		} else if f.Op == OpErr {
			c.logger.Warn("Hub rejected frame", "code", f.Code, "error", f.Error)
		}
	case OpMsg:
		c.mu.Lock()
		sub := c.subs[f.ID]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		select {
		case sub.queue <- f.Data:
		case <-sub.stop:
		case <-c.done:
		}
	case OpCall:
		c.mu.Lock()
		serve := c.serves[f.Ref]
		c.mu.Unlock()
		if serve == nil {
			_ = c.write(Frame{Op: OpErr, ID: f.ID, Code: CodeRefused, Error: "not serving"})
			return
		}
		go c.answer(serve, f)
	}
}

func (c *Conn) answer(serve *clientServe, f Frame) {
	ctx, cancel := serve.ctx, context.CancelFunc(func() {})
	if f.TimeoutMS > 0 {
		ctx, cancel = context.WithTimeout(serve.ctx, time.Duration(f.TimeoutMS)*time.Millisecond)
	}
	defer cancel()

	resp, err := serve.handler(ctx, f.Data)
	if err != nil {
		_ = c.write(Frame{Op: OpErr, ID: f.ID, Code: CodeRefused, Error: err.Error()})
		return
	}
	_ = c.write(Frame{Op: OpRet, ID: f.ID, Data: resp})
}
