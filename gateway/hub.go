package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
	"github.com/c360/networker/metric"
	"github.com/c360/networker/router"
	"github.com/c360/networker/transport"
)

const writeWait = 10 * time.Second

// Hub relays WebSocket clients onto a backend transport. Each connection is
// authenticated once; after that the hub stamps the connection's peer onto
// everything it sends and only lets it listen to its own subjects.
type Hub struct {
	cfg      Config
	tr       transport.Transport
	subjects router.Subjects
	secret   []byte
	upgrader websocket.Upgrader
	logger   *slog.Logger

	frames      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	connections prometheus.Gauge

	mu       sync.Mutex
	sessions map[channel.PeerID]*session
	closed   bool
	wg       sync.WaitGroup
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithHubLogger sets the logger
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub creates a hub relaying onto tr. secret verifies client tokens.
func NewHub(tr transport.Transport, secret []byte, cfg Config, opts ...HubOption) (*Hub, error) {
	if tr == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "NewHub", "transport is required")
	}
	if len(secret) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Hub", "NewHub", "secret is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Hub{
		cfg:      cfg,
		tr:       tr,
		subjects: router.Subjects{Namespace: cfg.Namespace},
		secret:   secret,
		logger:   slog.Default(),
		sessions: make(map[channel.PeerID]*session),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "networker",
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "WebSocket frames handled by the hub",
		}, []string{"op", "direction"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "networker",
			Subsystem: "gateway",
			Name:      "rejected_total",
			Help:      "Client frames or connections refused by the hub",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "networker",
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterMetrics adds the hub metrics to registry
func (h *Hub) RegisterMetrics(registry metric.MetricsRegistrar) error {
	if err := registry.RegisterCounterVec("gateway", "frames_total", h.frames); err != nil {
		return err
	}
	if err := registry.RegisterCounterVec("gateway", "rejected_total", h.rejected); err != nil {
		return err
	}
	return registry.RegisterGauge("gateway", "connections", h.connections)
}

// Path returns the mount path
func (h *Hub) Path() string {
	return h.cfg.Path
}

// Peers returns the peers with an open connection
func (h *Hub) Peers() []channel.PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]channel.PeerID, 0, len(h.sessions))
	for p := range h.sessions {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.cfg.AllowedOrigins) == 0 {
		return sameOrigin(r, origin)
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

func sameOrigin(r *http.Request, origin string) bool {
	for _, scheme := range []string{"http://", "https://"} {
		if origin == scheme+r.Host {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates the request, upgrades it and relays frames until
// the socket closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peer, err := ParseToken(h.secret, tokenFromRequest(r))
	if err != nil {
		h.rejected.WithLabelValues("unauthorized").Inc()
		h.logger.Debug("Rejected WebSocket connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	_, taken := h.sessions[peer]
	switch {
	case h.closed:
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case taken:
		h.mu.Unlock()
		h.rejected.WithLabelValues("duplicate").Inc()
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}
	// Reserve the peer while upgrading
	h.sessions[peer] = nil
	h.mu.Unlock()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mu.Lock()
		delete(h.sessions, peer)
		h.mu.Unlock()
		h.logger.Debug("WebSocket upgrade failed", "peer", peer, "error", err)
		return
	}

	s := newSession(h, peer, ws)
	h.mu.Lock()
	if h.closed {
		delete(h.sessions, peer)
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.sessions[peer] = s
	h.wg.Add(1)
	h.mu.Unlock()
	h.connections.Inc()
	defer h.wg.Done()

	h.logger.Info("Peer connected", "peer", peer, "remote", r.RemoteAddr)
	h.announce(peer, h.subjects.PresenceJoin())

	s.run()

	h.announce(peer, h.subjects.PresenceLeave())
	h.mu.Lock()
	delete(h.sessions, peer)
	h.mu.Unlock()
	h.connections.Dec()
	h.logger.Info("Peer disconnected", "peer", peer)
}

// announce publishes a presence change on behalf of peer
func (h *Hub) announce(peer channel.PeerID, subject string) {
	data, err := message.Encode(router.Presence{Peer: peer}, peer)
	if err != nil {
		h.logger.Error("Failed to encode presence", "peer", peer, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := h.tr.Publish(ctx, subject, data); err != nil {
		h.logger.Warn("Failed to announce presence", "peer", peer, "subject", subject, "error", err)
	}
}

// Close disconnects every client and waits for their sessions to end
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	open := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s != nil {
			open = append(open, s)
		}
	}
	h.mu.Unlock()

	for _, s := range open {
		s.close()
	}
	h.wg.Wait()
	return nil
}

// session is one authenticated connection
type session struct {
	hub     *Hub
	peer    channel.PeerID
	ws      *websocket.Conn
	limiter *rate.Limiter
	send    chan Frame

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[uint64]transport.Subscription
	calls    map[uint64]chan Frame
	nextCall uint64
}

func newSession(h *Hub, peer channel.PeerID, ws *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		hub:     h,
		peer:    peer,
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.Burst),
		send:    make(chan Frame, h.cfg.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[uint64]transport.Subscription),
		calls:   make(map[uint64]chan Frame),
	}
}

func (s *session) close() {
	s.cancel()
	_ = s.ws.Close()
}

// run blocks until the connection ends, then releases everything the
// session registered on the backend
func (s *session) run() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop()
	}()

	s.readLoop()
	s.close()
	<-done

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func (s *session) readLoop() {
	ping := s.hub.cfg.PingInterval()
	s.ws.SetReadLimit(s.hub.cfg.MaxFrameSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(2 * ping))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(2 * ping))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.hub.logger.Debug("WebSocket read failed", "peer", s.peer, "error", err)
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(2 * ping))

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.fail(0, CodeInvalid, "malformed frame")
			continue
		}
		s.hub.frames.WithLabelValues(f.Op, "in").Inc()
		s.handle(f)
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.hub.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case f := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(f); err != nil {
				s.cancel()
				return
			}
			s.hub.frames.WithLabelValues(f.Op, "out").Inc()
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// push queues f for the client, waiting while the queue is full
func (s *session) push(f Frame) bool {
	select {
	case s.send <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) fail(id uint64, code, msg string) {
	s.hub.rejected.WithLabelValues(code).Inc()
	s.push(Frame{Op: OpErr, ID: id, Code: code, Error: msg})
}

func (s *session) handle(f Frame) {
	switch f.Op {
	case OpPub:
		s.publish(f)
	case OpReq:
		s.request(f)
	case OpSub:
		s.subscribe(f)
	case OpServe:
		s.serve(f)
	case OpUnsub:
		s.unsubscribe(f)
	case OpRet, OpErr:
		s.answer(f)
	default:
		s.fail(f.ID, CodeInvalid, "unknown op "+f.Op)
	}
}

// outbound checks rate and subject for client-originated traffic and returns
// the data with the sender replaced by the connection's peer
func (s *session) outbound(f Frame) ([]byte, bool) {
	if !s.limiter.Allow() {
		s.fail(f.ID, CodeRateLimited, "rate limit exceeded")
		return nil, false
	}
	if !s.hub.subjects.ClientOutbound(f.Subject) {
		s.fail(f.ID, CodeForbidden, "may not send on "+f.Subject)
		return nil, false
	}
	if f.Subject == s.hub.subjects.RegistryLookup() {
		return f.Data, true
	}
	data, err := message.Restamp(f.Data, s.peer)
	if err != nil {
		s.fail(f.ID, CodeInvalid, "data is not an envelope")
		return nil, false
	}
	return data, true
}

func (s *session) publish(f Frame) {
	data, ok := s.outbound(f)
	if !ok {
		return
	}
	if err := s.hub.tr.Publish(s.ctx, f.Subject, data); err != nil {
		s.fail(f.ID, codeFor(err), err.Error())
	}
}

func (s *session) request(f Frame) {
	data, ok := s.outbound(f)
	if !ok {
		return
	}
	timeout := time.Duration(f.TimeoutMS) * time.Millisecond
	go func() {
		resp, err := s.hub.tr.Request(s.ctx, f.Subject, data, timeout)
		if err != nil {
			s.push(Frame{Op: OpErr, ID: f.ID, Code: codeFor(err), Error: err.Error()})
			return
		}
		s.push(Frame{Op: OpRes, ID: f.ID, Data: resp})
	}()
}

func (s *session) inbound(f Frame) bool {
	if f.ID == 0 {
		s.fail(0, CodeInvalid, f.Op+" needs an id")
		return false
	}
	if !s.hub.subjects.ClientInbound(f.Subject, s.peer) {
		s.fail(f.ID, CodeForbidden, "may not listen on "+f.Subject)
		return false
	}
	return true
}

func (s *session) track(id uint64, sub transport.Subscription) {
	s.mu.Lock()
	if s.subs == nil {
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return
	}
	if old := s.subs[id]; old != nil {
		_ = old.Unsubscribe()
	}
	s.subs[id] = sub
	s.mu.Unlock()
	s.push(Frame{Op: OpRes, ID: id})
}

func (s *session) subscribe(f Frame) {
	if !s.inbound(f) {
		return
	}
	id, subject := f.ID, f.Subject
	sub, err := s.hub.tr.Subscribe(s.ctx, subject, func(_ context.Context, data []byte) {
		s.push(Frame{Op: OpMsg, ID: id, Subject: subject, Data: data})
	})
	if err != nil {
		s.fail(id, codeFor(err), err.Error())
		return
	}
	s.track(id, sub)
}

func (s *session) serve(f Frame) {
	if !s.inbound(f) {
		return
	}
	id, subject := f.ID, f.Subject
	sub, err := s.hub.tr.Reply(s.ctx, subject, func(ctx context.Context, data []byte) ([]byte, error) {
		return s.call(ctx, id, subject, data)
	})
	if err != nil {
		s.fail(id, codeFor(err), err.Error())
		return
	}
	s.track(id, sub)
}

func (s *session) unsubscribe(f Frame) {
	s.mu.Lock()
	sub := s.subs[f.ID]
	delete(s.subs, f.ID)
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// call forwards a backend request to the client and waits for its ret
func (s *session) call(ctx context.Context, ref uint64, subject string, data []byte) ([]byte, error) {
	ch := make(chan Frame, 1)
	s.mu.Lock()
	s.nextCall++
	id := s.nextCall
	s.calls[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.calls, id)
		s.mu.Unlock()
	}()

	f := Frame{Op: OpCall, ID: id, Ref: ref, Subject: subject, Data: data}
	if deadline, ok := ctx.Deadline(); ok {
		f.TimeoutMS = max(time.Until(deadline).Milliseconds(), 1)
	}
	if !s.push(f) {
		return nil, errors.WrapTransient(transport.ErrClosed, "Hub", "call", "forward "+subject)
	}

	select {
	case answer := <-ch:
		if answer.Op == OpErr {
			return nil, errors.WrapInvalid(stderrors.New(answer.Error), "Hub", "call", "client refused "+subject)
		}
		if out, err := message.Restamp(answer.Data, s.peer); err == nil {
			return out, nil
		}
		return answer.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, errors.WrapTransient(transport.ErrClosed, "Hub", "call", "forward "+subject)
	}
}

func (s *session) answer(f Frame) {
	s.mu.Lock()
	ch := s.calls[f.ID]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// codeFor maps a transport error to its frame code
func codeFor(err error) string {
	switch {
	case stderrors.Is(err, transport.ErrNoResponders):
		return CodeNoResponders
	case stderrors.Is(err, transport.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case stderrors.Is(err, transport.ErrClosed), stderrors.Is(err, context.Canceled):
		return CodeClosed
	default:
		return CodeRefused
	}
}
