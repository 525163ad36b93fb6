package transport

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/c360/networker/errors"
)

// Memory is an in-process bus with exact-match subjects. Each subscription
// receives messages in publish order on its own goroutine.
type Memory struct {
	mu       sync.RWMutex
	subs     map[string]map[uint64]*memorySub
	repliers map[string]map[uint64]*memoryReplier
	nextID   uint64
	rr       map[string]uint64
	closed   bool
}

// NewMemory creates an empty bus
func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string]map[uint64]*memorySub),
		repliers: make(map[string]map[uint64]*memoryReplier),
		rr:       make(map[string]uint64),
	}
}

type memorySub struct {
	bus     *Memory
	subject string
	id      uint64
	handler Handler
	ctx     context.Context

	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *memorySub) push(data []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *memorySub) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	data := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return data, true
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			select {
			case <-s.done:
				return
			default:
			}
			data, ok := s.pop()
			if !ok {
				break
			}
			s.handler(s.ctx, data)
		}
	}
}

// Unsubscribe stops delivery. Messages still queued are discarded.
func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.subject]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(s.bus.subs, s.subject)
			}
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}

type memoryReplier struct {
	bus     *Memory
	subject string
	id      uint64
	handler RequestHandler
	ctx     context.Context
	once    sync.Once
}

func (r *memoryReplier) Unsubscribe() error {
	r.once.Do(func() {
		r.bus.mu.Lock()
		defer r.bus.mu.Unlock()
		if set, ok := r.bus.repliers[r.subject]; ok {
			delete(set, r.id)
			if len(set) == 0 {
				delete(r.bus.repliers, r.subject)
			}
		}
	})
	return nil
}

// Publish queues data for every current subscriber of subject
func (m *Memory) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errors.WrapTransient(ErrClosed, "Memory", "Publish", "publish "+subject)
	}
	for _, sub := range m.subs[subject] {
		sub.push(clone(data))
	}
	return nil
}

// Subscribe registers handler for subject
func (m *Memory) Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.WrapTransient(ErrClosed, "Memory", "Subscribe", "subscribe "+subject)
	}

	m.nextID++
	sub := &memorySub{
		bus:     m,
		subject: subject,
		id:      m.nextID,
		handler: handler,
		ctx:     context.WithoutCancel(ctx),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if m.subs[subject] == nil {
		m.subs[subject] = make(map[uint64]*memorySub)
	}
	m.subs[subject][sub.id] = sub
	go sub.run()

	return sub, nil
}

// Reply registers handler to serve requests on subject. With several
// repliers on one subject, requests are spread round-robin.
func (m *Memory) Reply(ctx context.Context, subject string, handler RequestHandler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.WrapTransient(ErrClosed, "Memory", "Reply", "serve "+subject)
	}

	m.nextID++
	r := &memoryReplier{
		bus:     m,
		subject: subject,
		id:      m.nextID,
		handler: handler,
		ctx:     context.WithoutCancel(ctx),
	}
	if m.repliers[subject] == nil {
		m.repliers[subject] = make(map[uint64]*memoryReplier)
	}
	m.repliers[subject][r.id] = r

	return r, nil
}

func (m *Memory) pickReplier(subject string) (*memoryReplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	set := m.repliers[subject]
	if len(set) == 0 {
		return nil, ErrNoResponders
	}

	// lowest id first, rotating by request count
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	n := m.rr[subject]
	m.rr[subject] = n + 1
	return set[ids[n%uint64(len(ids))]], nil
}

// Request sends data to one replier of subject and waits for its answer
func (m *Memory) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	r, err := m.pickReplier(subject)
	if err != nil {
		return nil, errors.WrapTransient(err, "Memory", "Request", "request "+subject)
	}

	reqCtx, cancel := requestContext(ctx, timeout)
	defer cancel()

	result := make(chan []byte, 1)
	go func() {
		// the handler outlives the requester the same way a NATS replier does
		hctx, hcancel := withDeadlineOf(r.ctx, reqCtx)
		defer hcancel()
		resp, err := r.handler(hctx, clone(data))
		if err == nil {
			result <- resp
		}
	}()

	select {
	case resp := <-result:
		return resp, nil
	case <-reqCtx.Done():
		return nil, timeoutError(reqCtx, "Memory", subject)
	}
}

// Close drops every subscription and fails later calls with ErrClosed
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var subs []*memorySub
	for _, set := range m.subs {
		for _, sub := range set {
			subs = append(subs, sub)
		}
	}
	m.subs = make(map[string]map[uint64]*memorySub)
	m.repliers = make(map[string]map[uint64]*memoryReplier)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
	return nil
}

// Healthy reports whether the bus is open
func (m *Memory) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// withDeadlineOf gives the replier's context the requester's deadline
func withDeadlineOf(base, req context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := req.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
