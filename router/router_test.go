package router

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
	"github.com/c360/networker/metric"
	"github.com/c360/networker/pkg/retry"
	"github.com/c360/networker/registry"
	"github.com/c360/networker/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type balanceFunc = Function[message.Empty, message.Int, message.Empty, message.Empty]

// RouterSuite runs one server and any number of clients over an in-memory bus
type RouterSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc

	bus           *transport.Memory
	server        *Router
	serverMetrics *metric.MetricsRegistry

	clients       []*Router
	clientMetrics map[channel.PeerID]*metric.MetricsRegistry
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	s.bus = transport.NewMemory()
	s.serverMetrics = metric.NewMetricsRegistry()
	s.clients = nil
	s.clientMetrics = make(map[channel.PeerID]*metric.MetricsRegistry)

	reg, err := registry.New(channel.RoleServer, registry.NewMemoryFolder())
	s.Require().NoError(err)
	s.server, err = New(channel.RoleServer, s.bus, reg, WithMetrics(s.serverMetrics), WithWorkers(4, 64))
	s.Require().NoError(err)
	s.Require().NoError(s.server.Start(s.ctx))
}

func (s *RouterSuite) TearDownTest() {
	for _, c := range s.clients {
		_ = c.Stop(time.Second)
	}
	_ = s.server.Stop(time.Second)
	_ = s.bus.Close()
	s.cancel()
}

// newClient starts a client router and waits until the server sees it
func (s *RouterSuite) newClient(peer channel.PeerID) *Router {
	subjects := s.server.Subjects()
	reg, err := registry.New(channel.RoleClient,
		registry.NewRemoteFolder(s.bus, subjects.RegistryLookup(), subjects.RegistryCreated()))
	s.Require().NoError(err)

	metrics := metric.NewMetricsRegistry()
	quick := retry.Quick()
	quick.MaxAttempts = 3
	c, err := New(channel.RoleClient, s.bus, reg,
		WithPeer(peer),
		WithMetrics(metrics),
		WithProvisionTimeout(time.Second),
		WithRetry(quick))
	s.Require().NoError(err)
	s.Require().NoError(c.Start(s.ctx))

	s.clients = append(s.clients, c)
	s.clientMetrics[peer] = metrics
	s.Eventually(func() bool { return s.server.Connected(peer) }, waitFor, tick)
	return c
}

func (s *RouterSuite) TestGetBalanceReturnsServerResult() {
	client := s.newClient(7)

	serverFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, s.server, "get-balance")
	s.Require().NoError(err)
	s.Require().NoError(serverFn.SetServerCallback(func(_ context.Context, _ channel.PeerID, _ message.Empty) (message.Int, error) {
		return message.NewInt(42), nil
	}))

	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, client, "get-balance")
	s.Require().NoError(err)
	s.Equal(serverFn.Handle(), clientFn.Handle())

	got, err := clientFn.InvokeServer(s.ctx, time.Second, message.Empty{})
	s.Require().NoError(err)
	s.Equal(int64(42), got.Value)

	ok := s.clientMetrics[7].CoreMetrics().Invocations.WithLabelValues("c2s", "ok")
	s.Equal(2.0, testutil.ToFloat64(ok), "provisioning plus the call")
}

func (s *RouterSuite) TestPingDeliversCallerAndPayload() {
	client := s.newClient(1234)

	type fired struct {
		from channel.PeerID
		msg  string
	}
	got := make(chan fired, 1)

	serverEv, err := GetEvent[message.Text, message.Empty](s.ctx, s.server, "ping")
	s.Require().NoError(err)
	_, err = serverEv.OnServerFired(func(_ context.Context, from channel.PeerID, msg message.Text) {
		got <- fired{from: from, msg: msg.Value}
	})
	s.Require().NoError(err)

	clientEv, err := GetEvent[message.Text, message.Empty](s.ctx, client, "ping")
	s.Require().NoError(err)
	s.Require().NoError(clientEv.FireServer(s.ctx, message.NewText("hello")))

	select {
	case f := <-got:
		s.Equal(channel.PeerID(1234), f.from)
		s.Equal("hello", f.msg)
	case <-time.After(waitFor):
		s.Fail("ping was not delivered")
	}
}

func (s *RouterSuite) TestListenersFanOutAndUnlinkIndependently() {
	const peer channel.PeerID = 9
	client := s.newClient(peer)

	clientEv, err := GetEvent[message.Empty, message.Int](s.ctx, client, "Update Money")
	s.Require().NoError(err)

	var counts [3]atomic.Int32
	unlinkers := make([]channel.Unlinker, len(counts))
	for i := range counts {
		unlinkers[i], err = clientEv.OnClientFired(func(context.Context, message.Int) { counts[i].Add(1) })
		s.Require().NoError(err)
	}

	serverEv, err := GetEvent[message.Empty, message.Int](s.ctx, s.server, "Update Money")
	s.Require().NoError(err)
	s.Require().NoError(serverEv.FireClient(s.ctx, peer, message.NewInt(100)))

	s.Eventually(func() bool {
		return counts[0].Load() == 1 && counts[1].Load() == 1 && counts[2].Load() == 1
	}, waitFor, tick)

	s.Equal(channel.Ok("unlinked"), unlinkers[1].Unlink())
	s.Equal(channel.Fail("already unlinked"), unlinkers[1].Unlink())

	s.Require().NoError(serverEv.FireClient(s.ctx, peer, message.NewInt(200)))
	s.Eventually(func() bool {
		return counts[0].Load() == 2 && counts[2].Load() == 2
	}, waitFor, tick)
	s.Equal(int32(1), counts[1].Load())
}

func (s *RouterSuite) TestBroadcastReachesEveryClient() {
	var got sync.WaitGroup
	for _, peer := range []channel.PeerID{1, 2} {
		c := s.newClient(peer)
		ev, err := GetEvent[message.Empty, message.Text](s.ctx, c, "notification")
		s.Require().NoError(err)
		got.Add(1)
		_, err = ev.OnClientFired(func(_ context.Context, msg message.Text) {
			s.Equal("server restarting", msg.Value)
			got.Done()
		})
		s.Require().NoError(err)
	}

	ev, err := GetEvent[message.Empty, message.Text](s.ctx, s.server, "notification")
	s.Require().NoError(err)
	s.Require().NoError(ev.Broadcast(s.ctx, message.NewText("server restarting")))

	done := make(chan struct{})
	go func() {
		got.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		s.Fail("broadcast did not reach every client")
	}
}

func (s *RouterSuite) TestFireClientToUnknownPeerIsNoop() {
	ev, err := GetEvent[message.Empty, message.Text](s.ctx, s.server, "notification")
	s.Require().NoError(err)
	s.NoError(ev.FireClient(s.ctx, 404, message.NewText("anyone?")))
	s.Equal(0.0, testutil.ToFloat64(s.serverMetrics.CoreMetrics().MessagesSent.WithLabelValues("event", "s2c")))
}

func (s *RouterSuite) TestRebindReplacesCallback() {
	client := s.newClient(3)

	serverFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, s.server, "version")
	s.Require().NoError(err)
	s.Require().NoError(serverFn.SetServerCallback(func(context.Context, channel.PeerID, message.Empty) (message.Int, error) {
		return message.NewInt(1), nil
	}))
	s.Require().NoError(serverFn.SetServerCallback(func(context.Context, channel.PeerID, message.Empty) (message.Int, error) {
		return message.NewInt(2), nil
	}))

	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, client, "version")
	s.Require().NoError(err)
	got, err := clientFn.InvokeServer(s.ctx, time.Second, message.Empty{})
	s.Require().NoError(err)
	s.Equal(int64(2), got.Value)
}

func (s *RouterSuite) TestWrongRoleFailsFastAndSendsNothing() {
	const peer channel.PeerID = 5
	client := s.newClient(peer)

	clientEv, err := GetEvent[message.Text, message.Text](s.ctx, client, "chat")
	s.Require().NoError(err)
	serverEv, err := GetEvent[message.Text, message.Text](s.ctx, s.server, "chat")
	s.Require().NoError(err)

	var leaked atomic.Int32
	for _, subject := range []string{
		s.server.Subjects().EventPeer(clientEv.Handle(), peer),
		s.server.Subjects().EventAll(clientEv.Handle()),
		s.server.Subjects().EventServer(clientEv.Handle()),
	} {
		sub, err := s.bus.Subscribe(s.ctx, subject, func(context.Context, []byte) { leaked.Add(1) })
		s.Require().NoError(err)
		defer sub.Unsubscribe()
	}

	checks := map[string]error{
		"FireClient": clientEv.FireClient(s.ctx, peer, message.NewText("x")),
		"Broadcast":  clientEv.Broadcast(s.ctx, message.NewText("x")),
		"FireServer": serverEv.FireServer(s.ctx, message.NewText("x")),
	}
	_, checks["OnServerFired"] = clientEv.OnServerFired(func(context.Context, channel.PeerID, message.Text) {})
	_, checks["OnClientFired"] = serverEv.OnClientFired(func(context.Context, message.Text) {})
	_, checks["OnPeerJoined"] = client.OnPeerJoined(func(context.Context, channel.PeerID) {})

	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Int](s.ctx, client, "balance")
	s.Require().NoError(err)
	serverFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Int](s.ctx, s.server, "balance")
	s.Require().NoError(err)
	_, checks["InvokeClient"] = clientFn.InvokeClient(s.ctx, peer, time.Second, message.Empty{})
	_, checks["InvokeServer"] = serverFn.InvokeServer(s.ctx, time.Second, message.Empty{})
	checks["SetServerCallback"] = clientFn.SetServerCallback(func(context.Context, channel.PeerID, message.Empty) (message.Int, error) {
		return message.Int{}, nil
	})
	checks["SetClientCallback"] = serverFn.SetClientCallback(func(context.Context, message.Empty) (message.Int, error) {
		return message.Int{}, nil
	})

	for op, err := range checks {
		s.ErrorIs(err, channel.ErrRoleViolation, op)
		s.True(errors.IsFatal(err), op)
	}

	time.Sleep(50 * time.Millisecond)
	s.Equal(int32(0), leaked.Load())
	s.Equal(1.0, testutil.ToFloat64(s.clientMetrics[peer].CoreMetrics().RoleViolations.WithLabelValues("FireClient")))
	s.Equal(1.0, testutil.ToFloat64(s.serverMetrics.CoreMetrics().RoleViolations.WithLabelValues("FireServer")))
}

func (s *RouterSuite) TestConcurrentProvisioningSharesOneHandle() {
	a := s.newClient(11)
	b := s.newClient(12)

	var wg sync.WaitGroup
	handles := make([]channel.Handle, 2)
	for i, c := range []*Router{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := GetEvent[message.Empty, message.Int](s.ctx, c, "datastore.saved")
			s.NoError(err)
			if ev != nil {
				handles[i] = ev.Handle()
			}
		}()
	}
	wg.Wait()

	s.Equal(handles[0].ID, handles[1].ID)
	s.NotEmpty(handles[0].ID)

	serverEv, err := GetEvent[message.Empty, message.Int](s.ctx, s.server, "datastore.saved")
	s.Require().NoError(err)
	s.Equal(handles[0].ID, serverEv.Handle().ID)
}

func (s *RouterSuite) TestProvisionedHandleIsReused() {
	const peer channel.PeerID = 21
	client := s.newClient(peer)

	first, err := GetEvent[message.Empty, message.Int](s.ctx, client, "Update Money")
	s.Require().NoError(err)
	second, err := GetEvent[message.Empty, message.Int](s.ctx, client, "Update Money")
	s.Require().NoError(err)

	s.Same(first, second)
	sent := s.clientMetrics[peer].CoreMetrics().MessagesSent.WithLabelValues("function", "c2s")
	s.Equal(1.0, testutil.ToFloat64(sent), "one provisioning round trip")

	_, err = GetEvent[message.Text, message.Int](s.ctx, client, "Update Money")
	s.ErrorIs(err, message.ErrTypeMismatch)
}

func (s *RouterSuite) TestParkedRequestResumesOnBind() {
	client := s.newClient(31)

	serverFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, s.server, "late-bind")
	s.Require().NoError(err)
	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, client, "late-bind")
	s.Require().NoError(err)

	type result struct {
		v   message.Int
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := clientFn.InvokeServer(s.ctx, waitFor, message.Empty{})
		done <- result{v, err}
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		s.FailNow("request completed before a callback was bound")
	default:
	}

	s.Require().NoError(serverFn.SetServerCallback(func(context.Context, channel.PeerID, message.Empty) (message.Int, error) {
		return message.NewInt(99), nil
	}))

	select {
	case r := <-done:
		s.Require().NoError(r.err)
		s.Equal(int64(99), r.v.Value)
	case <-time.After(waitFor):
		s.Fail("parked request never resumed")
	}
}

func (s *RouterSuite) TestUnboundRequestTimesOut() {
	client := s.newClient(32)

	_, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, s.server, "never-bound")
	s.Require().NoError(err)
	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, client, "never-bound")
	s.Require().NoError(err)

	_, err = clientFn.InvokeServer(s.ctx, 50*time.Millisecond, message.Empty{})
	s.Require().Error(err)
	s.ErrorIs(err, transport.ErrTimeout)
	s.True(errors.IsTransient(err))
}

func (s *RouterSuite) TestInvokeRejectsNonPositiveTimeout() {
	client := s.newClient(33)
	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, client, "get-balance")
	s.Require().NoError(err)

	_, err = clientFn.InvokeServer(s.ctx, 0, message.Empty{})
	s.ErrorIs(err, errors.ErrInvalidConfig)
	s.True(errors.IsInvalid(err))
}

func (s *RouterSuite) TestRemoteErrorSurfaces() {
	client := s.newClient(41)

	serverFn, err := GetFunction[message.Int, message.Int, message.Empty, message.Empty](s.ctx, s.server, "withdraw")
	s.Require().NoError(err)
	s.Require().NoError(serverFn.SetServerCallback(func(_ context.Context, _ channel.PeerID, req message.Int) (message.Int, error) {
		if req.Value > 10 {
			return message.Int{}, stderrors.New("insufficient funds")
		}
		panic("boom")
	}))

	clientFn, err := GetFunction[message.Int, message.Int, message.Empty, message.Empty](s.ctx, client, "withdraw")
	s.Require().NoError(err)

	_, err = clientFn.InvokeServer(s.ctx, time.Second, message.NewInt(50))
	s.ErrorIs(err, ErrRemote)
	s.True(errors.IsInvalid(err))
	s.Contains(err.Error(), "insufficient funds")

	_, err = clientFn.InvokeServer(s.ctx, time.Second, message.NewInt(1))
	s.ErrorIs(err, ErrRemote)
	s.Contains(err.Error(), "callback panicked")
}

func (s *RouterSuite) TestInvokeClientFailsWhenPeerLeaves() {
	const peer channel.PeerID = 51
	client := s.newClient(peer)

	// the client opens the channel but never binds, so the call parks
	_, err := GetFunction[message.Empty, message.Empty, message.Empty, message.Int](s.ctx, client, "confirm")
	s.Require().NoError(err)
	serverFn, err := GetFunction[message.Empty, message.Empty, message.Empty, message.Int](s.ctx, s.server, "confirm")
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := serverFn.InvokeClient(s.ctx, peer, 5*time.Second, message.Empty{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.Require().NoError(client.Stop(time.Second))

	select {
	case err := <-done:
		s.ErrorIs(err, channel.ErrPeerGone)
		s.True(errors.IsTransient(err))
	case <-time.After(waitFor):
		s.Fail("InvokeClient did not notice the peer leaving")
	}

	_, err = serverFn.InvokeClient(s.ctx, peer, time.Second, message.Empty{})
	s.ErrorIs(err, channel.ErrPeerGone)
}

func (s *RouterSuite) TestInvokeClientWaitsForPeerToOpen() {
	const peer channel.PeerID = 54
	client := s.newClient(peer)

	serverFn, err := GetFunction[message.Empty, message.Empty, message.Text, message.Int](s.ctx, s.server, "late-open")
	s.Require().NoError(err)

	done := make(chan error, 1)
	var got message.Int
	go func() {
		var err error
		got, err = serverFn.InvokeClient(s.ctx, peer, waitFor, message.NewText("rope"))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	clientFn, err := GetFunction[message.Empty, message.Empty, message.Text, message.Int](s.ctx, client, "late-open")
	s.Require().NoError(err)
	s.Require().NoError(clientFn.SetClientCallback(func(_ context.Context, req message.Text) (message.Int, error) {
		return message.NewInt(int64(len(req.Value))), nil
	}))

	select {
	case err := <-done:
		s.Require().NoError(err)
		s.Equal(int64(4), got.Value)
	case <-time.After(2 * waitFor):
		s.Fail("InvokeClient did not resume after the peer opened the channel")
	}
}

func (s *RouterSuite) TestInvokeClientUnopenedTimesOut() {
	const peer channel.PeerID = 55
	s.newClient(peer)

	serverFn, err := GetFunction[message.Empty, message.Empty, message.Empty, message.Int](s.ctx, s.server, "never-opened")
	s.Require().NoError(err)

	start := time.Now()
	_, err = serverFn.InvokeClient(s.ctx, peer, 150*time.Millisecond, message.Empty{})
	s.ErrorIs(err, transport.ErrTimeout)
	s.True(errors.IsTransient(err))
	s.GreaterOrEqual(time.Since(start), 150*time.Millisecond, "blocks for the whole timeout")
}

func (s *RouterSuite) TestInvokeClientUnopenedPeerLeaves() {
	const peer channel.PeerID = 56
	client := s.newClient(peer)

	serverFn, err := GetFunction[message.Empty, message.Empty, message.Empty, message.Int](s.ctx, s.server, "never-opened-either")
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := serverFn.InvokeClient(s.ctx, peer, 5*time.Second, message.Empty{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.Require().NoError(client.Stop(time.Second))

	select {
	case err := <-done:
		s.ErrorIs(err, channel.ErrPeerGone)
	case <-time.After(waitFor):
		s.Fail("InvokeClient did not notice the peer leaving")
	}
}

func (s *RouterSuite) TestInvokeClientReturnsClientResult() {
	const peer channel.PeerID = 52
	client := s.newClient(peer)

	clientFn, err := GetFunction[message.Empty, message.Empty, message.Text, message.Int](s.ctx, client, "count-items")
	s.Require().NoError(err)
	s.Require().NoError(clientFn.SetClientCallback(func(_ context.Context, req message.Text) (message.Int, error) {
		return message.NewInt(int64(len(req.Value))), nil
	}))

	serverFn, err := GetFunction[message.Empty, message.Empty, message.Text, message.Int](s.ctx, s.server, "count-items")
	s.Require().NoError(err)
	got, err := serverFn.InvokeClient(s.ctx, peer, time.Second, message.NewText("axe"))
	s.Require().NoError(err)
	s.Equal(int64(3), got.Value)
}

func (s *RouterSuite) TestInvokeServerWithRetry() {
	client := s.newClient(61)
	clientFn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, client, "flaky")
	s.Require().NoError(err)

	cfg := retry.Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 1}

	// nobody serves the channel yet: transient, retried until exhausted
	var retries atomic.Int32
	cfg.OnRetry = func(int, error) { retries.Add(1) }
	_, err = clientFn.InvokeServerWithRetry(s.ctx, 50*time.Millisecond, cfg, message.Empty{})
	s.Require().Error(err)
	s.ErrorIs(err, transport.ErrNoResponders)
	s.Equal(int32(2), retries.Load())

	// the server comes up between attempts
	var serverFn *balanceFunc
	cfg.OnRetry = func(int, error) {
		if serverFn != nil {
			return
		}
		fn, err := GetFunction[message.Empty, message.Int, message.Empty, message.Empty](s.ctx, s.server, "flaky")
		s.Require().NoError(err)
		serverFn = fn
		s.Require().NoError(serverFn.SetServerCallback(func(context.Context, channel.PeerID, message.Empty) (message.Int, error) {
			return message.NewInt(7), nil
		}))
	}
	got, err := clientFn.InvokeServerWithRetry(s.ctx, 50*time.Millisecond, cfg, message.Empty{})
	s.Require().NoError(err)
	s.Equal(int64(7), got.Value)

	// remote errors are not retried
	s.Require().NoError(serverFn.SetServerCallback(func(context.Context, channel.PeerID, message.Empty) (message.Int, error) {
		return message.Int{}, stderrors.New("denied")
	}))
	retries.Store(0)
	cfg.OnRetry = func(int, error) { retries.Add(1) }
	_, err = clientFn.InvokeServerWithRetry(s.ctx, 50*time.Millisecond, cfg, message.Empty{})
	s.ErrorIs(err, ErrRemote)
	s.False(retry.IsNonRetryable(err))
	s.Equal(int32(0), retries.Load())
}

func (s *RouterSuite) TestInvalidInboundIsDropped() {
	var calls atomic.Int32
	ev, err := GetEvent[message.Text, message.Empty](s.ctx, s.server, "ping")
	s.Require().NoError(err)
	_, err = ev.OnServerFired(func(context.Context, channel.PeerID, message.Text) { calls.Add(1) })
	s.Require().NoError(err)

	subject := s.server.Subjects().EventServer(ev.Handle())
	wrongType, err := message.Encode(message.NewInt(1), 8)
	s.Require().NoError(err)
	noSender, err := message.Encode(message.NewText("hi"), 0)
	s.Require().NoError(err)
	for _, data := range [][]byte{[]byte("not json"), wrongType, noSender} {
		s.Require().NoError(s.bus.Publish(s.ctx, subject, data))
	}

	dropped := s.serverMetrics.CoreMetrics().MessagesDropped.WithLabelValues("invalid")
	s.Eventually(func() bool { return testutil.ToFloat64(dropped) == 3 }, waitFor, tick)
	s.Equal(int32(0), calls.Load())
}

func (s *RouterSuite) TestPeerLifecycleListeners() {
	joined := make(chan channel.PeerID, 1)
	left := make(chan channel.PeerID, 1)
	_, err := s.server.OnPeerJoined(func(_ context.Context, p channel.PeerID) { joined <- p })
	s.Require().NoError(err)
	_, err = s.server.OnPeerLeaving(func(_ context.Context, p channel.PeerID) { left <- p })
	s.Require().NoError(err)

	client := s.newClient(71)
	s.Equal(channel.PeerID(71), <-joined)
	s.Equal([]channel.PeerID{71}, s.server.Peers())
	s.Equal(1.0, testutil.ToFloat64(s.serverMetrics.CoreMetrics().PeersConnected))

	s.Require().NoError(client.Stop(time.Second))
	select {
	case p := <-left:
		s.Equal(channel.PeerID(71), p)
	case <-time.After(waitFor):
		s.Fail("leave was not observed")
	}
	s.False(s.server.Connected(71))
}

func (s *RouterSuite) TestSpoofedPresenceIsDropped() {
	data, err := message.Encode(Presence{Peer: 99}, 98)
	s.Require().NoError(err)
	s.Require().NoError(s.bus.Publish(s.ctx, s.server.Subjects().PresenceJoin(), data))

	dropped := s.serverMetrics.CoreMetrics().MessagesDropped.WithLabelValues("spoofed")
	s.Eventually(func() bool { return testutil.ToFloat64(dropped) == 1 }, waitFor, tick)
	s.False(s.server.Connected(99))
}

func (s *RouterSuite) TestHealth() {
	st := s.server.Health()
	s.True(st.IsHealthy())
	s.Require().NotNil(st.Metrics)
	s.Equal(len(s.server.Peers()), st.Metrics.Peers)
	s.Require().NoError(s.server.Stop(time.Second))
	s.True(s.server.Health().IsUnhealthy())
	s.Error(s.server.Start(s.ctx))
}

func TestNew_Validation(t *testing.T) {
	bus := transport.NewMemory()
	defer bus.Close()

	serverReg, err := registry.New(channel.RoleServer, registry.NewMemoryFolder())
	if err != nil {
		t.Fatal(err)
	}
	clientReg, err := registry.New(channel.RoleClient, registry.NewMemoryFolder())
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		role channel.Role
		tr   transport.Transport
		reg  *registry.Registry
		opts []Option
	}{
		{"bad role", channel.Role(0), bus, serverReg, nil},
		{"no transport", channel.RoleServer, nil, serverReg, nil},
		{"role mismatch", channel.RoleClient, bus, serverReg, []Option{WithPeer(1)}},
		{"client without peer", channel.RoleClient, bus, clientReg, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.role, tc.tr, tc.reg, tc.opts...)
			if !errors.IsInvalid(err) {
				t.Fatalf("expected invalid error, got %v", err)
			}
		})
	}
}

func TestGetEvent_RequiresStart(t *testing.T) {
	bus := transport.NewMemory()
	defer bus.Close()
	reg, _ := registry.New(channel.RoleServer, registry.NewMemoryFolder())
	r, err := New(channel.RoleServer, bus, reg)
	if err != nil {
		t.Fatal(err)
	}

	_, err = GetEvent[message.Empty, message.Empty](context.Background(), r, "early")
	if !stderrors.Is(err, errors.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}
