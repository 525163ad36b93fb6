// Package testutil holds helpers shared by the networker tests.
//
// Network starts a server router on an in-memory bus and joins client routers
// to it, so tests can exercise events and functions end to end without NATS:
//
//	net := testutil.NewNetwork(t)
//	client := net.Join(t, 7)
//
// Recorder collects values from listeners that run on worker goroutines:
//
//	got := testutil.NewRecorder[int64]()
//	ev.OnClientFired(func(_ context.Context, m message.Int) { got.Record(m.Value) })
//	assert.Equal(t, []int64{5}, got.Wait(t, 1, time.Second))
package testutil
