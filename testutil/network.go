package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/registry"
	"github.com/c360/networker/router"
	"github.com/c360/networker/transport"
)

// Network is an in-process server router on a memory bus. Clients joined
// through Join share the bus and discover channels through the server.
type Network struct {
	Ctx    context.Context
	Bus    *transport.Memory
	Server *router.Router
}

// NewNetwork starts a server router. Everything is stopped by t.Cleanup.
func NewNetwork(t testing.TB, opts ...router.Option) *Network {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	bus := transport.NewMemory()
	reg, err := registry.New(channel.RoleServer, registry.NewMemoryFolder())
	require.NoError(t, err)
	server, err := router.New(channel.RoleServer, bus, reg, opts...)
	require.NoError(t, err)
	require.NoError(t, server.Start(ctx))

	t.Cleanup(func() {
		_ = server.Stop(time.Second)
		_ = bus.Close()
	})
	return &Network{Ctx: ctx, Bus: bus, Server: server}
}

// Join starts a client router for peer and waits until the server sees it
func (n *Network) Join(t testing.TB, peer channel.PeerID, opts ...router.Option) *router.Router {
	t.Helper()
	return n.JoinOver(t, n.Bus, peer, opts...)
}

// JoinOver is Join with the client on its own transport, such as a gateway
// connection
func (n *Network) JoinOver(t testing.TB, tr transport.Transport, peer channel.PeerID, opts ...router.Option) *router.Router {
	t.Helper()
	client := n.StartClient(t, tr, peer, opts...)
	require.Eventually(t, func() bool {
		return n.Server.Connected(peer)
	}, 2*time.Second, 5*time.Millisecond, "server never saw peer %s join", peer)
	return client
}

// StartClient starts a client router for peer on tr and returns at once,
// without waiting for the server to see the join
func (n *Network) StartClient(t testing.TB, tr transport.Transport, peer channel.PeerID, opts ...router.Option) *router.Router {
	t.Helper()
	subjects := n.Server.Subjects()
	reg, err := registry.New(channel.RoleClient,
		registry.NewRemoteFolder(tr, subjects.RegistryLookup(), subjects.RegistryCreated()))
	require.NoError(t, err)

	opts = append([]router.Option{router.WithNamespace(subjects.Namespace), router.WithPeer(peer)}, opts...)
	client, err := router.New(channel.RoleClient, tr, reg, opts...)
	require.NoError(t, err)
	require.NoError(t, client.Start(n.Ctx))
	t.Cleanup(func() { _ = client.Stop(time.Second) })
	return client
}
