// Package networker routes typed messages between one authoritative server
// and many untrusted clients over named channels.
//
// # Channels
//
// A channel is named by a Token and a Kind. The server creates it on first
// use and publishes its Handle to a shared folder; clients resolve the same
// token and wait until the server has created it. Two kinds exist:
//
//   - Event: fire-and-forget. Clients FireServer; the server FireClient to one
//     peer or Broadcast to all.
//   - Function: request/response. Clients InvokeServer with a required
//     timeout; the server may InvokeClient on one peer.
//
// Every operation checks the process Role. Calling a server-only method on a
// client fails with channel.ErrRoleViolation and never reaches the wire.
//
// # Packages
//
//   - channel: Role, Kind, Token, Handle, PeerID and the unlink result types
//   - message: the JSON Envelope and the payload type registry
//   - registry: find-or-create of handles over memory, NATS KV or a remote folder
//   - transport: the bus abstraction, with in-memory and NATS implementations
//   - router: Event and Function, presence and provisioning
//   - bridge: typed in-process calls between server modules
//   - gateway: a WebSocket hub that lets clients run over a browser socket
//   - playerdata: per-peer records with change listeners and autosave
//   - config, health, metric, natsclient, errors: the service plumbing
//
// # Usage
//
// A server:
//
//	reg, _ := registry.New(channel.RoleServer, registry.NewMemoryFolder())
//	srv, _ := router.New(channel.RoleServer, bus, reg)
//	_ = srv.Start(ctx)
//
//	chat, _ := router.GetEvent[message.Text, message.Text](ctx, srv, "chat")
//	chat.OnServerFired(func(ctx context.Context, from channel.PeerID, m message.Text) {
//		_ = chat.Broadcast(ctx, m)
//	})
//
// A client:
//
//	reg, _ := registry.New(channel.RoleClient,
//		registry.NewRemoteFolder(bus, subjects.RegistryLookup(), subjects.RegistryCreated()))
//	cli, _ := router.New(channel.RoleClient, bus, reg, router.WithPeer(42))
//	_ = cli.Start(ctx)
//
//	chat, _ := router.GetEvent[message.Text, message.Text](ctx, cli, "chat")
//	_ = chat.FireServer(ctx, message.NewText("hello"))
//
// The cmd/networker binary wires all of this to NATS, the gateway, player
// data, Prometheus metrics and a health endpoint.
package networker
