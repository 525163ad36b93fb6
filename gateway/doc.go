// Package gateway lets clients that cannot reach the message bus directly
// run a client router over a WebSocket.
//
// # Hub
//
// Hub is an http.Handler mounted next to the server router. It authenticates
// every connection with an HS256 JWT whose subject is the peer id, read from
// the Authorization header or the token query parameter:
//
//	hub, err := gateway.NewHub(bus, secret, gateway.DefaultConfig())
//	mux.Handle(hub.Path(), hub)
//
// For every connection the hub:
//
//   - announces the peer's join and leave on the presence subjects
//   - overwrites the sender of each envelope the client sends with its peer id
//   - lets the client send only on server-bound subjects
//   - lets the client listen only on its own, broadcast and registry subjects
//   - rate limits publishes and requests
//
// # Conn
//
// Dial returns a Conn implementing transport.Transport:
//
//	conn, err := gateway.Dial(ctx, "ws://game.example/ws", token)
//	reg, _ := registry.New(channel.RoleClient,
//		registry.NewRemoteFolder(conn, subjects.RegistryLookup(), subjects.RegistryCreated()))
//	client, _ := router.New(channel.RoleClient, conn, reg, router.WithPeer(peer))
//
// # Frames
//
// Each WebSocket text message is one JSON Frame. The client sends pub, sub,
// unsub, req, serve, ret and err; the hub sends res, msg, call and err.
// Requests, subscriptions and serve registrations are answered with a res or
// err frame carrying the same id.
package gateway
