// Package router carries typed messages across the client/server trust
// boundary.
//
// A Router is built for one role. The server owns the channel registry; a
// client obtains handles by asking the server through the provisioning
// channels and caches them. Channels are opened by token:
//
//	balance, err := router.GetFunction[message.Empty, message.Int, message.Empty, message.Empty](ctx, r, "get-balance")
//	err = balance.SetServerCallback(func(ctx context.Context, from channel.PeerID, _ message.Empty) (message.Int, error) {
//		return message.NewInt(42), nil
//	})
//
// Event channels fan out to any number of listeners, which run on the
// router's worker pool. Function channels have at most one callback per
// direction; requests that arrive before a callback is bound wait for it.
//
// Directional operations check the role first. Calling a server-only
// operation on a client returns an error wrapping channel.ErrRoleViolation
// and sends nothing.
package router
