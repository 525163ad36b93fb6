// Package health tracks the health of the router, its transport, the channel
// registry and the gateway, and serves the aggregate on /healthz.
//
// # Health States
//
//   - healthy: operating normally
//   - degraded: running with reduced function, for example while starting or
//     while the bus reconnects
//   - unhealthy: not serving
//
// # Usage
//
// Components report through a Monitor, either pushed or polled:
//
//	monitor := health.NewMonitor()
//	monitor.Register("router", r.Health)
//	monitor.Register("transport", func() health.Status {
//		return health.FromError("transport", tr.Ping(), "connected")
//	})
//	monitor.UpdateDegraded("gateway", "draining connections")
//
//	mux.Handle("/healthz", monitor.Handler("networker"))
//
// Aggregate folds sub-statuses: any unhealthy makes the whole unhealthy,
// otherwise any degraded makes it degraded.
//
// # Error Messages
//
// FromError sanitizes the error text, replacing URLs, paths, addresses, ports
// and credential-looking pairs with placeholders, so a status can be exposed
// without leaking connection details.
//
// # Thread Safety
//
// Monitor is safe for concurrent use. Status values are immutable once
// built; WithMetrics and WithSubStatus return modified copies.
package health
