// Package metric provides the Prometheus registry and HTTP endpoint for the router.
//
// MetricsRegistry owns a private prometheus.Registry populated with:
//
//   - Core router metrics (Metrics): messages sent/received/dropped, request
//     invocations and latency, role violations, registry resolutions, connected
//     peers and NATS connection state.
//   - Go runtime and process collectors.
//   - Metrics registered later by other packages through MetricsRegistrar
//     (worker pool, bridges, gateway).
//
// All Record helpers on *Metrics accept a nil receiver, so components can be
// built without metrics by passing a nil registry.
//
// Server exposes the registry at /metrics and, when given a handler, health
// at /healthz:
//
//	reg := metric.NewMetricsRegistry()
//	srv := metric.NewServer(":9090", "/metrics", reg, monitor.Handler())
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(ctx)
package metric
