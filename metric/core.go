package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "networker"

// Metrics holds the router-level metrics shared by every channel
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec

	Invocations    *prometheus.CounterVec
	InvokeDuration *prometheus.HistogramVec

	RoleViolations *prometheus.CounterVec

	RegistryResolves *prometheus.CounterVec
	RegistryChannels prometheus.Gauge

	PeersConnected prometheus.Gauge

	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metric set. It is registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Messages sent, by channel kind and direction",
		}, []string{"channel_kind", "direction"}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages received, by channel kind and direction",
		}, []string{"channel_kind", "direction"}),

		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Inbound messages dropped before reaching a handler",
		}, []string{"reason"}),

		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "invocations_total",
			Help:      "Request/response invocations, by direction and result",
		}, []string{"direction", "result"}),

		InvokeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "invoke_duration_seconds",
			Help:      "Round-trip time of request/response invocations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"direction"}),

		RoleViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "role_violations_total",
			Help:      "Operations rejected because they were called from the wrong role",
		}, []string{"operation"}),

		RegistryResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "resolves_total",
			Help:      "Channel resolutions, by role, kind and outcome (cached, found, created, error)",
		}, []string{"role", "kind", "result"}),

		RegistryChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "channels",
			Help:      "Channels known to this process",
		}),

		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "peers_connected",
			Help:      "Clients currently announced as connected",
		}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesSent, c.MessagesReceived, c.MessagesDropped,
		c.Invocations, c.InvokeDuration,
		c.RoleViolations,
		c.RegistryResolves, c.RegistryChannels,
		c.PeersConnected,
		c.NATSConnected, c.NATSReconnects, c.NATSCircuitBreaker,
	}
}

// The Record helpers below are nil-safe so callers can hold a nil *Metrics
// when metrics are disabled.

// RecordSent counts an outbound message
func (c *Metrics) RecordSent(kind, direction string) {
	if c == nil {
		return
	}
	c.MessagesSent.WithLabelValues(kind, direction).Inc()
}

// RecordReceived counts an inbound message
func (c *Metrics) RecordReceived(kind, direction string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(kind, direction).Inc()
}

// RecordDropped counts an inbound message rejected before dispatch
func (c *Metrics) RecordDropped(reason string) {
	if c == nil {
		return
	}
	c.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordInvocation records the outcome and latency of a request/response call
func (c *Metrics) RecordInvocation(direction, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.Invocations.WithLabelValues(direction, result).Inc()
	c.InvokeDuration.WithLabelValues(direction).Observe(d.Seconds())
}

// RecordRoleViolation counts a rejected wrong-role call
func (c *Metrics) RecordRoleViolation(op string) {
	if c == nil {
		return
	}
	c.RoleViolations.WithLabelValues(op).Inc()
}

// RecordResolve counts a registry resolution
func (c *Metrics) RecordResolve(role, kind, result string) {
	if c == nil {
		return
	}
	c.RegistryResolves.WithLabelValues(role, kind, result).Inc()
}

// SetChannels sets the number of known channels
func (c *Metrics) SetChannels(n int) {
	if c == nil {
		return
	}
	c.RegistryChannels.Set(float64(n))
}

// SetPeers sets the number of connected peers
func (c *Metrics) SetPeers(n int) {
	if c == nil {
		return
	}
	c.PeersConnected.Set(float64(n))
}

// RecordNATSStatus records NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect increments the NATS reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (c *Metrics) RecordCircuitBreakerState(state int) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(float64(state))
}
