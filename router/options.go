package router

import (
	"log/slog"
	"time"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/message"
	"github.com/c360/networker/metric"
	"github.com/c360/networker/pkg/retry"
)

// Option configures a Router
type Option func(*Router)

// WithNamespace sets the subject namespace
func WithNamespace(ns string) Option {
	return func(r *Router) {
		if ns != "" {
			r.subjects = Subjects{Namespace: ns}
		}
	}
}

// WithPeer sets the identity a client router sends as. Servers ignore it.
func WithPeer(peer channel.PeerID) Option {
	return func(r *Router) {
		r.peer = peer
	}
}

// WithLogger sets the router logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records router metrics and registers the worker pool metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Router) {
		r.metricsRegistry = registry
		if registry != nil {
			r.metrics = registry.CoreMetrics()
		}
	}
}

// WithWorkers sizes the listener pool
func WithWorkers(count, queueSize int) Option {
	return func(r *Router) {
		r.workers = count
		r.queueSize = queueSize
	}
}

// WithProvisionTimeout bounds each provisioning request a client makes
func WithProvisionTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.provisionTimeout = d
		}
	}
}

// WithRetry sets the retry policy for provisioning
func WithRetry(cfg retry.Config) Option {
	return func(r *Router) {
		r.retry = cfg
	}
}

// WithPayloads sets the payload registry used to check inbound messages
func WithPayloads(reg *message.Registry) Option {
	return func(r *Router) {
		if reg != nil {
			r.payloads = reg
		}
	}
}
