package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/config"
	"github.com/c360/networker/gateway"
	"github.com/c360/networker/health"
	"github.com/c360/networker/metric"
	"github.com/c360/networker/natsclient"
	"github.com/c360/networker/playerdata"
	"github.com/c360/networker/registry"
	"github.com/c360/networker/router"
	"github.com/c360/networker/transport"
)

const healthInterval = 10 * time.Second

// app owns every long-lived piece of one process
type app struct {
	cfg     *config.Config
	role    channel.Role
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	monitor *health.Monitor

	nats     *natsclient.Client
	tr       transport.Transport
	reg      *registry.Registry
	router   *router.Router
	sessions *playerdata.Sessions
	hub      *gateway.Hub
	gwServer *http.Server
	mServer  *metric.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	role, err := cfg.RoleValue()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		role:    role,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		monitor: health.NewMonitor(),
	}

	if err := a.setupTransport(ctx); err != nil {
		a.closeTransport(ctx)
		return nil, err
	}
	if err := a.setupRouter(ctx); err != nil {
		a.closeTransport(ctx)
		return nil, err
	}
	if role == channel.RoleServer {
		err = a.setupServer(ctx)
	} else {
		err = a.setupClient(ctx)
	}
	if err != nil {
		_ = a.router.Stop(5 * time.Second)
		a.closeTransport(ctx)
		return nil, err
	}
	a.setupHealth()
	return a, nil
}

// gatewayClient reports whether a client reaches the server through the hub
func (a *app) gatewayClient() bool {
	return a.role == channel.RoleClient && a.cfg.Gateway.Enabled
}

func (a *app) setupTransport(ctx context.Context) error {
	if a.gatewayClient() {
		slog.Info("Dialing gateway", "url", a.cfg.Gateway.URL)
		conn, err := gateway.Dial(ctx, a.cfg.Gateway.URL, a.cfg.Gateway.Token, gateway.WithDialLogger(a.logger))
		if err != nil {
			return fmt.Errorf("dial gateway: %w", err)
		}
		a.tr = conn
		return nil
	}

	client, err := natsclient.NewClient(a.cfg.NATS.URL, a.natsOptions()...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	slog.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	a.tr = transport.NewNATS(client)
	return nil
}

func (a *app) natsOptions() []natsclient.ClientOption {
	n := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(n.Name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait),
		natsclient.WithLogger(natsLogger{logger: a.logger.With("component", "natsclient")}),
		natsclient.WithMetrics(a.metrics),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			a.logger.Info("NATS health changed", "healthy", healthy)
		}),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS() {
		opts = append(opts, natsclient.WithTLS(n.TLSCert, n.TLSKey, n.TLSCA))
	}
	return opts
}

func (a *app) openFolder(ctx context.Context) (registry.Folder, error) {
	backend := a.cfg.Registry.Backend
	if a.gatewayClient() {
		backend = config.BackendRemote
	}

	switch backend {
	case config.BackendKV:
		return registry.OpenKVFolder(ctx, a.nats, a.cfg.Registry.Bucket, a.logger)
	case config.BackendRemote:
		subjects := router.Subjects{Namespace: a.cfg.Namespace}
		return registry.NewRemoteFolder(a.tr, subjects.RegistryLookup(), subjects.RegistryCreated(),
			registry.WithRemoteLogger(a.logger)), nil
	default:
		return registry.NewMemoryFolder(), nil
	}
}

func (a *app) setupRouter(ctx context.Context) error {
	folder, err := a.openFolder(ctx)
	if err != nil {
		return fmt.Errorf("open registry folder: %w", err)
	}
	a.reg, err = registry.New(a.role, folder,
		registry.WithLogger(a.logger),
		registry.WithMetrics(a.metrics.CoreMetrics()))
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	a.router, err = router.New(a.role, a.tr, a.reg,
		router.WithNamespace(a.cfg.Namespace),
		router.WithPeer(channel.PeerID(a.cfg.PeerID)),
		router.WithLogger(a.logger),
		router.WithMetrics(a.metrics),
		router.WithWorkers(a.cfg.Workers.Count, a.cfg.Workers.QueueSize),
		router.WithProvisionTimeout(a.cfg.Invoke.ProvisionTimeout),
		router.WithRetry(a.cfg.RetryPolicy()))
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	if err := a.router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	return nil
}

func (a *app) setupServer(ctx context.Context) error {
	var store playerdata.Store = playerdata.NewMemoryStore()
	if a.cfg.PlayerData.Backend == config.BackendKV {
		kv, err := playerdata.OpenKVStore(ctx, a.nats, a.cfg.PlayerData.Bucket)
		if err != nil {
			return fmt.Errorf("open player data store: %w", err)
		}
		store = kv
	}
	a.sessions = playerdata.NewSessions(store, playerdata.WithSessionLogger(a.logger))
	if err := playerdata.Serve(ctx, a.router, a.sessions); err != nil {
		return fmt.Errorf("serve player data: %w", err)
	}

	if !a.cfg.Gateway.Enabled {
		return nil
	}
	gw := gateway.DefaultConfig()
	gw.Path = a.cfg.Gateway.Path
	gw.Namespace = a.cfg.Namespace
	gw.RateLimit = a.cfg.Gateway.RateLimit
	gw.Burst = a.cfg.Gateway.Burst

	hub, err := gateway.NewHub(a.tr, []byte(a.cfg.Gateway.Secret), gw, gateway.WithHubLogger(a.logger))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	if err := hub.RegisterMetrics(a.metrics); err != nil {
		return fmt.Errorf("register gateway metrics: %w", err)
	}
	a.hub = hub

	mux := http.NewServeMux()
	mux.Handle(hub.Path(), hub)
	a.gwServer = &http.Server{Addr: a.cfg.Gateway.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return nil
}

func (a *app) setupClient(ctx context.Context) error {
	err := playerdata.Watch(ctx, a.router, playerdata.Watchers{
		Money:  func(money int64) { a.logger.Info("Money updated", "money", money) },
		Notice: func(text string) { a.logger.Info("Notification", "text", text) },
	})
	if err != nil {
		return fmt.Errorf("watch player data: %w", err)
	}

	money, err := playerdata.Balance(ctx, a.router, a.cfg.Invoke.DefaultTimeout)
	if err != nil {
		a.logger.Warn("Balance request failed", "error", err)
		return nil
	}
	a.logger.Info("Joined", "peer", a.cfg.PeerID, "money", money)
	return nil
}

func (a *app) setupHealth() {
	a.monitor.Register("router", a.router.Health)
	a.monitor.Register("transport", func() health.Status {
		if hr, ok := a.tr.(transport.HealthReporter); ok && !hr.Healthy() {
			return health.NewUnhealthy("transport", "transport disconnected")
		}
		return health.NewHealthy("transport", "connected")
	})
	a.monitor.Register("registry", func() health.Status {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return health.FromError("registry", a.reg.Ping(ctx), "folder reachable")
	})
	if a.hub != nil {
		a.monitor.Register("gateway", func() health.Status {
			return health.NewHealthy("gateway", fmt.Sprintf("%d connections", len(a.hub.Peers())))
		})
	}

	if a.cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", a.cfg.Metrics.Port)
		a.mServer = metric.NewServer(addr, a.cfg.Metrics.Path, a.metrics, a.monitor.Handler(appName))
	}
}

// run serves until ctx ends, then shuts down in reverse start order
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	if a.mServer != nil {
		if err := a.mServer.Start(); err != nil {
			return err
		}
		slog.Info("Metrics server started", "address", a.mServer.Address())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.monitor.Run(gctx, healthInterval)
		return nil
	})
	if a.sessions != nil {
		g.Go(func() error {
			return a.sessions.Run(gctx, a.cfg.PlayerData.SaveInterval)
		})
	}
	if a.gwServer != nil {
		g.Go(func() error {
			slog.Info("Gateway listening", "addr", a.gwServer.Addr, "path", a.hub.Path())
			if err := a.gwServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("gateway server: %w", err)
			}
			return nil
		})
	}
	if a.gatewayClient() {
		conn := a.tr.(*gateway.Conn)
		g.Go(func() error {
			select {
			case <-conn.Done():
				return fmt.Errorf("gateway connection closed")
			case <-gctx.Done():
				return nil
			}
		})
	}

	slog.Info("Networker started", "role", a.role, "namespace", a.cfg.Namespace)
	<-gctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx, shutdownTimeout)

	err := g.Wait()
	a.closeTransport(shutdownCtx)
	if a.mServer != nil {
		if stopErr := a.mServer.Stop(shutdownCtx); stopErr != nil {
			a.logger.Warn("Metrics server stop failed", "error", stopErr)
		}
	}
	slog.Info("Networker shutdown complete")
	return err
}

func (a *app) shutdown(ctx context.Context, timeout time.Duration) {
	if a.gwServer != nil {
		_ = a.hub.Close()
		if err := a.gwServer.Shutdown(ctx); err != nil {
			a.logger.Warn("Gateway server shutdown failed", "error", err)
		}
	}
	if err := a.router.Stop(timeout); err != nil {
		a.logger.Warn("Router stop failed", "error", err)
	}
}

func (a *app) closeTransport(ctx context.Context) {
	if a.tr != nil {
		if err := a.tr.Close(); err != nil {
			a.logger.Warn("Transport close failed", "error", err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("NATS close failed", "error", err)
		}
	}
}
