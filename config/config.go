package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/pkg/retry"
)

// Backend names for the registry folder and the player data store
const (
	BackendMemory = "memory" // in-process, single binary only
	BackendKV     = "kv"     // NATS JetStream KV
	BackendRemote = "remote" // ask the server over the bus (client registry only)
)

// Config represents the complete networker configuration
type Config struct {
	Role      string `json:"role" yaml:"role" env:"ROLE"`
	Namespace string `json:"namespace" yaml:"namespace" env:"NAMESPACE"`
	PeerID    uint64 `json:"peer_id,omitempty" yaml:"peer_id" env:"PEER"`

	NATS       NATSConfig       `json:"nats" yaml:"nats" envPrefix:"NATS_"`
	Registry   RegistryConfig   `json:"registry" yaml:"registry" envPrefix:"REGISTRY_"`
	Invoke     InvokeConfig     `json:"invoke" yaml:"invoke" envPrefix:"INVOKE_"`
	Retry      RetryConfig      `json:"retry" yaml:"retry" envPrefix:"RETRY_"`
	Workers    WorkersConfig    `json:"workers" yaml:"workers" envPrefix:"WORKERS_"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway" envPrefix:"GATEWAY_"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	PlayerData PlayerDataConfig `json:"playerdata" yaml:"playerdata" envPrefix:"PLAYERDATA_"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url" yaml:"url" env:"URL"`
	Name          string        `json:"name,omitempty" yaml:"name" env:"NAME"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait" env:"RECONNECT_WAIT"`
	Username      string        `json:"username,omitempty" yaml:"username" env:"USERNAME"`
	Password      string        `json:"password,omitempty" yaml:"password" env:"PASSWORD"`
	Token         string        `json:"token,omitempty" yaml:"token" env:"TOKEN"`
	TLSCert       string        `json:"tls_cert,omitempty" yaml:"tls_cert" env:"TLS_CERT"`
	TLSKey        string        `json:"tls_key,omitempty" yaml:"tls_key" env:"TLS_KEY"`
	TLSCA         string        `json:"tls_ca,omitempty" yaml:"tls_ca" env:"TLS_CA"`
}

// TLS reports whether any NATS TLS material is configured
func (n NATSConfig) TLS() bool {
	return n.TLSCert != "" || n.TLSKey != "" || n.TLSCA != ""
}

// RegistryConfig selects where channel descriptors are published
type RegistryConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"`
	Bucket  string `json:"bucket,omitempty" yaml:"bucket" env:"BUCKET"`
}

// InvokeConfig bounds function calls
type InvokeConfig struct {
	DefaultTimeout   time.Duration `json:"default_timeout" yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	ProvisionTimeout time.Duration `json:"provision_timeout" yaml:"provision_timeout" env:"PROVISION_TIMEOUT"`
}

// RetryConfig configures InvokeServerWithRetry
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `json:"jitter" yaml:"jitter" env:"JITTER"`
}

// WorkersConfig sizes the handler worker pool
type WorkersConfig struct {
	Count     int `json:"count" yaml:"count" env:"COUNT"`
	QueueSize int `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
}

// GatewayConfig configures the WebSocket hub (server) or dial target (client)
type GatewayConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr      string  `json:"addr,omitempty" yaml:"addr" env:"ADDR"`
	URL       string  `json:"url,omitempty" yaml:"url" env:"URL"`
	Path      string  `json:"path,omitempty" yaml:"path" env:"PATH"`
	Secret    string  `json:"secret,omitempty" yaml:"secret" env:"SECRET"`
	Token     string  `json:"token,omitempty" yaml:"token" env:"TOKEN"`
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `json:"burst,omitempty" yaml:"burst" env:"BURST"`
}

// MetricsConfig configures the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Port    int    `json:"port" yaml:"port" env:"PORT"`
	Path    string `json:"path" yaml:"path" env:"PATH"`
}

// PlayerDataConfig selects the player data store
type PlayerDataConfig struct {
	Backend      string        `json:"backend" yaml:"backend" env:"BACKEND"`
	Bucket       string        `json:"bucket,omitempty" yaml:"bucket" env:"BUCKET"`
	SaveInterval time.Duration `json:"save_interval" yaml:"save_interval" env:"SAVE_INTERVAL"`
}

// Default returns the configuration every load starts from
func Default() *Config {
	r := retry.Invoke()
	return &Config{
		Role:      channel.RoleServer.String(),
		Namespace: "networker",
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "networker",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Registry: RegistryConfig{Backend: BackendKV, Bucket: "NETWORKER_REGISTRY"},
		Invoke: InvokeConfig{
			DefaultTimeout:   5 * time.Second,
			ProvisionTimeout: 10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:  r.MaxAttempts,
			InitialDelay: r.InitialDelay,
			MaxDelay:     r.MaxDelay,
			Multiplier:   r.Multiplier,
			Jitter:       r.AddJitter,
		},
		Workers: WorkersConfig{Count: 8, QueueSize: 1024},
		Gateway: GatewayConfig{Addr: ":8081", Path: "/ws", RateLimit: 50, Burst: 100},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		PlayerData: PlayerDataConfig{
			Backend:      BackendMemory,
			Bucket:       "NETWORKER_PLAYERDATA",
			SaveInterval: time.Minute,
		},
	}
}

// RoleValue parses Role
func (c *Config) RoleValue() (channel.Role, error) {
	switch strings.ToLower(c.Role) {
	case "server":
		return channel.RoleServer, nil
	case "client":
		return channel.RoleClient, nil
	default:
		return 0, fmt.Errorf("role %q must be server or client", c.Role)
	}
}

// RetryPolicy converts the retry section for router.WithRetry
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		AddJitter:    c.Retry.Jitter,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	role, err := c.RoleValue()
	if err != nil {
		return err
	}

	if !isValidNATSSubjectPart(c.Namespace) {
		return fmt.Errorf(
			"namespace '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Namespace,
		)
	}
	if role == channel.RoleClient && c.PeerID == 0 {
		return errors.New("peer_id is required for a client")
	}
	if (c.NATS.TLSCert == "") != (c.NATS.TLSKey == "") {
		return errors.New("nats.tls_cert and nats.tls_key must be set together")
	}

	switch c.Registry.Backend {
	case BackendMemory, BackendKV:
	case BackendRemote:
		if role == channel.RoleServer {
			return errors.New("registry.backend remote is only valid for a client")
		}
	default:
		return fmt.Errorf("registry.backend %q must be memory, kv or remote", c.Registry.Backend)
	}
	if c.Registry.Backend == BackendKV && c.Registry.Bucket == "" {
		return errors.New("registry.bucket is required for the kv backend")
	}

	if c.Invoke.DefaultTimeout <= 0 {
		return errors.New("invoke.default_timeout must be positive")
	}
	if c.Invoke.ProvisionTimeout <= 0 {
		return errors.New("invoke.provision_timeout must be positive")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return errors.New("retry delays must satisfy 0 <= initial_delay <= max_delay")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}

	if c.Workers.Count < 1 || c.Workers.QueueSize < 1 {
		return errors.New("workers.count and workers.queue_size must be positive")
	}

	if c.Gateway.Enabled {
		if role == channel.RoleServer && len(c.Gateway.Secret) < 16 {
			return errors.New("gateway.secret must be at least 16 bytes")
		}
		if role == channel.RoleClient && (c.Gateway.URL == "" || c.Gateway.Token == "") {
			return errors.New("gateway.url and gateway.token are required for a gateway client")
		}
		if c.Gateway.RateLimit < 0 || c.Gateway.Burst < 0 {
			return errors.New("gateway rate_limit and burst cannot be negative")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}

	switch c.PlayerData.Backend {
	case BackendMemory, BackendKV:
	default:
		return fmt.Errorf("playerdata.backend %q must be memory or kv", c.PlayerData.Backend)
	}
	if c.PlayerData.SaveInterval <= 0 {
		return errors.New("playerdata.save_interval must be positive")
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	copied := *c
	return &copied
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token, &masked.Gateway.Secret, &masked.Gateway.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
