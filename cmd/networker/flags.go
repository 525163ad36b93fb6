package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/c360/networker/config"
)

// CLIConfig holds command-line configuration. Zero values leave the loaded
// config untouched.
type CLIConfig struct {
	ConfigPath      string
	Role            string
	NATSURL         string
	Peer            uint64
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	GatewayAddr     string
	GatewaySecret   string
	ShutdownTimeout time.Duration
	IssueToken      bool
	TokenTTL        time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("NETWORKER_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: NETWORKER_CONFIG)")
	fs.StringVar(&cfg.Role, "role", getEnv("NETWORKER_ROLE", ""),
		"Process role: server or client (env: NETWORKER_ROLE)")
	fs.StringVar(&cfg.NATSURL, "nats-url", getEnv("NETWORKER_NATS_URL", ""),
		"NATS server URL (env: NETWORKER_NATS_URL)")
	fs.Uint64Var(&cfg.Peer, "peer", getEnvUint("NETWORKER_PEER", 0),
		"Peer id of a client (env: NETWORKER_PEER)")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("NETWORKER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: NETWORKER_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("NETWORKER_LOG_FORMAT", "json"),
		"Log format: json, text (env: NETWORKER_LOG_FORMAT)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", getEnvInt("NETWORKER_METRICS_PORT", 0),
		"Metrics and health port (env: NETWORKER_METRICS_PORT)")
	fs.StringVar(&cfg.GatewayAddr, "gateway-addr", getEnv("NETWORKER_GATEWAY_ADDR", ""),
		"Serve the WebSocket gateway on this address; a client dials it as ws://addr/ws (env: NETWORKER_GATEWAY_ADDR)")
	fs.StringVar(&cfg.GatewaySecret, "gateway-secret", getEnv("NETWORKER_GATEWAY_SECRET", ""),
		"HS256 secret for gateway tokens (env: NETWORKER_GATEWAY_SECRET)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("NETWORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: NETWORKER_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&cfg.IssueToken, "issue-token", false, "Print a gateway token for -peer and exit")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs, output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, validateFlags(cfg)
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.Role != "" && cfg.Role != "server" && cfg.Role != "client" {
		return fmt.Errorf("invalid role: %s", cfg.Role)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}
	if cfg.IssueToken && cfg.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive: %s", cfg.TokenTTL)
	}
	return nil
}

// apply copies the flags that were given over the loaded config
func (c *CLIConfig) apply(cfg *config.Config) {
	if c.Role != "" {
		cfg.Role = c.Role
	}
	if c.NATSURL != "" {
		cfg.NATS.URL = c.NATSURL
	}
	if c.Peer != 0 {
		cfg.PeerID = c.Peer
	}
	if c.MetricsPort != 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = c.MetricsPort
	}
	if c.GatewayAddr != "" {
		cfg.Gateway.Enabled = true
		cfg.Gateway.Addr = c.GatewayAddr
		if cfg.Gateway.URL == "" {
			cfg.Gateway.URL = "ws://" + c.GatewayAddr + cfg.Gateway.Path
		}
	}
	if c.GatewaySecret != "" {
		cfg.Gateway.Secret = c.GatewaySecret
	}
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - client/server channel router

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Server on a local NATS with the gateway enabled
  %s -role=server -gateway-addr=:8081 -gateway-secret=$SECRET

  # Client over NATS
  %s -role=client -peer=42

  # Mint a gateway token for peer 42
  %s -issue-token -peer=42 -gateway-secret=$SECRET

  # Validate configuration only
  %s -config=networker.yaml -validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
