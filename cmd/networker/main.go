// Package main runs a networker server or client process.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/config"
	"github.com/c360/networker/gateway"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "networker"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cli, err := parseFlags(args, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	if cli.IssueToken {
		token, err := gateway.IssueToken([]byte(cfg.Gateway.Secret), channel.PeerID(cfg.PeerID), cli.TokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		_, _ = fmt.Fprintln(stdout, token)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cli.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting networker",
		"version", Version,
		"build_time", BuildTime,
		"role", cfg.Role,
		"config_path", cli.ConfigPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx, cli.ShutdownTimeout)
}

// loadConfig reads the optional config file, applies env, then flags
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cli.apply(cfg)
	return cfg, nil
}
