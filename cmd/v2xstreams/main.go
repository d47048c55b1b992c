// Package main runs v2xstreams: it connects to the capture feed of an ITS
// receiver, keeps the live V2X state and serves it over HTTP, WebSocket,
// MQTT and NATS.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/c360/v2xstreams/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "v2xstreams"
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

	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, stdout io.Writer) error {
	cliCfg, err := parseFlags(args, getenv)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage(stdout)
		return nil
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat, cfg.Platform.InstanceID)
	slog.SetDefault(logger)

	if cliCfg.PrintConfig {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting v2xstreams",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"source", fmt.Sprintf("%s:%d", cfg.Source.Host, cfg.Source.Port),
		"sweep_interval", cfg.Sweep.Interval)

	return runWithSignalHandling(context.Background(), cfg, logger, cliCfg.ShutdownTimeout)
}

// initializeConfiguration loads the layered configuration, applies the
// command-line overrides and validates the result
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.SourceHost != "" {
		cfg.Source.Host = cliCfg.SourceHost
	}
	if cliCfg.SourcePort != 0 {
		cfg.Source.Port = cliCfg.SourcePort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Platform.InstanceID == "" {
		cfg.Platform.InstanceID = uuid.NewString()
	}
	return cfg, nil
}

// loadConfig merges defaults, the optional file and V2X_ environment overrides
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

// runWithSignalHandling starts the application and blocks until a shutdown
// signal arrives or a server fails
func runWithSignalHandling(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	a, err := newApp(signalCtx, cfg, logger)
	if err != nil {
		return err
	}

	if err := a.start(signalCtx); err != nil {
		_ = a.stop(context.Background(), shutdownTimeout)
		return err
	}
	logger.Info("v2xstreams started")

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-a.serveErr:
		logger.Error("Server failed, shutting down", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := a.stop(shutdownCtx, shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("v2xstreams shutdown complete")
	return runErr
}
