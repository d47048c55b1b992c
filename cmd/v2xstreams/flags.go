package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	SourceHost      string
	SourcePort      int
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool

	usage func(w io.Writer)
}

func parseFlags(args []string, getenv func(string) string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	// Flags fall back to environment variables
	fs.StringVar(&cfg.ConfigPath, "config",
		envString(getenv, "V2X_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: V2X_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		envString(getenv, "V2X_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: V2X_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		envString(getenv, "V2X_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: V2X_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		envString(getenv, "V2X_LOG_FORMAT", "json"),
		"Log format: json, text (env: V2X_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		envBool(getenv, "V2X_DEBUG", false),
		"Enable debug mode (env: V2X_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration(getenv, "V2X_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: V2X_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.SourceHost, "source-host", "",
		"Capture feed host, overrides source.host")
	fs.IntVar(&cfg.SourcePort, "source-port", 0,
		"Capture feed port, overrides source.port")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration with credentials masked and exit")

	cfg.usage = func(w io.Writer) { printDetailedHelp(w, fs) }
	fs.Usage = func() { cfg.usage(fs.Output()) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.SourcePort < 0 || cfg.SourcePort > 65535 {
		return fmt.Errorf("invalid source port: %d", cfg.SourcePort)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - V2X message ingestion

Reads the JSON capture stream of an ITS receiver over TCP and keeps the live
CAM, DENM, MAPEM, SPATEM, SREM and SSEM state, served over HTTP and
pushed to WebSocket, MQTT and NATS.

Usage: %s [options]

Options:
`, appName, appName)
	fs.SetOutput(w)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Connect to a receiver
  %[1]s --source-host=192.168.1.20 --source-port=7000

  # Run with a config file and text logs
  %[1]s --config=/etc/v2xstreams/config.yaml --log-format=text

  # Environment overrides
  export V2X_SOURCE_HOST=192.168.1.20
  export V2X_SWEEP_INTERVAL=60s
  %[1]s

  # Validate configuration only
  %[1]s --config=config.json --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func envString(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(getenv func(string) string, key string, defaultValue bool) bool {
	if value := getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func envDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
