package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds the flag and environment settings the process starts
// with. Port values of zero defer to the configuration file.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	APIPort         int
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Every flag reads its default from the matching SCHEMAGATE_*
	// variable, so flags outrank the environment.
	configPath := envString("SCHEMAGATE_CONFIG", "config.json")
	for _, name := range []string{"config", "c"} {
		flag.StringVar(&cfg.ConfigPath, name, configPath,
			"Path to configuration file (env: SCHEMAGATE_CONFIG)")
	}

	flag.StringVar(&cfg.LogLevel, "log-level",
		envString("SCHEMAGATE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SCHEMAGATE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		envString("SCHEMAGATE_LOG_FORMAT", "json"),
		"Log format: json, text (env: SCHEMAGATE_LOG_FORMAT)")

	flag.IntVar(&cfg.APIPort, "api-port",
		envInt("SCHEMAGATE_API_PORT", 0),
		"Management API port, 0 to use the configured value (env: SCHEMAGATE_API_PORT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		envInt("SCHEMAGATE_METRICS_PORT", 0),
		"Metrics port, 0 to use the configured value (env: SCHEMAGATE_METRICS_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration("SCHEMAGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SCHEMAGATE_SHUTDOWN_TIMEOUT)")

	for _, name := range []string{"version", "v"} {
		flag.BoolVar(&cfg.ShowVersion, name, false, "Show version information")
	}
	for _, name := range []string{"help", "h"} {
		flag.BoolVar(&cfg.ShowHelp, name, false, "Show help information")
	}
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Version and help short-circuit before anything runs.
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if err := checkPort("api", cfg.APIPort); err != nil {
		return err
	}
	if err := checkPort("metrics", cfg.MetricsPort); err != nil {
		return err
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

// checkPort accepts zero, which defers to the configuration file.
func checkPort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Schema Validation Gateway

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a specific configuration file
  %s --config=/etc/schemagate/config.json

  # Check the configuration without starting
  %s --validate

  # Debug a broker issue with readable logs
  %s --log-level=debug --log-format=text

  # Configure through the environment instead of flags
  export SCHEMAGATE_CONFIG=/etc/schemagate/config.json
  export SCHEMAGATE_BROKER_HOST=broker.local
  %s

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// envString returns the variable's value, or fallback when unset or
// empty.
func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt ignores unparseable values rather than failing startup; the
// flag default carries the day.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
