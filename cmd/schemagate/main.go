// Package main implements the entry point for the schemagate service.
// schemagate sits between an IoT broker and its consumers: it validates
// sensor and actuator payloads against per-topic schemas, republishes
// every message on a validated or failed topic, and serves the
// configuration API the admin UI drives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/schemagate/api"
	"github.com/c360/schemagate/config"
	"github.com/c360/schemagate/metric"
	"github.com/c360/schemagate/session"
	"github.com/c360/schemagate/sink"
	"github.com/c360/schemagate/sink/influx"
	"github.com/c360/schemagate/sink/timescale"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "schemagate"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting schemagate",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	store, err := config.NewStore(cliCfg.ConfigPath, cfg, logger)
	if err != nil {
		return fmt.Errorf("create config store: %w", err)
	}

	registry := metric.NewMetricsRegistry()

	timeseries, err := buildTimeSeries(cfg, logger, registry.CoreMetrics())
	if err != nil {
		return err
	}
	defer closeTimeSeries(timeseries)

	manager, err := session.NewManager(store.SessionSettings, registry,
		session.WithLogger(logger),
		session.WithTimeSeries(timeseries))
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	apiServer, err := api.NewServer(store, manager, api.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	metricsServer := metric.NewServer(cfg.MetricsPort, "/metrics", registry)

	slog.Info("Service endpoints configured",
		"api_port", cfg.APIPort,
		"metrics_port", cfg.MetricsPort,
		"schema_dir", cfg.SchemaDir,
		"broker", cfg.Broker.Host)

	return runWithSignalHandling(manager, apiServer, metricsServer, cliCfg.ShutdownTimeout)
}

// loadConfig loads the layered configuration and applies the CLI port
// overrides on top. Flags outrank the file and environment layers.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.NewLoader(cliCfg.ConfigPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.APIPort != 0 {
		cfg.APIPort = cliCfg.APIPort
	}
	if cliCfg.MetricsPort != 0 {
		cfg.MetricsPort = cliCfg.MetricsPort
	}

	return cfg, nil
}

// buildTimeSeries assembles the configured time-series writers. The
// session forwards every routing outcome to the returned writer.
func buildTimeSeries(cfg *config.Config, logger *slog.Logger, core *metric.Metrics) (sink.Writer, error) {
	var writers []sink.Writer

	if cfg.Sinks.Influx.Enabled() {
		w, err := influx.NewWriter(cfg.Sinks.Influx, logger, core)
		if err != nil {
			return nil, fmt.Errorf("create influxdb writer: %w", err)
		}
		writers = append(writers, w)
		slog.Info("InfluxDB sink enabled",
			"url", cfg.Sinks.Influx.URL,
			"bucket", cfg.Sinks.Influx.Bucket)
	}

	if cfg.Sinks.Timescale.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		w, err := timescale.Open(ctx, timescale.Config{
			DSN:   cfg.Sinks.Timescale.DSN,
			Table: cfg.Sinks.Timescale.Table,
		}, logger, core)
		if err != nil {
			return nil, fmt.Errorf("connect to timescaledb: %w", err)
		}
		writers = append(writers, w)
		slog.Info("TimescaleDB sink enabled", "table", cfg.Sinks.Timescale.Table)
	}

	if len(writers) == 0 {
		return sink.Nop{}, nil
	}
	return sink.Multi(writers...), nil
}

func closeTimeSeries(w sink.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		slog.Warn("Closing time-series writers", "error", err)
	}
}

// runWithSignalHandling brings the service up and blocks until a signal
// arrives or a server fails, then shuts down in order: API server,
// metrics server, broker session.
func runWithSignalHandling(
	manager *session.Manager,
	apiServer *api.Server,
	metricsServer *metric.Server,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Start() }()
	go func() { errCh <- metricsServer.Start() }()

	slog.Info("schemagate started successfully")

	var runErr error
	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			slog.Error("Server exited unexpectedly", "error", err)
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := shutdown(shutdownCtx, manager, apiServer, metricsServer); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if runErr == nil {
		slog.Info("schemagate shutdown complete")
	}
	return runErr
}

// shutdown stops the servers before the session so in-flight API
// requests finish and the final scrape drains before the broker
// connection drops.
func shutdown(
	ctx context.Context,
	manager *session.Manager,
	apiServer *api.Server,
	metricsServer *metric.Server,
) error {
	var firstErr error

	if err := apiServer.Stop(ctx); err != nil {
		slog.Error("Stopping API server", "error", err)
		firstErr = err
	}

	if err := metricsServer.Stop(); err != nil {
		slog.Error("Stopping metrics server", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := manager.Stop(ctx); err != nil {
		slog.Error("Stopping session", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
