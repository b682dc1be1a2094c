package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warden-dev/warden/internal/config"
	"github.com/warden-dev/warden/internal/eventlog"
	"github.com/warden-dev/warden/internal/eventlog/clickhouse"
	"github.com/warden-dev/warden/internal/logger"
	"github.com/warden-dev/warden/internal/metrics"
	"github.com/warden-dev/warden/internal/server"
	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store/factory"
	"github.com/warden-dev/warden/internal/supervisor"
)

// runServe is the daemon entrypoint: open the store, reconcile records
// left behind by a previous run, start configured services and serve the
// control API until SIGINT/SIGTERM.
func runServe(flags *ServeFlags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	lg := logger.New(os.Stderr, cfg.LogLevel, true)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.LogDir(), 0o750); err != nil {
		return fmt.Errorf("create log dir %s: %w", cfg.LogDir(), err)
	}

	st, err := factory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("store schema: %w", err)
	}

	var sinks []eventlog.Sink
	if cfg.EventLog.ClickHouse != nil {
		sink, err := clickhouse.New(*cfg.EventLog.ClickHouse)
		if err != nil {
			lg.Warn("clickhouse sink unavailable, continuing without it", "error", err)
		} else {
			if err := sink.EnsureSchema(ctx); err != nil {
				lg.Warn("clickhouse schema setup failed", "error", err)
			}
			sinks = append(sinks, sink)
			defer func() { _ = sink.Close() }()
		}
	}

	sup := supervisor.New(supervisor.Options{
		Store:           st,
		Launcher:        &service.Launcher{DefaultLogDir: cfg.LogDir()},
		Events:          eventlog.New(st, lg, sinks...),
		GracePeriod:     cfg.GracePeriod,
		RestartBackoff:  cfg.RestartBackoff,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          lg,
	})

	if err := sup.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile records: %w", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		lg.Warn("metrics registration failed", "error", err)
	}

	for _, sc := range cfg.Services {
		if _, err := sup.Start(ctx, sc.Spec()); err != nil {
			lg.Warn("configured service failed to start", "name", sc.Name, "error", err)
		}
	}

	srv := server.NewServer(cfg.Listen, "/api", sup)
	lg.Info("daemon listening", "addr", cfg.Listen, "store", cfg.Store.DSN)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", "error", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("supervisor shutdown: %w", err)
	}
	lg.Info("shutdown complete")
	return nil
}
