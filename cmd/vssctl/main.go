// Command vssctl connects to a signal broker, subscribes to the configured
// signal paths, and prints every pushed update. With a recorder block in the
// config, updates are also batched into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	vssclient "github.com/vclink/vssclient"
	"github.com/vclink/vssclient/internal/database"
	"github.com/vclink/vssclient/internal/recorder"
	"github.com/vclink/vssclient/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/vssctl.yaml", "path to config file")
	flag.Parse()

	cfg, err := vssclient.ParseConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Set up structured logging
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting vssctl",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"server_uri", cfg.ServerURI,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	client, err := vssclient.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	if err := client.Connect(ctx); err != nil {
		// With auto-reconnect on, the supervisor keeps retrying; report
		// and carry on.
		if !cfg.Connection.AutoReconnectEnabled() {
			logger.Error("failed to connect", "error", err)
			os.Exit(1)
		}
		logger.Warn("broker unreachable, retrying in background", "error", err)
	} else {
		if info, err := client.GetServerInfo(ctx); err == nil {
			logger.Info("connected", "broker", info.Name, "broker_version", info.Version)
		}
	}

	// Optional recorder
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled() {
		logger.Info("connecting recorder database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)
		pool, err := database.Open(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect recorder database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rec = recorder.New(cfg.Recorder, pool, logger.With("component", "recorder"))
		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	printUpdate := func(path, value string, field int) {
		logger.Info("update", "path", path, "value", value, "field", field)
		if rec != nil {
			rec.Record(path, value, field)
		}
	}

	if client.IsConnected() {
		n, err := client.SubscribeAll(ctx, printUpdate)
		if err != nil {
			logger.Warn("subscribe-all incomplete", "subscribed", n, "error", err)
		} else {
			logger.Info("subscribed", "paths", n)
		}
	} else {
		// Register now, stream when the supervisor gets us connected.
		for _, path := range cfg.SignalPaths {
			if err := client.SubscribeWithReconnect(ctx, path, printUpdate, vssclient.FieldValue); err != nil {
				logger.Warn("subscription registration failed", "path", path, "error", err)
			}
		}
		logger.Info("subscriptions registered for reconnect", "paths", len(cfg.SignalPaths))
	}

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := client.Close(shutdownCtx); err != nil {
		logger.Warn("client close incomplete", "error", err)
	}
	if rec != nil {
		if err := rec.Stop(shutdownCtx); err != nil {
			logger.Warn("recorder stop incomplete", "error", err)
		}
		stats := rec.Stats()
		logger.Info("recorder totals",
			"inserts", stats.Inserts,
			"flushes", stats.Flushes,
			"errors", stats.Errors,
			"dropped", stats.Dropped,
		)
	}

	logger.Info("vssctl stopped")
}
