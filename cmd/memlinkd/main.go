package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hannesnortje/memlink/internal/config"
	"github.com/hannesnortje/memlink/internal/connection"
	"github.com/hannesnortje/memlink/internal/health"
	"github.com/hannesnortje/memlink/internal/model"
	"github.com/hannesnortje/memlink/internal/process"
	"github.com/hannesnortje/memlink/internal/realtime"
	"github.com/hannesnortje/memlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/memlink.yaml", "path to config file")
	debugAddr := flag.String("debug-addr", "", "optional address for the debug status endpoint (e.g. :8081)")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting memlinkd",
		"version", version.String(),
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		slog.SetDefault(logger)
	}

	logger.Info("configuration loaded",
		"address", cfg.Server.Address,
		"mode", cfg.Server.Mode,
		"realtime_url", cfg.Realtime.URL,
	)

	// Create context with cancellation
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

	probe := health.NewProbe(health.WithLogger(logger))

	// Assemble the manager; local mode gets a process launcher whose
	// readiness poll reuses the health probe.
	opts := []connection.Option{}
	if cfg.Server.Mode == model.ModeLocal {
		launcher := process.NewLauncher(cfg, func(ctx context.Context) bool {
			return probe.Check(ctx, cfg).Status != model.HealthUnreachable
		}, logger)
		opts = append(opts, connection.WithStarter(launcher))
	}

	channel := realtime.NewChannel(cfg, logger)
	opts = append(opts, connection.WithTrafficSource(channel))

	mgr := connection.NewManager(cfg, probe, logger, opts...)
	defer mgr.Close()

	dist := realtime.NewDistributor(cfg, channel, logger)

	// Log every lifecycle event and realtime transition.
	sub := mgr.Subscribe()
	defer mgr.Unsubscribe(sub)
	go func() {
		for ev := range sub.C {
			logger.Info("lifecycle event",
				"type", ev.Type,
				"connection", ev.ConnectionID,
				"data", ev.Data,
			)
		}
	}()

	dist.OnData(func(u model.RealtimeUpdate) {
		logger.Debug("realtime update",
			"category", u.Category,
			"bytes", len(u.Payload),
			"cached", u.Cached,
		)
	})
	dist.OnStatus(func(ev realtime.StatusEvent) {
		logger.Info("realtime status", "state", ev.State, "error", ev.Err)
	})

	if *debugAddr != "" {
		srv := &http.Server{
			Addr:    *debugAddr,
			Handler: debugHandler(mgr, dist),
		}
		go func() {
			logger.Info("starting debug server", "addr", *debugAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("debug server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	if err := mgr.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	if err := dist.Start(ctx); err != nil {
		logger.Warn("realtime channel not yet available", "error", err)
	}

	<-ctx.Done()

	logger.Info("shutting down")
	dist.Stop()
	channel.Close()

	// Stop the local backend while still connected, then drop the state.
	if cfg.Server.Mode == model.ModeLocal {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := mgr.StopServer(stopCtx); err != nil {
			logger.Warn("backend stop failed", "error", err)
		}
	}
	mgr.Disconnect()

	logger.Info("memlinkd stopped")
}

// debugHandler serves the current status and metrics snapshot as JSON.
func debugHandler(mgr connection.Manager, dist *realtime.Distributor) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		conn := mgr.Connection()
		m := mgr.Metrics()

		lastReceived := map[string]time.Time{}
		for _, cat := range model.Categories() {
			lastReceived[string(cat)] = dist.GetLastReceived(cat)
		}

		resp := map[string]any{
			"status":        conn.Status,
			"connection_id": conn.ID,
			"healthy":       mgr.IsHealthy(),
			"retry_count":   conn.RetryCount,
			"metrics": map[string]any{
				"uptime":               m.Uptime.String(),
				"health_checks":        m.HealthChecks,
				"failed_health_checks": m.FailedHealthChecks,
				"reconnections":        m.Reconnections,
				"avg_response_time":    m.AvgResponseTime.String(),
				"last_response_time":   m.LastResponseTime.String(),
				"bytes_in":             m.BytesIn,
				"bytes_out":            m.BytesOut,
			},
			"last_received": lastReceived,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}
