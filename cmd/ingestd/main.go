package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/etlwatch/ingestd/internal/api"
	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/events"
	"github.com/etlwatch/ingestd/internal/ftppool"
	"github.com/etlwatch/ingestd/internal/ingest"
	"github.com/etlwatch/ingestd/internal/metrics"
	"github.com/etlwatch/ingestd/internal/scheduler"
	"github.com/etlwatch/ingestd/internal/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := server.LoadConfig()

	// Initialize Prometheus server info metric
	metrics.Init(core.Version)

	pool := ftppool.New(cfg.PoolConfig())
	defer pool.Shutdown()

	runner := ingest.NewRunner(pool, cfg.SpoolDir, cfg.ArchiveDir)

	// Optional NATS eventing: job lifecycle broker plus a remote-change
	// watcher that triggers scans between polling intervals.
	var publisher scheduler.Publisher
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		slog.Info("connected to NATS", "url", cfg.NatsURL)

		broker := events.NewBroker(nc)
		defer broker.Close()
		publisher = broker
	}

	// Start background scheduler
	sched := scheduler.New(cfg.SchedulerConfig(), pool, runner, publisher)
	sched.Start()
	defer sched.Stop()

	if nc != nil {
		watcher := events.NewWatcher(cfg.BatchDelay, sched.Tick)
		if err := watcher.Subscribe(nc); err != nil {
			slog.Error("failed to subscribe to change notifications", "error", err)
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	handler := api.NewHandler(sched, pool, cfg.RunTimeout)

	if cfg.ScanCron != "" {
		c, err := server.StartCron(cfg.ScanCron, func() {
			// Same single-active-run gate as POST /run.
			if runID, ok := handler.TriggerRun(); ok {
				slog.Info("scheduled full run started", "run_id", runID)
			} else {
				slog.Warn("scheduled full run skipped, another run is in progress")
			}
		})
		if err != nil {
			slog.Error("failed to start cron", "error", err)
			os.Exit(1)
		}
		defer c.Stop()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("ingestd listening", "port", cfg.Port, "sources", cfg.Sources)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
