package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/docqueue/internal/bootstrap"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open job store", "error", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer func() {
		if cerr := jobs.Close(); cerr != nil {
			logger.Error("close job store", "error", cerr)
		}
	}()

	if err := jobs.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("job store health check failed", "error", err)
		os.Exit(1)
	}

	w, err := bootstrap.NewWorker(cfg, jobs, logger)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.HealthAddr, "error", err)
		os.Exit(1)
	}
	hs := server.NewHealthServer(jobs, logger)
	go func() {
		if err := hs.Serve(lis); err != nil {
			logger.Error("health server failed", "error", err)
		}
	}()
	go hs.Watch(ctx)

	logger.Info("ingest worker started", "driver", cfg.Store.Driver, "health_addr", cfg.Server.HealthAddr)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
	}

	logger.Info("shutting down")
	hs.Stop()
}
