package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/slot-booking-engine/internal/app"
	"github.com/hackgods/slot-booking-engine/internal/config"
	"github.com/hackgods/slot-booking-engine/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.NewZapLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweeperInterval),
		zap.Bool("leader_lock", cfg.UseLeaderLock()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(rootCtx, cfg, zl)
	if err != nil {
		zl.Fatal("bootstrap failed", zap.Error(err))
	}
	defer rt.Close()

	if cfg.StoreBackend == config.StoreMemory {
		zl.Warn("expiry-worker with the memory store only sweeps its own process")
	}

	rt.NewSweeper().Run(rootCtx)
	zl.Info("expiry-worker stopped")
}
