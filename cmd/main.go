package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rahal-transit/bustrack/internal/app"
	"github.com/rahal-transit/bustrack/internal/config"
	"github.com/rahal-transit/bustrack/internal/logutil"
)

func main() {
	configPath := flag.String("config", os.Getenv("BUSTRACK_CONFIG"), "path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logutil.Init(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	srv, err := app.NewServer(cfg)
	if err != nil {
		zap.L().Fatal("startup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		zap.L().Fatal("server exited", zap.Error(err))
	}
}
