package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/seismo/internal/app"
	"github.com/rewired-gh/seismo/internal/logger"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cleanup, err := InitializeApp(ctx, app.ConfigPath(*configPath))
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer cleanup()
	logger.Info("Configuration loaded from %s", *configPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	logger.Info("Starting seismo (storage: %s, score interval: %v, alerts: %v)",
		a.Config.Storage.Driver,
		a.Config.Pipeline.ScoreInterval,
		a.Config.Alert.Enabled && a.Telegram != nil,
	)

	if err := a.Run(ctx); err != nil {
		logger.Error("Service failed: %v", err)
		cleanup()
		os.Exit(1)
	}
	logger.Info("Service stopped")
}
