// Command backfill seeds a store with trades, snapshots, bars and baselines
// for a bounded lookback.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/seismo/internal/app"
	"github.com/rewired-gh/seismo/internal/logger"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")
	lookback   = flag.Duration("lookback", 72*time.Hour, "How far back to fetch trades")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, cleanup, err := InitializeBackfill(ctx, app.ConfigPath(*configPath))
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer cleanup()

	start := time.Now()
	rep, err := b.Run(ctx, *lookback, start.UTC())
	if err != nil {
		logger.Error("Backfill failed: %v", err)
		cleanup()
		os.Exit(1)
	}
	logger.Info("Backfill completed in %v: %d events, %d markets (%d failed), %d trades, %d snapshots, %d hour bars, %d day bars, %d baselines",
		time.Since(start).Round(time.Millisecond),
		rep.Events, rep.Markets, rep.FailedMarkets, rep.Trades, rep.Snapshots,
		rep.HourBars, rep.DayBars, rep.Baselines.Computed,
	)
}
