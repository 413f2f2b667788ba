package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismo/internal/aggregate"
	"github.com/rewired-gh/seismo/internal/baseline"
	"github.com/rewired-gh/seismo/internal/config"
	"github.com/rewired-gh/seismo/internal/ingest"
	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/polymarket"
	"github.com/rewired-gh/seismo/internal/snapshot"
	"github.com/rewired-gh/seismo/internal/storage"
)

// Backfill seeds a fresh store: catalog, then trades into snapshots for a
// bounded lookback, then hour and day bars, then baselines.
type Backfill struct {
	Catalog    *ingest.CatalogSync
	Feed       ingest.TradeFeed
	Store      storage.Store
	Builder    ingest.Ingester
	Aggregator *aggregate.Engine
	Baselines  *baseline.Computer
	Workers    int
}

// BackfillReport summarizes a backfill run.
type BackfillReport struct {
	Events        int
	Markets       int
	Trades        int
	Snapshots     int
	FailedMarkets int
	HourBars      int64
	DayBars       int64
	Baselines     baseline.Result
}

// ProvideBackfill assembles the backfill from configuration (for Wire).
func ProvideBackfill(
	cfg *config.Config,
	store storage.Store,
	client *polymarket.Client,
	builder *snapshot.Builder,
	aggregator *aggregate.Engine,
	baselines *baseline.Computer,
) *Backfill {
	return &Backfill{
		Catalog: ingest.NewCatalogSync(client, store, ingest.CatalogConfig{
			PageSize:  cfg.Polymarket.CatalogPageSize,
			MaxEvents: cfg.Polymarket.MaxEvents,
		}),
		Feed:       client,
		Store:      store,
		Builder:    builder,
		Aggregator: aggregator,
		Baselines:  baselines,
		Workers:    cfg.Pipeline.Workers,
	}
}

// Run backfills [now-lookback, now). A trade fetch failure for one market is
// logged and counted.
func (b *Backfill) Run(ctx context.Context, lookback time.Duration, now time.Time) (BackfillReport, error) {
	var rep BackfillReport
	if lookback <= 0 {
		return rep, fmt.Errorf("lookback must be positive, got %v", lookback)
	}
	from := now.Add(-lookback)

	cat, err := b.Catalog.Run(ctx)
	if err != nil {
		return rep, err
	}
	rep.Events = cat.Events

	markets, err := b.Store.ListActiveMarkets(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to list markets: %w", err)
	}
	rep.Markets = len(markets)
	logger.Info("backfill: %d markets from %s", len(markets), from.Format(time.RFC3339))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.Workers, 1))
	for _, m := range markets {
		g.Go(func() error {
			trades, err := b.Feed.FetchTrades(gctx, m.ID, from.UnixMilli())
			if err == nil {
				for i := range trades {
					trades[i].EventID = m.EventID
				}
			}
			var res snapshot.IngestResult
			if err == nil {
				res, err = b.Builder.Ingest(gctx, trades)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				rep.FailedMarkets++
				logger.Warn("backfill trades failed for %s: %v", m.ID, err)
				return nil
			}
			rep.Trades += len(trades)
			rep.Snapshots += res.Created
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	hour, err := b.Aggregator.Backfill(ctx, models.GranularityHour, from, now)
	if err != nil {
		return rep, fmt.Errorf("hour bars: %w", err)
	}
	rep.HourBars = hour.Bars
	day, err := b.Aggregator.Backfill(ctx, models.GranularityDay, from, now)
	if err != nil {
		return rep, fmt.Errorf("day bars: %w", err)
	}
	rep.DayBars = day.Bars

	rep.Baselines, err = b.Baselines.ComputeAll(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("baselines: %w", err)
	}
	return rep, nil
}
