package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/snapshot"
	"github.com/rewired-gh/seismo/internal/storage"
)

// TradeFeed fetches a market's trades newer than a lower bound.
type TradeFeed interface {
	FetchTrades(ctx context.Context, conditionID string, sinceMs int64) ([]models.Trade, error)
}

// TradeStore is the subset of storage the trade sync needs.
type TradeStore interface {
	GetMarket(ctx context.Context, id string) (*models.Market, error)
	LatestSnapshot(ctx context.Context, marketID string) (*models.PriceSnapshot, error)
	MarkFetched(ctx context.Context, marketID string, fetchedMs int64, at time.Time) error
	MarketsDueForSync(ctx context.Context, tier models.Tier, staleBeforeMs int64, limit int) ([]*models.SyncState, error)
}

// Ingester turns trades into snapshots.
type Ingester interface {
	Ingest(ctx context.Context, trades []models.Trade) (snapshot.IngestResult, error)
	Prune(ctx context.Context, now time.Time) (int, error)
}

// TierConfig is the polling cadence and batch size of one tier.
type TierConfig struct {
	Interval  time.Duration
	BatchSize int
}

// TradeConfig configures the trade sync.
type TradeConfig struct {
	Tiers           map[models.Tier]TierConfig
	Workers         int
	InitialLookback time.Duration
}

// DefaultTradeConfig returns the default cadences: hot 15s, warm 60s, cold 3m.
func DefaultTradeConfig() TradeConfig {
	return TradeConfig{
		Tiers: map[models.Tier]TierConfig{
			models.TierHot:  {Interval: 15 * time.Second, BatchSize: 50},
			models.TierWarm: {Interval: time.Minute, BatchSize: 100},
			models.TierCold: {Interval: 3 * time.Minute, BatchSize: 200},
		},
		Workers:         4,
		InitialLookback: time.Hour,
	}
}

// TradeResult summarizes one tier sync.
type TradeResult struct {
	Markets int
	Trades  int
	Created int
	Failed  int
	Pruned  int
}

// TradeSync fetches trades for markets due in a tier and feeds the snapshot
// builder.
type TradeSync struct {
	feed    TradeFeed
	store   TradeStore
	builder Ingester
	config  TradeConfig
}

// NewTradeSync creates a TradeSync.
func NewTradeSync(feed TradeFeed, store TradeStore, builder Ingester, config TradeConfig) *TradeSync {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &TradeSync{feed: feed, store: store, builder: builder, config: config}
}

// Interval returns the polling cadence of a tier.
func (s *TradeSync) Interval(tier models.Tier) time.Duration {
	return s.config.Tiers[tier].Interval
}

// RunTier syncs every market of tier last fetched more than the tier's
// interval ago, then prunes expired snapshots once. A failure for one market
// is logged and leaves its fetch time untouched so the next tick retries it.
func (s *TradeSync) RunTier(ctx context.Context, tier models.Tier, now time.Time) (TradeResult, error) {
	tc, ok := s.config.Tiers[tier]
	if !ok {
		return TradeResult{}, fmt.Errorf("no cadence configured for tier %s", tier)
	}
	due, err := s.store.MarketsDueForSync(ctx, tier, now.Add(-tc.Interval).UnixMilli(), tc.BatchSize)
	if err != nil {
		return TradeResult{}, fmt.Errorf("failed to list due markets: %w", err)
	}

	var (
		mu  sync.Mutex
		res = TradeResult{Markets: len(due)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for _, st := range due {
		g.Go(func() error {
			fetched, created, err := s.syncMarket(gctx, st.MarketID, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Failed++
				logger.Warn("trade sync failed for %s: %v", st.MarketID, err)
				return nil
			}
			res.Trades += fetched
			res.Created += created
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	pruned, err := s.builder.Prune(ctx, now)
	if err != nil {
		logger.Warn("%v", err)
	}
	res.Pruned = pruned
	if res.Markets > 0 {
		logger.Info("trade sync %s: %d markets, %d trades, %d snapshots, %d failed", tier, res.Markets, res.Trades, res.Created, res.Failed)
	}
	return res, nil
}

// syncMarket fetches from the market's latest snapshot onward so volume of
// trades that did not trigger a snapshot is read again on the next pass.
func (s *TradeSync) syncMarket(ctx context.Context, marketID string, now time.Time) (int, int, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load market: %w", err)
	}

	since := now.Add(-s.config.InitialLookback).UnixMilli()
	last, err := s.store.LatestSnapshot(ctx, marketID)
	switch {
	case err == nil:
		since = last.TimestampMs
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, 0, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	trades, err := s.feed.FetchTrades(ctx, marketID, since)
	if err != nil {
		return 0, 0, err
	}
	for i := range trades {
		trades[i].EventID = m.EventID
	}
	ir, err := s.builder.Ingest(ctx, trades)
	if err != nil {
		return 0, 0, err
	}

	if err := s.store.MarkFetched(ctx, marketID, now.UnixMilli(), now); err != nil {
		return len(trades), ir.Created, fmt.Errorf("failed to store fetch time: %w", err)
	}
	return len(trades), ir.Created, nil
}
