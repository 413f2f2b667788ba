package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/seismo/internal/aggregate"
	"github.com/rewired-gh/seismo/internal/baseline"
	"github.com/rewired-gh/seismo/internal/cache"
	"github.com/rewired-gh/seismo/internal/config"
	"github.com/rewired-gh/seismo/internal/ingest"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/polymarket"
	"github.com/rewired-gh/seismo/internal/scheduler"
	"github.com/rewired-gh/seismo/internal/snapshot"
	"github.com/rewired-gh/seismo/internal/storage"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := ProvideConfig("")
	require.NoError(t, err)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "seismo.db")
	cfg.Storage.ArchiveDir = ""
	return cfg
}

func TestProvideStore_SQLite(t *testing.T) {
	cfg := testConfig(t)
	store, cleanup, err := ProvideStore(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	_, err = store.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProvideCache(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	cfg.Cache.Enabled = false
	c, cleanup := ProvideCache(ctx, cfg)
	cleanup()
	assert.Nil(t, c)

	cfg.Cache.Enabled = true
	c, cleanup = ProvideCache(ctx, cfg)
	cleanup()
	assert.IsType(t, &cache.MemoryCache{}, c)

	// unreachable redis falls back to memory
	cfg.Cache.Addr = "127.0.0.1:1"
	c, cleanup = ProvideCache(ctx, cfg)
	cleanup()
	assert.IsType(t, &cache.MemoryCache{}, c)
}

func TestProvideOptionalParts(t *testing.T) {
	cfg := testConfig(t)
	store, cleanup, err := ProvideStore(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	tg, err := ProvideTelegram(cfg)
	require.NoError(t, err)
	assert.Nil(t, tg)

	alerter, err := ProvideAlerter(cfg, store, tg)
	require.NoError(t, err)
	assert.Nil(t, alerter, "no alerter without a notifier")

	sink, err := ProvideBarSink(cfg)
	require.NoError(t, err)
	assert.Nil(t, sink)

	cfg.Storage.ArchiveDir = t.TempDir()
	sink, err = ProvideBarSink(cfg)
	require.NoError(t, err)
	assert.NotNil(t, sink)

	archiveDir := filepath.Join(t.TempDir(), "archive")
	cfg.Storage.ArchiveDir = archiveDir
	assert.NotNil(t, ProvideServiceAggregator(cfg, store))
	assert.NoDirExists(t, archiveDir, "the service must not open the archive")

	cfg.API.Enabled = false
	assert.Nil(t, ProvideAPI(cfg, store, nil))
	cfg.API.Enabled = true
	assert.NotNil(t, ProvideAPI(cfg, store, nil))
}

func TestProvidePipeline_RegistersJobs(t *testing.T) {
	cfg := testConfig(t)
	store, cleanup, err := ProvideStore(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	builder := ProvideSnapshotBuilder(cfg, store)
	p := ProvidePipeline(cfg, store, ProvidePolymarketClient(cfg), builder,
		ProvideAggregator(cfg, store, nil), ProvideBaselines(cfg, store), nil, nil)
	require.NotNil(t, p.Stream, "stream is enabled by default")

	s := ProvideScheduler(nil)
	require.NoError(t, p.Register(s))
	assert.Len(t, s.Jobs(), 13)
	assert.Contains(t, s.Jobs(), "trades-hot")
}

type fakeCatalog struct{}

func (fakeCatalog) FetchEvents(_ context.Context, offset, _ int) ([]polymarket.CatalogEvent, error) {
	if offset > 0 {
		return nil, nil
	}
	return []polymarket.CatalogEvent{{
		Event: models.Event{ID: "e1", Title: "Election", Active: true, UpdatedAt: now},
		Markets: []models.Market{
			{ID: "m1", EventID: "e1", Question: "A?", Active: true, UpdatedAt: now},
			{ID: "m2", EventID: "e1", Question: "B?", Active: true, UpdatedAt: now},
		},
	}}, nil
}

type fakeFeed struct{}

// FetchTrades returns one trade every 20 minutes over the last two days for
// m1 and fails for m2.
func (fakeFeed) FetchTrades(_ context.Context, id string, sinceMs int64) ([]models.Trade, error) {
	if id == "m2" {
		return nil, polymarket.ErrUpstream
	}
	var out []models.Trade
	for ts := now.Add(-48 * time.Hour); ts.Before(now); ts = ts.Add(20 * time.Minute) {
		if ts.UnixMilli() < sinceMs {
			continue
		}
		out = append(out, models.Trade{
			MarketID: id, TimestampMs: ts.UnixMilli(), Price: 0.5, Size: 5, Side: "BUY",
			DedupKey: id + ts.Format(time.RFC3339),
		})
	}
	return out, nil
}

func TestBackfill_Run(t *testing.T) {
	cfg := testConfig(t)
	store, cleanup, err := ProvideStore(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	b := &Backfill{
		Catalog:    ingest.NewCatalogSync(fakeCatalog{}, store, ingest.CatalogConfig{PageSize: 10}),
		Feed:       fakeFeed{},
		Store:      store,
		Builder:    snapshot.New(store, snapshot.DefaultConfig()),
		Aggregator: aggregate.New(store, nil, 2),
		Baselines:  baseline.New(store, baseline.DefaultConfig()),
		Workers:    2,
	}

	rep, err := b.Run(context.Background(), 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)
	assert.Equal(t, 2, rep.Markets)
	assert.Equal(t, 1, rep.FailedMarkets)
	// 24h at one trade per 20 minutes, every one past the 10 minute gap
	assert.Equal(t, 72, rep.Trades)
	assert.Equal(t, 72, rep.Snapshots)
	assert.Equal(t, int64(24), rep.HourBars)
	assert.Positive(t, rep.DayBars)

	n, err := store.CountBars(context.Background(), models.GranularityHour)
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	_, err = b.Run(context.Background(), 0, now)
	assert.Error(t, err)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Polymarket.StreamEnabled = false
	cfg.API.Addr = "127.0.0.1:0"
	store, cleanup, err := ProvideStore(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	p := ProvidePipeline(cfg, store, ProvidePolymarketClient(cfg), ProvideSnapshotBuilder(cfg, store),
		ProvideAggregator(cfg, store, nil), ProvideBaselines(cfg, store), nil, nil)
	a := &App{
		Config:    cfg,
		Store:     store,
		Pipeline:  p,
		Scheduler: scheduler.New(nil),
		API:       ProvideAPI(cfg, store, nil),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}
