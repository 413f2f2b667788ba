package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/polymarket"
	"github.com/rewired-gh/seismo/internal/snapshot"
	"github.com/rewired-gh/seismo/internal/storage"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeCatalog struct {
	pages   [][]polymarket.CatalogEvent
	offsets []int
}

func (f *fakeCatalog) FetchEvents(_ context.Context, offset, limit int) ([]polymarket.CatalogEvent, error) {
	f.offsets = append(f.offsets, offset)
	i := offset / limit
	if i >= len(f.pages) {
		return nil, nil
	}
	return f.pages[i], nil
}

func catalogEvent(id, title string, marketIDs ...string) polymarket.CatalogEvent {
	ce := polymarket.CatalogEvent{Event: models.Event{ID: id, Title: title, Active: true, UpdatedAt: now}}
	for _, m := range marketIDs {
		ce.Markets = append(ce.Markets, models.Market{ID: m, EventID: id, Question: m + "?", Active: true, UpdatedAt: now})
	}
	return ce
}

func TestCatalogSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSyncState(ctx, &models.SyncState{MarketID: "m1", Tier: models.TierHot, LastTradeFetchMs: 99, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}
	feed := &fakeCatalog{pages: [][]polymarket.CatalogEvent{
		{catalogEvent("e1", "Event one", "m1", "m2"), catalogEvent("e2", "", "m3")},
		{catalogEvent("e3", "Event three", "m4")},
	}}

	res, err := NewCatalogSync(feed, s, CatalogConfig{PageSize: 2}).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Events != 2 || res.Markets != 3 || res.Tradable != 3 || res.Invalid != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(feed.offsets) != 2 || feed.offsets[1] != 2 {
		t.Errorf("offsets = %v, want [0 2]", feed.offsets)
	}

	st, err := s.GetSyncState(ctx, "m1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Tier != models.TierHot || st.LastTradeFetchMs != 99 {
		t.Errorf("existing sync state was clobbered: %+v", st)
	}
	st, err = s.GetSyncState(ctx, "m4")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Tier != models.TierCold {
		t.Errorf("new market tier = %s, want cold", st.Tier)
	}
	if _, err := s.GetMarket(ctx, "m3"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("markets of an invalid event should be skipped, got %v", err)
	}
}

func TestCatalogSync_MaxEvents(t *testing.T) {
	s := newTestStore(t)
	feed := &fakeCatalog{pages: [][]polymarket.CatalogEvent{
		{catalogEvent("e1", "One"), catalogEvent("e2", "Two")},
		{catalogEvent("e3", "Three"), catalogEvent("e4", "Four")},
	}}
	res, err := NewCatalogSync(feed, s, CatalogConfig{PageSize: 2, MaxEvents: 2}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Events != 2 || len(feed.offsets) != 1 {
		t.Errorf("events = %d, pages = %d", res.Events, len(feed.offsets))
	}
}

type fakeTrades struct {
	mu     sync.Mutex
	trades map[string][]models.Trade
	fail   map[string]bool
	since  map[string]int64
}

func (f *fakeTrades) FetchTrades(_ context.Context, id string, sinceMs int64) ([]models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since[id] = sinceMs
	if f.fail[id] {
		return nil, polymarket.ErrUpstream
	}
	var out []models.Trade
	for _, t := range f.trades[id] {
		if t.TimestampMs >= sinceMs {
			out = append(out, t)
		}
	}
	return out, nil
}

func trade(market string, ago time.Duration, price float64, key string) models.Trade {
	return models.Trade{MarketID: market, TimestampMs: now.Add(-ago).UnixMilli(), Price: price, Size: 10, Side: "BUY", DedupKey: key}
}

func seedDue(t *testing.T, s *storage.Storage, id string, tier models.Tier) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertMarket(ctx, &models.Market{ID: id, EventID: "e1", Active: true, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	if err := s.UpsertSyncState(ctx, &models.SyncState{MarketID: id, Tier: tier, PriorityScore: 12, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}
}

func TestTradeSync_RunTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDue(t, s, "m1", models.TierCold)
	seedDue(t, s, "m2", models.TierCold)
	seedDue(t, s, "m3", models.TierHot)
	feed := &fakeTrades{
		trades: map[string][]models.Trade{
			"m1": {
				trade("m1", 30*time.Minute, 0.50, "a"),
				trade("m1", 20*time.Minute, 0.50, "b"),
				trade("m1", 5*time.Minute, 0.60, "c"),
			},
		},
		fail:  map[string]bool{"m2": true},
		since: map[string]int64{},
	}
	ts := NewTradeSync(feed, s, snapshot.New(s, snapshot.DefaultConfig()), DefaultTradeConfig())

	res, err := ts.RunTier(ctx, models.TierCold, now)
	if err != nil {
		t.Fatalf("RunTier: %v", err)
	}
	if res.Markets != 2 || res.Trades != 3 || res.Created != 3 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
	if feed.since["m1"] != now.Add(-time.Hour).UnixMilli() {
		t.Errorf("first lower bound = %d, want the initial lookback", feed.since["m1"])
	}
	if _, ok := feed.since["m3"]; ok {
		t.Error("hot market should not be synced by the cold tier")
	}

	latest, err := s.LatestSnapshot(ctx, "m1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.EventID != "e1" || latest.Price != 0.60 {
		t.Errorf("latest snapshot = %+v", latest)
	}

	st, _ := s.GetSyncState(ctx, "m1")
	if st.LastTradeFetchMs != now.UnixMilli() || st.Tier != models.TierCold || st.PriorityScore != 12 {
		t.Errorf("m1 sync state = %+v", st)
	}
	st, _ = s.GetSyncState(ctx, "m2")
	if st.LastTradeFetchMs != 0 {
		t.Errorf("failed market fetch time = %d, want untouched", st.LastTradeFetchMs)
	}

	// Next pass starts from the latest snapshot.
	later := now.Add(4 * time.Minute)
	if _, err := ts.RunTier(ctx, models.TierCold, later); err != nil {
		t.Fatalf("RunTier: %v", err)
	}
	if feed.since["m1"] != latest.TimestampMs {
		t.Errorf("second lower bound = %d, want %d", feed.since["m1"], latest.TimestampMs)
	}
}

func TestTradeSync_NotDueIsSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDue(t, s, "m1", models.TierWarm)
	if err := s.UpsertSyncState(ctx, &models.SyncState{MarketID: "m1", Tier: models.TierWarm, LastTradeFetchMs: now.Add(-30 * time.Second).UnixMilli(), UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}
	feed := &fakeTrades{since: map[string]int64{}}
	res, err := NewTradeSync(feed, s, snapshot.New(s, snapshot.DefaultConfig()), DefaultTradeConfig()).RunTier(ctx, models.TierWarm, now)
	if err != nil {
		t.Fatalf("RunTier: %v", err)
	}
	if res.Markets != 0 || len(feed.since) != 0 {
		t.Errorf("market fetched 30s after the last sync on a 60s cadence: %+v", res)
	}
}

// retieringFeed changes a market's tier while its trades are being fetched,
// the way the priority job does when it runs alongside a tier sync.
type retieringFeed struct {
	*fakeTrades
	store *storage.Storage
}

func (f *retieringFeed) FetchTrades(ctx context.Context, id string, sinceMs int64) ([]models.Trade, error) {
	if err := f.store.SetSyncTier(ctx, id, models.TierHot, 88, now); err != nil {
		return nil, err
	}
	return f.fakeTrades.FetchTrades(ctx, id, sinceMs)
}

func TestTradeSync_KeepsTierWrittenDuringFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDue(t, s, "m1", models.TierCold)
	feed := &retieringFeed{
		fakeTrades: &fakeTrades{
			trades: map[string][]models.Trade{"m1": {trade("m1", 5*time.Minute, 0.50, "a")}},
			since:  map[string]int64{},
		},
		store: s,
	}

	if _, err := NewTradeSync(feed, s, snapshot.New(s, snapshot.DefaultConfig()), DefaultTradeConfig()).RunTier(ctx, models.TierCold, now); err != nil {
		t.Fatalf("RunTier: %v", err)
	}
	st, err := s.GetSyncState(ctx, "m1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Tier != models.TierHot || st.PriorityScore != 88 {
		t.Errorf("tier written during the fetch was overwritten: %+v", st)
	}
	if st.LastTradeFetchMs != now.UnixMilli() {
		t.Errorf("fetch time = %d, want %d", st.LastTradeFetchMs, now.UnixMilli())
	}
}

type fakeStream struct {
	assets chan []polymarket.Asset
	trades []models.Trade
}

func (f *fakeStream) Run(ctx context.Context, assets []polymarket.Asset, handle func(models.Trade)) error {
	for _, t := range f.trades {
		handle(t)
	}
	f.assets <- assets
	<-ctx.Done()
	return ctx.Err()
}

func TestStreamIngestor_FlushesOnShutdown(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.UpsertMarket(ctx, &models.Market{ID: "m1", EventID: "e1", YesTokenID: "y1", NoTokenID: "n1", Active: true, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	if err := s.UpsertSyncState(ctx, &models.SyncState{MarketID: "m1", Tier: models.TierHot, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}
	stream := &fakeStream{
		assets: make(chan []polymarket.Asset, 1),
		trades: []models.Trade{
			{MarketID: "m1", EventID: "e1", TimestampMs: now.UnixMilli(), Price: 0.4, Size: 5, DedupKey: "ws:1"},
		},
	}
	ing := NewStreamIngestor(stream, s, snapshot.New(s, snapshot.DefaultConfig()), StreamConfig{FlushInterval: time.Hour, RefreshInterval: time.Hour})

	errc := make(chan error, 1)
	go func() { errc <- ing.Run(ctx) }()

	select {
	case assets := <-stream.assets:
		if len(assets) != 2 {
			t.Errorf("assets = %+v, want yes and no tokens", assets)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started")
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}

	n, err := s.CountSnapshots(context.Background())
	if err != nil {
		t.Fatalf("CountSnapshots: %v", err)
	}
	if n != 1 {
		t.Errorf("snapshots = %d, want 1 flushed on shutdown", n)
	}
}
