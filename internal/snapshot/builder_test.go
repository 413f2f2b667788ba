package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/storage"
)

const t0 = int64(1_700_000_000_000)

func minutes(n float64) int64 {
	return int64(n * float64(time.Minute/time.Millisecond))
}

func newTestBuilder(t *testing.T) (*Builder, *storage.Storage) {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, DefaultConfig()), s
}

func trade(ts int64, price, size float64, key string) models.Trade {
	return models.Trade{MarketID: "m1", EventID: "e1", TimestampMs: ts, Price: price, Size: size, Side: "BUY", DedupKey: key}
}

func TestIngest_FirstTradeCreatesSnapshot(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()

	res, err := b.Ingest(ctx, []models.Trade{trade(t0, 0.5, 10, "a")})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Created != 1 || res.Total != 1 {
		t.Errorf("result = %+v, want 1 created of 1", res)
	}
	snap, err := s.LatestSnapshot(ctx, "m1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if snap.Price != 0.5 || snap.Volume != 10 || snap.USDVolume != 5 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestIngest_Triggers(t *testing.T) {
	tests := []struct {
		name    string
		elapsed int64
		price   float64
		want    int
	}{
		{"force delta 0.05 at once", minutes(0.1), 0.55, 1},
		{"0.049 under five minutes", minutes(4), 0.549, 0},
		{"0.03 after five minutes", minutes(5), 0.53, 1},
		{"0.03 under five minutes", minutes(4.9), 0.53, 0},
		{"0.029 after five minutes", minutes(6), 0.529, 0},
		{"no move after ten minutes", minutes(10), 0.5, 1},
		{"no move under ten minutes", minutes(9.9), 0.5, 0},
		{"downward force delta", minutes(1), 0.45, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBuilder(t)
			ctx := context.Background()
			if _, err := b.Ingest(ctx, []models.Trade{trade(t0, 0.5, 1, "first")}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			res, err := b.Ingest(ctx, []models.Trade{trade(t0+tt.elapsed, tt.price, 1, "next")})
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if res.Created != tt.want {
				t.Errorf("created = %d, want %d", res.Created, tt.want)
			}
		})
	}
}

func TestIngest_StaleTradesIgnored(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	if _, err := b.Ingest(ctx, []models.Trade{trade(t0, 0.5, 1, "a")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := b.Ingest(ctx, []models.Trade{
		trade(t0, 0.9, 1, "same-ts"),
		trade(t0-minutes(30), 0.1, 1, "older"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Created != 0 || res.Skipped != 2 {
		t.Errorf("result = %+v, want 0 created, 2 skipped", res)
	}
	if n, _ := s.CountSnapshots(ctx); n != 1 {
		t.Errorf("snapshot count = %d, want 1", n)
	}
}

func TestIngest_MalformedAndDuplicates(t *testing.T) {
	b, _ := newTestBuilder(t)
	res, err := b.Ingest(context.Background(), []models.Trade{
		trade(t0, 0.5, 1, "a"),
		trade(t0, 0.5, 1, "a"),
		trade(t0+1, 0, 1, "zero-price"),
		trade(t0+2, 0.5, 0, "zero-size"),
		trade(0, 0.5, 1, "no-ts"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Total != 5 || res.Malformed != 3 || res.Duplicates != 1 || res.Created != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngest_AccumulatesVolumeBetweenSnapshots(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()

	// Out of order on input; the builder sorts per market.
	res, err := b.Ingest(ctx, []models.Trade{
		trade(t0+minutes(2), 0.51, 20, "c"),
		trade(t0, 0.50, 10, "a"),
		trade(t0+minutes(1), 0.50, 30, "b"),
		trade(t0+minutes(3), 0.60, 40, "d"),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want 2", res.Created)
	}
	snaps, _ := s.SnapshotsInRange(ctx, "m1", t0, t0+minutes(10))
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	second := snaps[1]
	if second.TimestampMs != t0+minutes(3) || second.Price != 0.60 {
		t.Errorf("unexpected second snapshot: %+v", second)
	}
	if second.Volume != 90 {
		t.Errorf("volume = %v, want 90", second.Volume)
	}
	wantUSD := 30*0.50 + 20*0.51 + 40*0.60
	if diff := second.USDVolume - wantUSD; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("usd volume = %v, want %v", second.USDVolume, wantUSD)
	}
}

func TestIngest_ReplayIsIdempotent(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	batch := []models.Trade{
		trade(t0, 0.5, 1, "a"),
		trade(t0+minutes(1), 0.6, 1, "b"),
		trade(t0+minutes(12), 0.6, 1, "c"),
	}
	if _, err := b.Ingest(ctx, batch); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	before, _ := s.CountSnapshots(ctx)
	res, err := b.Ingest(ctx, batch)
	if err != nil {
		t.Fatalf("Ingest replay: %v", err)
	}
	after, _ := s.CountSnapshots(ctx)
	if res.Created != 0 || before != after {
		t.Errorf("replay created %d snapshots (%d -> %d)", res.Created, before, after)
	}
}

func TestPrune_Bounded(t *testing.T) {
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer s.Close()
	cfg := DefaultConfig()
	cfg.PruneBatchSize = 2
	cfg.PruneMaxBatches = 2
	b := New(s, cfg)
	ctx := context.Background()

	now := time.UnixMilli(t0)
	var snaps []*models.PriceSnapshot
	for i := 0; i < 6; i++ {
		snaps = append(snaps, &models.PriceSnapshot{
			MarketID: "m1", EventID: "e1", Price: 0.5,
			TimestampMs: now.Add(-30*time.Hour + time.Duration(i)*time.Minute).UnixMilli(),
		})
	}
	snaps = append(snaps, &models.PriceSnapshot{MarketID: "m1", EventID: "e1", Price: 0.5, TimestampMs: now.Add(-time.Hour).UnixMilli()})
	if _, err := s.InsertSnapshots(ctx, snaps); err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}

	deleted, err := b.Prune(ctx, now)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4 (two batches of two)", deleted)
	}
	deleted, _ = b.Prune(ctx, now)
	if deleted != 2 {
		t.Errorf("second prune deleted = %d, want 2", deleted)
	}
	if n, _ := s.CountSnapshots(ctx); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}
