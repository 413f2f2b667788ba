package platform

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
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

func usdSnap(market, event string, ago time.Duration, volume, usd float64) *models.PriceSnapshot {
	return &models.PriceSnapshot{
		MarketID: market, EventID: event, Price: 0.5,
		TimestampMs: now.Add(-ago).UnixMilli(), Volume: volume, USDVolume: usd,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestCompute_FewEventsFallsBackToDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertSnapshots(ctx, []*models.PriceSnapshot{
		usdSnap("m1", "e1", 10*time.Minute, 100, 50),
		usdSnap("m2", "e2", 20*time.Minute, 100, 30),
	}); err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}

	p, err := New(s, DefaultConfig()).Compute(ctx, models.Window1h, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if p.RLo != 0.0002 || p.RHi != 0.002 {
		t.Errorf("bands = %v/%v, want defaults", p.RLo, p.RHi)
	}
	if p.RLoEMA != p.RLo || p.RHiEMA != p.RHi {
		t.Errorf("first computation should seed the EMA with raw values: %+v", p)
	}
	if p.PlatformUSD != 80 || p.EventCount != 2 {
		t.Errorf("platform usd = %v, events = %d", p.PlatformUSD, p.EventCount)
	}
}

func TestCompute_QuantileBands(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var snaps []*models.PriceSnapshot
	for i := 1; i <= 10; i++ {
		snaps = append(snaps, usdSnap(fmt.Sprintf("m%d", i), fmt.Sprintf("e%d", i), time.Duration(i)*time.Minute, 1, float64(i)))
	}
	if _, err := s.InsertSnapshots(ctx, snaps); err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}

	p, err := New(s, DefaultConfig()).Compute(ctx, models.Window1h, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !approx(p.RLo, 4.0/55) || !approx(p.RHi, 9.0/55) {
		t.Errorf("bands = %v/%v, want %v/%v", p.RLo, p.RHi, 4.0/55, 9.0/55)
	}
}

func TestBands_HighAtLeastTwiceLow(t *testing.T) {
	c := New(nil, DefaultConfig())
	v := &Volumes{PlatformUSD: 100, EventTop: map[string]float64{}}
	for i := 0; i < 10; i++ {
		v.EventTop[fmt.Sprintf("e%d", i)] = 10
	}
	rLo, rHi := c.Bands(v)
	if !approx(rLo, 0.1) || !approx(rHi, 0.2) {
		t.Errorf("bands = %v/%v, want 0.1/0.2", rLo, rHi)
	}
}

func TestMarketVolumes_EventMaxAndUSDEstimate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertSnapshots(ctx, []*models.PriceSnapshot{
		usdSnap("m1", "e1", 5*time.Minute, 100, 0), // estimated at 50
		usdSnap("m2", "e1", 5*time.Minute, 10, 20),
		usdSnap("m3", "e2", 5*time.Minute, 10, 5),
		usdSnap("m4", "e3", 2*time.Hour, 10, 1000), // outside 1h
	}); err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}

	v, err := New(s, DefaultConfig()).MarketVolumes(ctx, models.Window1h, now)
	if err != nil {
		t.Fatalf("MarketVolumes: %v", err)
	}
	if v.PlatformUSD != 75 {
		t.Errorf("platform usd = %v, want 75", v.PlatformUSD)
	}
	if v.EventTop["e1"] != 50 || v.EventTop["e2"] != 5 {
		t.Errorf("event tops = %v", v.EventTop)
	}
	if _, ok := v.EventTop["e3"]; ok {
		t.Error("event outside the window should not be counted")
	}
}

func TestMarketVolumes_LongWindowsReadBars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := models.GranularityDay.BucketStart(now.Add(-3 * 24 * time.Hour).UnixMilli())
	if err := s.UpsertBars(ctx, []*models.AggregateBar{{
		MarketID: "m1", EventID: "e1", Granularity: models.GranularityDay,
		StartMs: start, EndMs: start + (24 * time.Hour).Milliseconds(),
		Open: 0.5, High: 0.5, Low: 0.5, Close: 0.5, Volume: 10, USDVolume: 7,
	}}); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	c := New(s, DefaultConfig())
	v, err := c.MarketVolumes(ctx, models.Window30d, now)
	if err != nil {
		t.Fatalf("MarketVolumes: %v", err)
	}
	if v.PlatformUSD != 7 {
		t.Errorf("30d platform usd = %v, want 7", v.PlatformUSD)
	}
	v, _ = c.MarketVolumes(ctx, models.Window7d, now)
	if v.PlatformUSD != 0 {
		t.Errorf("7d reads hour bars, got usd %v", v.PlatformUSD)
	}
}

func TestCompute_EMASmoothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.AppendPlatformMetrics(ctx, &models.PlatformMetrics{
		ID: "prev", Window: models.Window24h, ComputedAt: now.Add(-time.Hour),
		RLo: 0.001, RHi: 0.01, RLoEMA: 0.001, RHiEMA: 0.01,
	}); err != nil {
		t.Fatalf("AppendPlatformMetrics: %v", err)
	}

	p, err := New(s, DefaultConfig()).Compute(ctx, models.Window24h, now)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	wantLo := 0.3*0.0002 + 0.7*0.001
	wantHi := 0.3*0.002 + 0.7*0.01
	if !approx(p.RLoEMA, wantLo) || !approx(p.RHiEMA, wantHi) {
		t.Errorf("ema = %v/%v, want %v/%v", p.RLoEMA, p.RHiEMA, wantLo, wantHi)
	}
	latest, _ := s.LatestPlatformMetrics(ctx, models.Window24h)
	if latest.ID != p.ID {
		t.Errorf("new record not appended as latest")
	}
}

func TestLatest_ComputesWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := New(s, DefaultConfig())

	p, err := c.Latest(ctx, models.Window7d, now)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	again, err := c.Latest(ctx, models.Window7d, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if again.ID != p.ID {
		t.Error("Latest should return the stored record once one exists")
	}
}
