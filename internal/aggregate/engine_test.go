package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/storage"
)

var day0 = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snap(market string, at time.Time, price, volume float64) *models.PriceSnapshot {
	return &models.PriceSnapshot{MarketID: market, EventID: "e1", TimestampMs: at.UnixMilli(), Price: price, Volume: volume, USDVolume: volume * price}
}

func seed(t *testing.T, s *storage.Storage, snaps ...*models.PriceSnapshot) {
	t.Helper()
	if _, err := s.InsertSnapshots(context.Background(), snaps); err != nil {
		t.Fatalf("InsertSnapshots: %v", err)
	}
}

func TestHourly_OHLC(t *testing.T) {
	s := newTestStore(t)
	seed(t, s,
		snap("m1", day0.Add(10*time.Hour+5*time.Minute), 0.40, 10),
		snap("m1", day0.Add(10*time.Hour+20*time.Minute), 0.55, 5),
		snap("m1", day0.Add(10*time.Hour+40*time.Minute), 0.35, 5),
		snap("m1", day0.Add(10*time.Hour+55*time.Minute), 0.45, 20),
		snap("m1", day0.Add(11*time.Hour+1*time.Minute), 0.50, 1),
	)
	e := New(s, nil, 1)
	ctx := context.Background()

	n, err := e.Hourly(ctx, Range{From: day0.Add(10 * time.Hour).UnixMilli(), To: day0.Add(12 * time.Hour).UnixMilli()})
	if err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	if n != 2 {
		t.Fatalf("bars = %d, want 2", n)
	}
	bars, _ := s.BarsInRange(ctx, "m1", models.GranularityHour, 0, day0.Add(24*time.Hour).UnixMilli())
	b := bars[0]
	if b.Open != 0.40 || b.Close != 0.45 || b.High != 0.55 || b.Low != 0.35 || b.Volume != 40 {
		t.Errorf("unexpected bar: %+v", b)
	}
	if b.StartMs != day0.Add(10*time.Hour).UnixMilli() || b.EndMs != day0.Add(11*time.Hour).UnixMilli() {
		t.Errorf("unexpected bucket bounds: %d-%d", b.StartMs, b.EndMs)
	}
}

func TestHourly_AlignsRangeStart(t *testing.T) {
	s := newTestStore(t)
	seed(t, s,
		snap("m1", day0.Add(10*time.Hour+5*time.Minute), 0.40, 10),
		snap("m1", day0.Add(10*time.Hour+50*time.Minute), 0.60, 10),
	)
	e := New(s, nil, 1)
	ctx := context.Background()

	// A range starting mid-bucket still reads the whole bucket.
	if _, err := e.Hourly(ctx, Range{From: day0.Add(10*time.Hour + 30*time.Minute).UnixMilli(), To: day0.Add(11 * time.Hour).UnixMilli()}); err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	bars, _ := s.BarsInRange(ctx, "m1", models.GranularityHour, 0, day0.Add(24*time.Hour).UnixMilli())
	if len(bars) != 1 || bars[0].Open != 0.40 || bars[0].Volume != 20 {
		t.Errorf("partial bucket overwrote full one: %+v", bars)
	}
}

func TestAggregation_RerunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	for h := 0; h < 30; h++ {
		seed(t, s,
			snap("m1", day0.Add(time.Duration(h)*time.Hour+time.Minute), 0.5, 1),
			snap("m2", day0.Add(time.Duration(h)*time.Hour+2*time.Minute), 0.3, 2),
		)
	}
	e := New(s, nil, 1)
	ctx := context.Background()
	r := Range{From: day0.UnixMilli(), To: day0.Add(48 * time.Hour).UnixMilli()}

	if _, err := e.Hourly(ctx, r); err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	if _, err := e.Daily(ctx, r); err != nil {
		t.Fatalf("Daily: %v", err)
	}
	hours, _ := s.CountBars(ctx, models.GranularityHour)
	days, _ := s.CountBars(ctx, models.GranularityDay)

	if _, err := e.Hourly(ctx, r); err != nil {
		t.Fatalf("Hourly rerun: %v", err)
	}
	if _, err := e.Daily(ctx, r); err != nil {
		t.Fatalf("Daily rerun: %v", err)
	}
	hours2, _ := s.CountBars(ctx, models.GranularityHour)
	days2, _ := s.CountBars(ctx, models.GranularityDay)

	if hours != 60 || days != 4 {
		t.Errorf("first run: %d hour bars, %d day bars; want 60, 4", hours, days)
	}
	if hours2 != hours || days2 != days {
		t.Errorf("rerun changed counts: hours %d->%d, days %d->%d", hours, hours2, days, days2)
	}
}

func TestDaily_FromHourBars(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hour := func(h int, o, hi, lo, c, v float64) *models.AggregateBar {
		start := day0.Add(time.Duration(h) * time.Hour)
		return &models.AggregateBar{
			MarketID: "m1", EventID: "e1", Granularity: models.GranularityHour,
			StartMs: start.UnixMilli(), EndMs: start.Add(time.Hour).UnixMilli(),
			Open: o, High: hi, Low: lo, Close: c, Volume: v, USDVolume: v / 2,
		}
	}
	if err := s.UpsertBars(ctx, []*models.AggregateBar{
		hour(1, 0.30, 0.40, 0.25, 0.35, 10),
		hour(5, 0.35, 0.70, 0.35, 0.60, 20),
		hour(23, 0.60, 0.62, 0.20, 0.22, 30),
	}); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	n, err := New(s, nil, 1).Daily(ctx, Range{From: day0.UnixMilli(), To: day0.Add(24 * time.Hour).UnixMilli()})
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if n != 1 {
		t.Fatalf("day bars = %d, want 1", n)
	}
	bars, _ := s.BarsInRange(ctx, "m1", models.GranularityDay, 0, day0.Add(48*time.Hour).UnixMilli())
	b := bars[0]
	if b.Open != 0.30 || b.High != 0.70 || b.Low != 0.20 || b.Close != 0.22 || b.Volume != 60 || b.USDVolume != 30 {
		t.Errorf("unexpected day bar: %+v", b)
	}
}

func TestHourly_SparseProducesNothing(t *testing.T) {
	s := newTestStore(t)
	n, err := New(s, nil, 1).Hourly(context.Background(), Range{From: day0.UnixMilli(), To: day0.Add(time.Hour).UnixMilli()})
	if err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	if n != 0 {
		t.Errorf("bars = %d, want 0", n)
	}
}

type recordingSink struct {
	mu   sync.Mutex
	bars int
}

func (r *recordingSink) WriteBars(_ context.Context, bars []*models.AggregateBar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars += len(bars)
	return nil
}

func TestBackfill_ChunksAndSink(t *testing.T) {
	s := newTestStore(t)
	for d := 0; d < 5; d++ {
		seed(t, s, snap("m1", day0.Add(time.Duration(d)*24*time.Hour+3*time.Hour), 0.5, 1))
	}
	sink := &recordingSink{}
	e := New(s, sink, 3)

	res, err := e.Backfill(context.Background(), models.GranularityHour, day0.Add(2*time.Hour), day0.Add(5*24*time.Hour))
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if res.Chunks != 5 || res.Bars != 5 {
		t.Errorf("result = %+v, want 5 chunks, 5 bars", res)
	}
	if sink.bars != 5 {
		t.Errorf("sink got %d bars, want 5", sink.bars)
	}

	if _, err := e.Backfill(context.Background(), models.GranularityRaw, day0, day0.Add(time.Hour)); err == nil {
		t.Error("expected error for raw granularity")
	}
}

func TestDefaultRange(t *testing.T) {
	now := day0.Add(10 * time.Hour)
	r := DefaultRange(models.GranularityHour, now)
	if r.To-r.From != (3 * time.Hour).Milliseconds() {
		t.Errorf("hour default span = %d", r.To-r.From)
	}
	r = DefaultRange(models.GranularityDay, now)
	if r.To-r.From != (48 * time.Hour).Milliseconds() {
		t.Errorf("day default span = %d", r.To-r.From)
	}
}
