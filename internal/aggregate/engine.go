// Package aggregate rolls raw snapshots into hour bars and hour bars into day bars.
package aggregate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
)

// Store is the subset of storage the engine reads and writes.
type Store interface {
	AllSnapshotsInRange(ctx context.Context, from, to int64) ([]*models.PriceSnapshot, error)
	AllBarsInRange(ctx context.Context, g models.Granularity, from, to int64) ([]*models.AggregateBar, error)
	UpsertBars(ctx context.Context, bars []*models.AggregateBar) error
}

// BarSink receives bars produced by a backfill, e.g. for archiving.
// Implementations must be safe for concurrent use.
type BarSink interface {
	WriteBars(ctx context.Context, bars []*models.AggregateBar) error
}

// Range is a half-open [From, To) span in milliseconds. The zero Range means
// "use the default trailing window".
type Range struct {
	From int64
	To   int64
}

// IsZero reports whether the range is unset.
func (r Range) IsZero() bool {
	return r.From == 0 && r.To == 0
}

// DefaultRange returns the trailing window re-aggregated on each scheduled
// run: the last 3 hours for hour bars, the last 2 days for day bars.
func DefaultRange(g models.Granularity, now time.Time) Range {
	periods := 3
	if g == models.GranularityDay {
		periods = 2
	}
	to := now.UnixMilli()
	return Range{From: to - int64(periods)*g.Duration().Milliseconds(), To: to}
}

// Engine produces aggregate bars.
type Engine struct {
	store   Store
	sink    BarSink
	workers int
}

// New creates an Engine. sink may be nil. workers bounds backfill concurrency.
func New(store Store, sink BarSink, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{store: store, sink: sink, workers: workers}
}

// Hourly rolls raw snapshots in r into hour bars. Returns the bars written.
func (e *Engine) Hourly(ctx context.Context, r Range) (int, error) {
	bars, err := e.rollup(ctx, models.GranularityHour, e.resolve(models.GranularityHour, r))
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}

// Daily rolls hour bars in r into day bars. Returns the bars written.
func (e *Engine) Daily(ctx context.Context, r Range) (int, error) {
	bars, err := e.rollup(ctx, models.GranularityDay, e.resolve(models.GranularityDay, r))
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	Chunks int
	Bars   int64
}

// Backfill aggregates [from, to) at granularity g in day-sized chunks processed
// by a bounded worker pool. Bars are also handed to the sink when one is set.
func (e *Engine) Backfill(ctx context.Context, g models.Granularity, from, to time.Time) (BackfillResult, error) {
	if g != models.GranularityHour && g != models.GranularityDay {
		return BackfillResult{}, fmt.Errorf("cannot backfill granularity %q", g)
	}
	const day = 24 * time.Hour
	start := models.GranularityDay.BucketStart(from.UnixMilli())
	end := to.UnixMilli()

	var res BackfillResult
	var bars atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)

	for chunkStart := start; chunkStart < end; chunkStart += day.Milliseconds() {
		chunk := Range{From: chunkStart, To: min(chunkStart+day.Milliseconds(), end)}
		res.Chunks++
		eg.Go(func() error {
			written, err := e.rollup(egCtx, g, chunk)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", time.UnixMilli(chunk.From).UTC().Format("2006-01-02"), err)
			}
			bars.Add(int64(len(written)))
			if e.sink != nil && len(written) > 0 {
				if err := e.sink.WriteBars(egCtx, written); err != nil {
					return fmt.Errorf("archive bars: %w", err)
				}
			}
			return nil
		})
	}

	err := eg.Wait()
	res.Bars = bars.Load()
	logger.Info("backfill %s: %d chunks, %d bars", g, res.Chunks, res.Bars)
	return res, err
}

func (e *Engine) resolve(g models.Granularity, r Range) Range {
	if r.IsZero() {
		r = DefaultRange(g, time.Now())
	}
	r.From = g.BucketStart(r.From)
	return r
}

func (e *Engine) rollup(ctx context.Context, g models.Granularity, r Range) ([]*models.AggregateBar, error) {
	if r.To <= r.From {
		return nil, nil
	}
	var points []point
	switch g {
	case models.GranularityHour:
		snaps, err := e.store.AllSnapshotsInRange(ctx, r.From, r.To)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshots: %w", err)
		}
		points = fromSnapshots(snaps)
	case models.GranularityDay:
		hourBars, err := e.store.AllBarsInRange(ctx, models.GranularityHour, r.From, r.To)
		if err != nil {
			return nil, fmt.Errorf("failed to read hour bars: %w", err)
		}
		points = fromBars(hourBars)
	default:
		return nil, fmt.Errorf("unsupported granularity %q", g)
	}

	bars := bucketize(points, g)
	if len(bars) == 0 {
		return nil, nil
	}
	if err := e.store.UpsertBars(ctx, bars); err != nil {
		return nil, fmt.Errorf("failed to upsert %s bars: %w", g, err)
	}
	observability.RecordBars(string(g), len(bars))
	return bars, nil
}
