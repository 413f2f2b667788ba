// Package snapshot turns raw trades into adaptively-sampled price snapshots.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/storage"
)

// deltaEpsilon absorbs float error when comparing price deltas to thresholds.
const deltaEpsilon = 1e-9

// Config holds the sampling triggers and retention policy.
type Config struct {
	MaxGap          time.Duration // always snapshot after this much time
	MinGap          time.Duration // snapshot on a moderate move after this much time
	MinDelta        float64       // moderate move
	ForceDelta      float64       // snapshot immediately on a move this large
	Retention       time.Duration
	PruneBatchSize  int
	PruneMaxBatches int
}

// DefaultConfig returns the default sampling configuration.
func DefaultConfig() Config {
	return Config{
		MaxGap:          10 * time.Minute,
		MinGap:          5 * time.Minute,
		MinDelta:        0.03,
		ForceDelta:      0.05,
		Retention:       26 * time.Hour,
		PruneBatchSize:  500,
		PruneMaxBatches: 10,
	}
}

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	Created       int
	Total         int
	Malformed     int
	Duplicates    int
	Skipped       int // at or before the market's last snapshot
	FailedMarkets int
}

// Builder converts trades into snapshots.
type Builder struct {
	store  storage.SnapshotStore
	config Config
}

// New creates a Builder.
func New(store storage.SnapshotStore, config Config) *Builder {
	return &Builder{store: store, config: config}
}

// Ingest samples trades into snapshots. Malformed trades are dropped and
// counted; a storage failure for one market does not stop the others.
func (b *Builder) Ingest(ctx context.Context, trades []models.Trade) (IngestResult, error) {
	res := IngestResult{Total: len(trades)}

	seen := make(map[string]bool, len(trades))
	byMarket := make(map[string][]models.Trade)
	for _, t := range trades {
		if !t.Valid() {
			res.Malformed++
			continue
		}
		if t.DedupKey != "" {
			if seen[t.DedupKey] {
				res.Duplicates++
				continue
			}
			seen[t.DedupKey] = true
		}
		byMarket[t.MarketID] = append(byMarket[t.MarketID], t)
	}

	marketIDs := make([]string, 0, len(byMarket))
	for id := range byMarket {
		marketIDs = append(marketIDs, id)
	}
	sort.Strings(marketIDs)

	for _, marketID := range marketIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		group := byMarket[marketID]
		sort.SliceStable(group, func(i, j int) bool { return group[i].TimestampMs < group[j].TimestampMs })

		created, skipped, err := b.ingestMarket(ctx, marketID, group)
		res.Skipped += skipped
		if err != nil {
			res.FailedMarkets++
			logger.Warn("snapshot ingest failed for market %s: %v", marketID, err)
			continue
		}
		res.Created += created
	}

	observability.RecordIngest(res.Total, res.Malformed, res.Skipped+res.Duplicates, res.Created)
	if res.Malformed > 0 {
		logger.Debug("dropped %d malformed trades", res.Malformed)
	}
	return res, nil
}

func (b *Builder) ingestMarket(ctx context.Context, marketID string, trades []models.Trade) (int, int, error) {
	last, err := b.store.LatestSnapshot(ctx, marketID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, 0, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	var (
		pending  []*models.PriceSnapshot
		skipped  int
		volume   float64
		usd      float64
		haveLast = last != nil
		lastTs   int64
		lastPx   float64
	)
	if haveLast {
		lastTs, lastPx = last.TimestampMs, last.Price
	}

	for _, t := range trades {
		if haveLast && t.TimestampMs <= lastTs {
			skipped++
			continue
		}
		volume += t.Size
		usd += t.USD()

		if !b.shouldSnapshot(haveLast, t.TimestampMs-lastTs, t.Price-lastPx) {
			continue
		}
		pending = append(pending, &models.PriceSnapshot{
			MarketID:    marketID,
			EventID:     t.EventID,
			TimestampMs: t.TimestampMs,
			Price:       t.Price,
			Volume:      volume,
			USDVolume:   usd,
		})
		haveLast, lastTs, lastPx = true, t.TimestampMs, t.Price
		volume, usd = 0, 0
	}

	if len(pending) == 0 {
		return 0, skipped, nil
	}
	created, err := b.store.InsertSnapshots(ctx, pending)
	if err != nil {
		return 0, skipped, fmt.Errorf("failed to insert snapshots: %w", err)
	}
	return created, skipped, nil
}

func (b *Builder) shouldSnapshot(haveLast bool, elapsedMs int64, delta float64) bool {
	if !haveLast {
		return true
	}
	elapsed := time.Duration(elapsedMs) * time.Millisecond
	move := math.Abs(delta)
	switch {
	case elapsed >= b.config.MaxGap:
		return true
	case move >= b.config.ForceDelta-deltaEpsilon:
		return true
	case elapsed >= b.config.MinGap && move >= b.config.MinDelta-deltaEpsilon:
		return true
	}
	return false
}

// Prune deletes snapshots older than the retention horizon, in at most
// PruneMaxBatches batches of PruneBatchSize.
func (b *Builder) Prune(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-b.config.Retention).UnixMilli()
	deleted := 0
	for i := 0; i < b.config.PruneMaxBatches; i++ {
		n, err := b.store.DeleteSnapshotsBefore(ctx, cutoff, b.config.PruneBatchSize)
		if err != nil {
			return deleted, fmt.Errorf("failed to prune snapshots: %w", err)
		}
		deleted += n
		if n < b.config.PruneBatchSize {
			break
		}
	}
	if deleted > 0 {
		observability.RecordPruned(deleted)
		logger.Debug("pruned %d snapshots older than %s", deleted, time.UnixMilli(cutoff).UTC().Format(time.RFC3339))
	}
	return deleted, nil
}
