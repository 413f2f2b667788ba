package storage

import (
	"context"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
)

// CatalogStore holds the event/market catalog.
type CatalogStore interface {
	// UpsertEvent inserts or replaces an event by id.
	UpsertEvent(ctx context.Context, e *models.Event) error

	// UpsertMarket inserts or replaces a market by id.
	UpsertMarket(ctx context.Context, m *models.Market) error

	// GetEvent returns ErrNotFound if the event does not exist.
	GetEvent(ctx context.Context, id string) (*models.Event, error)

	// GetMarket returns ErrNotFound if the market does not exist.
	GetMarket(ctx context.Context, id string) (*models.Market, error)

	// ListActiveEvents returns events that are active and not closed.
	ListActiveEvents(ctx context.Context) ([]*models.Event, error)

	// ListActiveMarkets returns markets that are active and not closed.
	ListActiveMarkets(ctx context.Context) ([]*models.Market, error)

	// ListMarketsByEvent returns every market of an event, ordered by id.
	ListMarketsByEvent(ctx context.Context, eventID string) ([]*models.Market, error)
}

// SnapshotStore holds raw price snapshots. Ranges are [from, to) in ms.
type SnapshotStore interface {
	// InsertSnapshots inserts snapshots, skipping (market, timestamp) keys that
	// already exist. Returns the number inserted.
	InsertSnapshots(ctx context.Context, snaps []*models.PriceSnapshot) (int, error)

	// LatestSnapshot returns ErrNotFound if the market has no snapshot.
	LatestSnapshot(ctx context.Context, marketID string) (*models.PriceSnapshot, error)

	// LatestSnapshotBefore returns the newest snapshot strictly before tsMs.
	LatestSnapshotBefore(ctx context.Context, marketID string, tsMs int64) (*models.PriceSnapshot, error)

	// SnapshotsInRange returns one market's snapshots ordered by timestamp ASC.
	SnapshotsInRange(ctx context.Context, marketID string, from, to int64) ([]*models.PriceSnapshot, error)

	// AllSnapshotsInRange returns snapshots of every market ordered by market, timestamp.
	AllSnapshotsInRange(ctx context.Context, from, to int64) ([]*models.PriceSnapshot, error)

	// DeleteSnapshotsBefore deletes at most limit snapshots older than cutoffMs.
	DeleteSnapshotsBefore(ctx context.Context, cutoffMs int64, limit int) (int, error)

	// CountSnapshots returns the total number of stored snapshots.
	CountSnapshots(ctx context.Context) (int, error)
}

// BarStore holds aggregate bars keyed by (market, granularity, start).
type BarStore interface {
	// UpsertBars writes bars, overwriting existing keys.
	UpsertBars(ctx context.Context, bars []*models.AggregateBar) error

	// BarsInRange returns one market's bars with start in [from, to), ordered by start ASC.
	BarsInRange(ctx context.Context, marketID string, g models.Granularity, from, to int64) ([]*models.AggregateBar, error)

	// AllBarsInRange returns bars of every market ordered by market, start.
	AllBarsInRange(ctx context.Context, g models.Granularity, from, to int64) ([]*models.AggregateBar, error)

	// CountBars returns the number of bars of a granularity.
	CountBars(ctx context.Context, g models.Granularity) (int, error)
}

// BaselineStore holds one current baseline per market.
type BaselineStore interface {
	UpsertBaseline(ctx context.Context, b *models.Baseline) error

	// GetBaseline returns ErrNotFound if the market has no baseline.
	GetBaseline(ctx context.Context, marketID string) (*models.Baseline, error)
}

// PlatformMetricsStore holds the append-only platform metrics series.
type PlatformMetricsStore interface {
	AppendPlatformMetrics(ctx context.Context, p *models.PlatformMetrics) error

	// LatestPlatformMetrics returns ErrNotFound if the window was never computed.
	LatestPlatformMetrics(ctx context.Context, window models.Window) (*models.PlatformMetrics, error)
}

// ScoreStore holds the append-only score history.
type ScoreStore interface {
	AppendScore(ctx context.Context, s *models.Score) error

	// LatestScore returns the newest score for (event, window), or ErrNotFound.
	LatestScore(ctx context.Context, eventID string, window models.Window) (*models.Score, error)

	// TopScores returns the newest score per event for a window, sorted by value DESC.
	TopScores(ctx context.Context, window models.Window, limit int) ([]*models.Score, error)

	// ScoreHistory returns the newest limit scores for (event, window), newest first.
	ScoreHistory(ctx context.Context, eventID string, window models.Window, limit int) ([]*models.Score, error)

	// CountScores returns the number of score records for (event, window).
	CountScores(ctx context.Context, eventID string, window models.Window) (int, error)
}

// SyncStore holds per-market fetch state.
type SyncStore interface {
	// GetSyncState returns ErrNotFound if the market has no state row.
	GetSyncState(ctx context.Context, marketID string) (*models.SyncState, error)

	UpsertSyncState(ctx context.Context, s *models.SyncState) error

	// SetSyncTier writes a market's tier and priority score, leaving its
	// fetch time untouched. A missing row is created with a zero fetch time.
	SetSyncTier(ctx context.Context, marketID string, tier models.Tier, score float64, at time.Time) error

	// MarkFetched advances a market's fetch time, leaving its tier untouched.
	// The stored fetch time never moves backwards. A missing row is created cold.
	MarkFetched(ctx context.Context, marketID string, fetchedMs int64, at time.Time) error

	// EnsureSyncState inserts a state row with the given tier if none exists.
	EnsureSyncState(ctx context.Context, marketID string, tier models.Tier) error

	// MarketsDueForSync returns tradable markets of a tier last fetched before
	// staleBeforeMs, least recently fetched first.
	MarketsDueForSync(ctx context.Context, tier models.Tier, staleBeforeMs int64, limit int) ([]*models.SyncState, error)
}

// Store is the full document store used by the pipeline.
type Store interface {
	CatalogStore
	SnapshotStore
	BarStore
	BaselineStore
	PlatformMetricsStore
	ScoreStore
	SyncStore
	Close() error
}
