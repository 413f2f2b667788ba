package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/storage"
)

const snapshotCols = `market_id, event_id, ts_ms, price, volume, usd_volume`

const barCols = `market_id, event_id, granularity, start_ms, end_ms, open, high, low, close, volume, usd_volume`

// InsertSnapshots adds snapshots atomically, skipping existing (market, ts) keys.
func (s *Store) InsertSnapshots(ctx context.Context, snaps []*models.PriceSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	for _, snap := range snaps {
		if err := snap.Validate(); err != nil {
			return 0, invalid(err)
		}
	}

	query := `
		INSERT INTO snapshots (` + snapshotCols + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, ts_ms) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(query, snap.MarketID, snap.EventID, snap.TimestampMs, snap.Price, snap.Volume, snap.USDVolume)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range snaps {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert snapshot: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// LatestSnapshot returns the newest snapshot of a market.
func (s *Store) LatestSnapshot(ctx context.Context, marketID string) (*models.PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE market_id = $1 ORDER BY ts_ms DESC LIMIT 1`, marketID)
	return oneSnapshot(row)
}

// LatestSnapshotBefore returns the newest snapshot strictly before tsMs.
func (s *Store) LatestSnapshotBefore(ctx context.Context, marketID string, tsMs int64) (*models.PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE market_id = $1 AND ts_ms < $2 ORDER BY ts_ms DESC LIMIT 1`, marketID, tsMs)
	return oneSnapshot(row)
}

func oneSnapshot(row pgx.Row) (*models.PriceSnapshot, error) {
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// SnapshotsInRange retrieves a market's snapshots in [from, to), ordered by ts ASC.
func (s *Store) SnapshotsInRange(ctx context.Context, marketID string, from, to int64) ([]*models.PriceSnapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE market_id = $1 AND ts_ms >= $2 AND ts_ms < $3
		ORDER BY ts_ms ASC`, marketID, from, to)
}

// AllSnapshotsInRange retrieves every market's snapshots in [from, to).
func (s *Store) AllSnapshotsInRange(ctx context.Context, from, to int64) ([]*models.PriceSnapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE ts_ms >= $1 AND ts_ms < $2
		ORDER BY market_id ASC, ts_ms ASC`, from, to)
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]*models.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*models.PriceSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// DeleteSnapshotsBefore deletes at most limit snapshots older than cutoffMs.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoffMs int64, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM snapshots WHERE ctid IN (
			SELECT ctid FROM snapshots WHERE ts_ms < $1 ORDER BY ts_ms LIMIT $2
		)`, cutoffMs, limit)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountSnapshots returns the total number of stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// UpsertBars writes bars atomically, overwriting existing keys.
func (s *Store) UpsertBars(ctx context.Context, bars []*models.AggregateBar) error {
	if len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return invalid(err)
		}
	}

	query := `
		INSERT INTO bars (` + barCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (market_id, granularity, start_ms) DO UPDATE SET
			event_id = EXCLUDED.event_id, end_ms = EXCLUDED.end_ms,
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume, usd_volume = EXCLUDED.usd_volume
	`
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, b := range bars {
		_, err := tx.Exec(ctx, query,
			b.MarketID, b.EventID, string(b.Granularity), b.StartMs, b.EndMs,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.USDVolume,
		)
		if err != nil {
			return fmt.Errorf("upsert bar: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// BarsInRange retrieves a market's bars with start in [from, to).
func (s *Store) BarsInRange(ctx context.Context, marketID string, g models.Granularity, from, to int64) ([]*models.AggregateBar, error) {
	return s.queryBars(ctx, `
		SELECT `+barCols+` FROM bars
		WHERE market_id = $1 AND granularity = $2 AND start_ms >= $3 AND start_ms < $4
		ORDER BY start_ms ASC`, marketID, string(g), from, to)
}

// AllBarsInRange retrieves every market's bars with start in [from, to).
func (s *Store) AllBarsInRange(ctx context.Context, g models.Granularity, from, to int64) ([]*models.AggregateBar, error) {
	return s.queryBars(ctx, `
		SELECT `+barCols+` FROM bars
		WHERE granularity = $1 AND start_ms >= $2 AND start_ms < $3
		ORDER BY market_id ASC, start_ms ASC`, string(g), from, to)
}

func (s *Store) queryBars(ctx context.Context, query string, args ...any) ([]*models.AggregateBar, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	bars := []*models.AggregateBar{}
	for rows.Next() {
		var b models.AggregateBar
		var g string
		if err := rows.Scan(&b.MarketID, &b.EventID, &g, &b.StartMs, &b.EndMs,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.USDVolume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Granularity = models.Granularity(g)
		bars = append(bars, &b)
	}
	return bars, rows.Err()
}

// CountBars returns the number of bars of a granularity.
func (s *Store) CountBars(ctx context.Context, g models.Granularity) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bars WHERE granularity = $1`, string(g)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bars: %w", err)
	}
	return n, nil
}

// UpsertBaseline replaces a market's baseline.
func (s *Store) UpsertBaseline(ctx context.Context, b *models.Baseline) error {
	if b.MarketID == "" {
		return fmt.Errorf("%w: baseline market ID must not be empty", storage.ErrInvalidInput)
	}
	query := `
		INSERT INTO baselines (
			market_id, computed_at, minute_mean, minute_stddev, minute_samples,
			hour_mean, hour_stddev, hour_samples, day_mean, day_stddev, day_samples,
			lookback_days, avg_minute_volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (market_id) DO UPDATE SET
			computed_at = EXCLUDED.computed_at,
			minute_mean = EXCLUDED.minute_mean, minute_stddev = EXCLUDED.minute_stddev,
			minute_samples = EXCLUDED.minute_samples,
			hour_mean = EXCLUDED.hour_mean, hour_stddev = EXCLUDED.hour_stddev,
			hour_samples = EXCLUDED.hour_samples,
			day_mean = EXCLUDED.day_mean, day_stddev = EXCLUDED.day_stddev,
			day_samples = EXCLUDED.day_samples,
			lookback_days = EXCLUDED.lookback_days, avg_minute_volume = EXCLUDED.avg_minute_volume
	`
	_, err := s.pool.Exec(ctx, query,
		b.MarketID, b.ComputedAt.UnixMilli(),
		b.MinuteMean, b.MinuteStddev, b.MinuteSamples,
		b.HourMean, b.HourStddev, b.HourSamples,
		b.DayMean, b.DayStddev, b.DaySamples,
		b.LookbackDays, b.AvgMinuteVolume,
	)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

// GetBaseline returns storage.ErrNotFound if the market has no baseline.
func (s *Store) GetBaseline(ctx context.Context, marketID string) (*models.Baseline, error) {
	var b models.Baseline
	var computedAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT market_id, computed_at, minute_mean, minute_stddev, minute_samples,
		       hour_mean, hour_stddev, hour_samples, day_mean, day_stddev, day_samples,
		       lookback_days, avg_minute_volume
		FROM baselines WHERE market_id = $1`, marketID).Scan(
		&b.MarketID, &computedAt,
		&b.MinuteMean, &b.MinuteStddev, &b.MinuteSamples,
		&b.HourMean, &b.HourStddev, &b.HourSamples,
		&b.DayMean, &b.DayStddev, &b.DaySamples,
		&b.LookbackDays, &b.AvgMinuteVolume,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	b.ComputedAt = time.UnixMilli(computedAt)
	return &b, nil
}

func scanSnapshot(row pgx.Row) (*models.PriceSnapshot, error) {
	var snap models.PriceSnapshot
	if err := row.Scan(&snap.MarketID, &snap.EventID, &snap.TimestampMs, &snap.Price, &snap.Volume, &snap.USDVolume); err != nil {
		return nil, err
	}
	return &snap, nil
}
