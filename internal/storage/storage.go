// Package storage provides the document store used by the pipeline: narrow
// interfaces per record type and a SQLite-backed implementation.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/seismo/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

var _ Store = (*Storage)(nil)

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/seismo/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "seismo", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id           TEXT PRIMARY KEY,
			slug         TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL,
			category     TEXT NOT NULL DEFAULT '',
			image        TEXT NOT NULL DEFAULT '',
			liquidity    REAL NOT NULL DEFAULT 0,
			volume       REAL NOT NULL DEFAULT 0,
			volume_24hr  REAL NOT NULL DEFAULT 0,
			active       INTEGER NOT NULL DEFAULT 1,
			closed       INTEGER NOT NULL DEFAULT 0,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS markets (
			id               TEXT PRIMARY KEY,
			event_id         TEXT NOT NULL,
			question         TEXT NOT NULL DEFAULT '',
			yes_token_id     TEXT NOT NULL DEFAULT '',
			no_token_id      TEXT NOT NULL DEFAULT '',
			active           INTEGER NOT NULL DEFAULT 1,
			closed           INTEGER NOT NULL DEFAULT 0,
			last_trade_price REAL NOT NULL DEFAULT 0,
			best_bid         REAL NOT NULL DEFAULT 0,
			best_ask         REAL NOT NULL DEFAULT 0,
			volume_24hr      REAL NOT NULL DEFAULT 0,
			liquidity        REAL NOT NULL DEFAULT 0,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_markets_event ON markets(event_id)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			market_id    TEXT NOT NULL,
			event_id     TEXT NOT NULL,
			ts_ms        INTEGER NOT NULL,
			price        REAL NOT NULL,
			volume       REAL NOT NULL DEFAULT 0,
			usd_volume   REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (market_id, ts_ms)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms)`,
		`CREATE TABLE IF NOT EXISTS bars (
			market_id    TEXT NOT NULL,
			event_id     TEXT NOT NULL,
			granularity  TEXT NOT NULL,
			start_ms     INTEGER NOT NULL,
			end_ms       INTEGER NOT NULL,
			open         REAL NOT NULL,
			high         REAL NOT NULL,
			low          REAL NOT NULL,
			close        REAL NOT NULL,
			volume       REAL NOT NULL DEFAULT 0,
			usd_volume   REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (market_id, granularity, start_ms)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_granularity_start ON bars(granularity, start_ms)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			market_id          TEXT PRIMARY KEY,
			computed_at        INTEGER NOT NULL,
			minute_mean        REAL NOT NULL,
			minute_stddev      REAL NOT NULL,
			minute_samples     INTEGER NOT NULL,
			hour_mean          REAL NOT NULL,
			hour_stddev        REAL NOT NULL,
			hour_samples       INTEGER NOT NULL,
			day_mean           REAL NOT NULL,
			day_stddev         REAL NOT NULL,
			day_samples        INTEGER NOT NULL,
			lookback_days      INTEGER NOT NULL,
			avg_minute_volume  REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS platform_metrics (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			win          TEXT NOT NULL,
			computed_at  INTEGER NOT NULL,
			platform_usd REAL NOT NULL,
			event_count  INTEGER NOT NULL,
			r_lo         REAL NOT NULL,
			r_hi         REAL NOT NULL,
			r_lo_ema     REAL NOT NULL,
			r_hi_ema     REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_platform_metrics_win ON platform_metrics(win, seq)`,
		`CREATE TABLE IF NOT EXISTS scores (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			event_id          TEXT NOT NULL,
			win               TEXT NOT NULL,
			computed_at       INTEGER NOT NULL,
			score             REAL NOT NULL,
			top_market_id     TEXT NOT NULL DEFAULT '',
			top_prev_price    REAL NOT NULL DEFAULT 0,
			top_curr_price    REAL NOT NULL DEFAULT 0,
			base_score        REAL NOT NULL DEFAULT 0,
			volume_multiplier REAL NOT NULL DEFAULT 0,
			z_factor          REAL NOT NULL DEFAULT 0,
			reversal_bonus    REAL NOT NULL DEFAULT 0,
			movements         TEXT NOT NULL DEFAULT '[]',
			total_usd_volume  REAL NOT NULL DEFAULT 0,
			active_markets    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_event_win ON scores(event_id, win, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_win ON scores(win, seq)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			market_id           TEXT PRIMARY KEY,
			last_trade_fetch_ms INTEGER NOT NULL DEFAULT 0,
			tier                TEXT NOT NULL,
			priority_score      REAL NOT NULL DEFAULT 0,
			updated_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_state_tier ON sync_state(tier, last_trade_fetch_ms)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ─── catalog ────────────────────────────────────────────────────────────────

func (s *Storage) UpsertEvent(ctx context.Context, e *models.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events
			(id, slug, title, category, image, liquidity, volume, volume_24hr, active, closed, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Slug, e.Title, e.Category, e.Image, e.Liquidity, e.Volume, e.Volume24hr,
		boolToInt(e.Active), boolToInt(e.Closed), e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

func (s *Storage) UpsertMarket(ctx context.Context, m *models.Market) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO markets
			(id, event_id, question, yes_token_id, no_token_id, active, closed,
			 last_trade_price, best_bid, best_ask, volume_24hr, liquidity, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.EventID, m.Question, m.YesTokenID, m.NoTokenID,
		boolToInt(m.Active), boolToInt(m.Closed),
		m.LastTradePrice, m.BestBid, m.BestAsk, m.Volume24hr, m.Liquidity,
		m.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert market: %w", err)
	}
	return nil
}

func (s *Storage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (s *Storage) GetMarket(ctx context.Context, id string) (*models.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketCols+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return m, nil
}

func (s *Storage) ListActiveEvents(ctx context.Context) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventCols+` FROM events WHERE active = 1 AND closed = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	events := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Storage) ListActiveMarkets(ctx context.Context) ([]*models.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets WHERE active = 1 AND closed = 0 ORDER BY id`)
}

func (s *Storage) ListMarketsByEvent(ctx context.Context, eventID string) ([]*models.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets WHERE event_id = ? ORDER BY id`, eventID)
}

func (s *Storage) queryMarkets(ctx context.Context, query string, args ...any) ([]*models.Market, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()
	markets := []*models.Market{}
	for rows.Next() {
		m, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ─── snapshots ──────────────────────────────────────────────────────────────

func (s *Storage) InsertSnapshots(ctx context.Context, snaps []*models.PriceSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	for _, snap := range snaps {
		if err := snap.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO snapshots (market_id, event_id, ts_ms, price, volume, usd_volume)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, snap := range snaps {
		res, err := stmt.ExecContext(ctx, snap.MarketID, snap.EventID, snap.TimestampMs,
			snap.Price, snap.Volume, snap.USDVolume)
		if err != nil {
			return 0, fmt.Errorf("failed to insert snapshot: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return inserted, nil
}

func (s *Storage) LatestSnapshot(ctx context.Context, marketID string) (*models.PriceSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE market_id = ? ORDER BY ts_ms DESC LIMIT 1`, marketID)
	return s.scanOneSnapshot(row)
}

func (s *Storage) LatestSnapshotBefore(ctx context.Context, marketID string, tsMs int64) (*models.PriceSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE market_id = ? AND ts_ms < ? ORDER BY ts_ms DESC LIMIT 1`, marketID, tsMs)
	return s.scanOneSnapshot(row)
}

func (s *Storage) scanOneSnapshot(row *sql.Row) (*models.PriceSnapshot, error) {
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (s *Storage) SnapshotsInRange(ctx context.Context, marketID string, from, to int64) ([]*models.PriceSnapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE market_id = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms ASC`, marketID, from, to)
}

func (s *Storage) AllSnapshotsInRange(ctx context.Context, from, to int64) ([]*models.PriceSnapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE ts_ms >= ? AND ts_ms < ?
		ORDER BY market_id ASC, ts_ms ASC`, from, to)
}

func (s *Storage) querySnapshots(ctx context.Context, query string, args ...any) ([]*models.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	snaps := []*models.PriceSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Storage) DeleteSnapshotsBefore(ctx context.Context, cutoffMs int64, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE rowid IN (
			SELECT rowid FROM snapshots WHERE ts_ms < ? ORDER BY ts_ms LIMIT ?
		)`, cutoffMs, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Storage) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// ─── bars ───────────────────────────────────────────────────────────────────

func (s *Storage) UpsertBars(ctx context.Context, bars []*models.AggregateBar) error {
	if len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars
			(market_id, event_id, granularity, start_ms, end_ms, open, high, low, close, volume, usd_volume)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (market_id, granularity, start_ms) DO UPDATE SET
			event_id = excluded.event_id, end_ms = excluded.end_ms,
			open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
			volume = excluded.volume, usd_volume = excluded.usd_volume`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.MarketID, b.EventID, string(b.Granularity), b.StartMs, b.EndMs,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.USDVolume); err != nil {
			return fmt.Errorf("failed to upsert bar: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Storage) BarsInRange(ctx context.Context, marketID string, g models.Granularity, from, to int64) ([]*models.AggregateBar, error) {
	return s.queryBars(ctx, `
		SELECT `+barCols+` FROM bars
		WHERE market_id = ? AND granularity = ? AND start_ms >= ? AND start_ms < ?
		ORDER BY start_ms ASC`, marketID, string(g), from, to)
}

func (s *Storage) AllBarsInRange(ctx context.Context, g models.Granularity, from, to int64) ([]*models.AggregateBar, error) {
	return s.queryBars(ctx, `
		SELECT `+barCols+` FROM bars
		WHERE granularity = ? AND start_ms >= ? AND start_ms < ?
		ORDER BY market_id ASC, start_ms ASC`, string(g), from, to)
}

func (s *Storage) queryBars(ctx context.Context, query string, args ...any) ([]*models.AggregateBar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()
	bars := []*models.AggregateBar{}
	for rows.Next() {
		var b models.AggregateBar
		var g string
		if err := rows.Scan(&b.MarketID, &b.EventID, &g, &b.StartMs, &b.EndMs,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.USDVolume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Granularity = models.Granularity(g)
		bars = append(bars, &b)
	}
	return bars, rows.Err()
}

func (s *Storage) CountBars(ctx context.Context, g models.Granularity) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bars WHERE granularity = ?`, string(g)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return n, nil
}

// ─── baselines ──────────────────────────────────────────────────────────────

func (s *Storage) UpsertBaseline(ctx context.Context, b *models.Baseline) error {
	if b.MarketID == "" {
		return fmt.Errorf("%w: baseline market ID must not be empty", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO baselines
			(market_id, computed_at, minute_mean, minute_stddev, minute_samples,
			 hour_mean, hour_stddev, hour_samples, day_mean, day_stddev, day_samples,
			 lookback_days, avg_minute_volume)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.MarketID, b.ComputedAt.UnixMilli(),
		b.MinuteMean, b.MinuteStddev, b.MinuteSamples,
		b.HourMean, b.HourStddev, b.HourSamples,
		b.DayMean, b.DayStddev, b.DaySamples,
		b.LookbackDays, b.AvgMinuteVolume,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}

func (s *Storage) GetBaseline(ctx context.Context, marketID string) (*models.Baseline, error) {
	var b models.Baseline
	var computedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT market_id, computed_at, minute_mean, minute_stddev, minute_samples,
		       hour_mean, hour_stddev, hour_samples, day_mean, day_stddev, day_samples,
		       lookback_days, avg_minute_volume
		FROM baselines WHERE market_id = ?`, marketID).Scan(
		&b.MarketID, &computedAt,
		&b.MinuteMean, &b.MinuteStddev, &b.MinuteSamples,
		&b.HourMean, &b.HourStddev, &b.HourSamples,
		&b.DayMean, &b.DayStddev, &b.DaySamples,
		&b.LookbackDays, &b.AvgMinuteVolume,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	b.ComputedAt = time.UnixMilli(computedAt)
	return &b, nil
}

// ─── platform metrics ───────────────────────────────────────────────────────

func (s *Storage) AppendPlatformMetrics(ctx context.Context, p *models.PlatformMetrics) error {
	if p.ID == "" || p.Window == "" {
		return fmt.Errorf("%w: platform metrics need an id and window", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_metrics
			(id, win, computed_at, platform_usd, event_count, r_lo, r_hi, r_lo_ema, r_hi_ema)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, string(p.Window), p.ComputedAt.UnixMilli(), p.PlatformUSD, p.EventCount,
		p.RLo, p.RHi, p.RLoEMA, p.RHiEMA,
	)
	if err != nil {
		return fmt.Errorf("failed to insert platform metrics: %w", err)
	}
	return nil
}

func (s *Storage) LatestPlatformMetrics(ctx context.Context, window models.Window) (*models.PlatformMetrics, error) {
	var p models.PlatformMetrics
	var win string
	var computedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, win, computed_at, platform_usd, event_count, r_lo, r_hi, r_lo_ema, r_hi_ema
		FROM platform_metrics WHERE win = ? ORDER BY seq DESC LIMIT 1`, string(window)).Scan(
		&p.ID, &win, &computedAt, &p.PlatformUSD, &p.EventCount, &p.RLo, &p.RHi, &p.RLoEMA, &p.RHiEMA,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get platform metrics: %w", err)
	}
	p.Window = models.Window(win)
	p.ComputedAt = time.UnixMilli(computedAt)
	return &p, nil
}

// ─── scores ─────────────────────────────────────────────────────────────────

func (s *Storage) AppendScore(ctx context.Context, sc *models.Score) error {
	if sc.ID == "" || sc.EventID == "" || sc.Window == "" {
		return fmt.Errorf("%w: score needs an id, event and window", ErrInvalidInput)
	}
	movementsJSON, err := json.Marshal(sc.Movements)
	if err != nil {
		return fmt.Errorf("failed to marshal movements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scores
			(id, event_id, win, computed_at, score, top_market_id, top_prev_price, top_curr_price,
			 base_score, volume_multiplier, z_factor, reversal_bonus, movements,
			 total_usd_volume, active_markets)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sc.ID, sc.EventID, string(sc.Window), sc.ComputedAt.UnixMilli(), sc.Value,
		sc.TopMarketID, sc.TopPrevPrice, sc.TopCurrPrice,
		sc.BaseScore, sc.VolumeMultiplier, sc.ZFactor, sc.ReversalBonus,
		string(movementsJSON), sc.TotalUSDVolume, sc.ActiveMarkets,
	)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}
	return nil
}

func (s *Storage) LatestScore(ctx context.Context, eventID string, window models.Window) (*models.Score, error) {
	scores, err := s.queryScores(ctx, `
		SELECT `+scoreCols+` FROM scores
		WHERE event_id = ? AND win = ? ORDER BY seq DESC LIMIT 1`, eventID, string(window))
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, ErrNotFound
	}
	return scores[0], nil
}

func (s *Storage) TopScores(ctx context.Context, window models.Window, limit int) ([]*models.Score, error) {
	return s.queryScores(ctx, `
		SELECT `+scoreCols+` FROM scores
		WHERE seq IN (SELECT MAX(seq) FROM scores WHERE win = ? GROUP BY event_id)
		ORDER BY score DESC, seq DESC LIMIT ?`, string(window), limit)
}

func (s *Storage) ScoreHistory(ctx context.Context, eventID string, window models.Window, limit int) ([]*models.Score, error) {
	return s.queryScores(ctx, `
		SELECT `+scoreCols+` FROM scores
		WHERE event_id = ? AND win = ? ORDER BY seq DESC LIMIT ?`, eventID, string(window), limit)
}

func (s *Storage) CountScores(ctx context.Context, eventID string, window models.Window) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scores WHERE event_id = ? AND win = ?`,
		eventID, string(window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return n, nil
}

func (s *Storage) queryScores(ctx context.Context, query string, args ...any) ([]*models.Score, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()
	scores := []*models.Score{}
	for rows.Next() {
		var sc models.Score
		var win, movementsJSON string
		var computedAt int64
		if err := rows.Scan(
			&sc.ID, &sc.EventID, &win, &computedAt, &sc.Value,
			&sc.TopMarketID, &sc.TopPrevPrice, &sc.TopCurrPrice,
			&sc.BaseScore, &sc.VolumeMultiplier, &sc.ZFactor, &sc.ReversalBonus,
			&movementsJSON, &sc.TotalUSDVolume, &sc.ActiveMarkets,
		); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		if err := json.Unmarshal([]byte(movementsJSON), &sc.Movements); err != nil {
			return nil, fmt.Errorf("failed to unmarshal movements: %w", err)
		}
		sc.Window = models.Window(win)
		sc.ComputedAt = time.UnixMilli(computedAt)
		scores = append(scores, &sc)
	}
	return scores, rows.Err()
}

// ─── sync state ─────────────────────────────────────────────────────────────

func (s *Storage) GetSyncState(ctx context.Context, marketID string) (*models.SyncState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncCols+` FROM sync_state WHERE market_id = ?`, marketID)
	st, err := scanSyncState(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return st, nil
}

func (s *Storage) UpsertSyncState(ctx context.Context, st *models.SyncState) error {
	if st.MarketID == "" {
		return fmt.Errorf("%w: sync state market ID must not be empty", ErrInvalidInput)
	}
	if _, err := models.ParseTier(string(st.Tier)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_state (market_id, last_trade_fetch_ms, tier, priority_score, updated_at)
		VALUES (?,?,?,?,?)`,
		st.MarketID, st.LastTradeFetchMs, string(st.Tier), st.PriorityScore, st.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}
	return nil
}

func (s *Storage) SetSyncTier(ctx context.Context, marketID string, tier models.Tier, score float64, at time.Time) error {
	if marketID == "" {
		return fmt.Errorf("%w: sync state market ID must not be empty", ErrInvalidInput)
	}
	if _, err := models.ParseTier(string(tier)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (market_id, last_trade_fetch_ms, tier, priority_score, updated_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			tier = excluded.tier, priority_score = excluded.priority_score, updated_at = excluded.updated_at`,
		marketID, string(tier), score, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set sync tier: %w", err)
	}
	return nil
}

func (s *Storage) MarkFetched(ctx context.Context, marketID string, fetchedMs int64, at time.Time) error {
	if marketID == "" {
		return fmt.Errorf("%w: sync state market ID must not be empty", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (market_id, last_trade_fetch_ms, tier, priority_score, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			last_trade_fetch_ms = max(sync_state.last_trade_fetch_ms, excluded.last_trade_fetch_ms),
			updated_at = excluded.updated_at`,
		marketID, fetchedMs, string(models.TierCold), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark fetched: %w", err)
	}
	return nil
}

func (s *Storage) EnsureSyncState(ctx context.Context, marketID string, tier models.Tier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_state (market_id, last_trade_fetch_ms, tier, priority_score, updated_at)
		VALUES (?, 0, ?, 0, ?)`, marketID, string(tier), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to ensure sync state: %w", err)
	}
	return nil
}

func (s *Storage) MarketsDueForSync(ctx context.Context, tier models.Tier, staleBeforeMs int64, limit int) ([]*models.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.market_id, s.last_trade_fetch_ms, s.tier, s.priority_score, s.updated_at
		FROM sync_state s JOIN markets m ON m.id = s.market_id
		WHERE s.tier = ? AND s.last_trade_fetch_ms < ? AND m.active = 1 AND m.closed = 0
		ORDER BY s.last_trade_fetch_ms ASC, s.market_id ASC LIMIT ?`,
		string(tier), staleBeforeMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due markets: %w", err)
	}
	defer rows.Close()
	states := []*models.SyncState{}
	for rows.Next() {
		st, err := scanSyncState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// ─── scanning ───────────────────────────────────────────────────────────────

const eventCols = `id, slug, title, category, image, liquidity, volume, volume_24hr, active, closed, updated_at`

const marketCols = `id, event_id, question, yes_token_id, no_token_id, active, closed,
	last_trade_price, best_bid, best_ask, volume_24hr, liquidity, updated_at`

const snapshotCols = `market_id, event_id, ts_ms, price, volume, usd_volume`

const barCols = `market_id, event_id, granularity, start_ms, end_ms, open, high, low, close, volume, usd_volume`

const scoreCols = `id, event_id, win, computed_at, score, top_market_id, top_prev_price, top_curr_price,
	base_score, volume_multiplier, z_factor, reversal_bonus, movements, total_usd_volume, active_markets`

const syncCols = `market_id, last_trade_fetch_ms, tier, priority_score, updated_at`

func scanEvent(scan func(...any) error) (*models.Event, error) {
	var e models.Event
	var active, closed int
	var updatedAt int64
	err := scan(&e.ID, &e.Slug, &e.Title, &e.Category, &e.Image,
		&e.Liquidity, &e.Volume, &e.Volume24hr, &active, &closed, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Active = active != 0
	e.Closed = closed != 0
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return &e, nil
}

func scanMarket(scan func(...any) error) (*models.Market, error) {
	var m models.Market
	var active, closed int
	var updatedAt int64
	err := scan(
		&m.ID, &m.EventID, &m.Question, &m.YesTokenID, &m.NoTokenID, &active, &closed,
		&m.LastTradePrice, &m.BestBid, &m.BestAsk, &m.Volume24hr, &m.Liquidity, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Active = active != 0
	m.Closed = closed != 0
	m.UpdatedAt = time.UnixMilli(updatedAt)
	return &m, nil
}

func scanSnapshot(scan func(...any) error) (*models.PriceSnapshot, error) {
	var snap models.PriceSnapshot
	if err := scan(&snap.MarketID, &snap.EventID, &snap.TimestampMs, &snap.Price, &snap.Volume, &snap.USDVolume); err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanSyncState(scan func(...any) error) (*models.SyncState, error) {
	var st models.SyncState
	var tier string
	var updatedAt int64
	if err := scan(&st.MarketID, &st.LastTradeFetchMs, &tier, &st.PriorityScore, &updatedAt); err != nil {
		return nil, err
	}
	st.Tier = models.Tier(tier)
	st.UpdatedAt = time.UnixMilli(updatedAt)
	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
