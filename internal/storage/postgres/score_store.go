package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/storage"
)

const scoreCols = `id, event_id, win, computed_at, score, top_market_id, top_prev_price, top_curr_price,
	base_score, volume_multiplier, z_factor, reversal_bonus, movements, total_usd_volume, active_markets`

const syncCols = `market_id, last_trade_fetch_ms, tier, priority_score, updated_at`

// AppendPlatformMetrics appends a record to the window's series.
func (s *Store) AppendPlatformMetrics(ctx context.Context, p *models.PlatformMetrics) error {
	if p.ID == "" || p.Window == "" {
		return fmt.Errorf("%w: platform metrics need an id and window", storage.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO platform_metrics (
			id, win, computed_at, platform_usd, event_count, r_lo, r_hi, r_lo_ema, r_hi_ema
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, string(p.Window), p.ComputedAt.UnixMilli(), p.PlatformUSD, p.EventCount,
		p.RLo, p.RHi, p.RLoEMA, p.RHiEMA,
	)
	if err != nil {
		return fmt.Errorf("insert platform metrics: %w", err)
	}
	return nil
}

// LatestPlatformMetrics returns storage.ErrNotFound if the window was never computed.
func (s *Store) LatestPlatformMetrics(ctx context.Context, window models.Window) (*models.PlatformMetrics, error) {
	var p models.PlatformMetrics
	var win string
	var computedAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, win, computed_at, platform_usd, event_count, r_lo, r_hi, r_lo_ema, r_hi_ema
		FROM platform_metrics WHERE win = $1 ORDER BY seq DESC LIMIT 1`, string(window)).Scan(
		&p.ID, &win, &computedAt, &p.PlatformUSD, &p.EventCount, &p.RLo, &p.RHi, &p.RLoEMA, &p.RHiEMA,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get platform metrics: %w", err)
	}
	p.Window = models.Window(win)
	p.ComputedAt = time.UnixMilli(computedAt)
	return &p, nil
}

// AppendScore appends a score record. Scores are never updated.
func (s *Store) AppendScore(ctx context.Context, sc *models.Score) error {
	if sc.ID == "" || sc.EventID == "" || sc.Window == "" {
		return fmt.Errorf("%w: score needs an id, event and window", storage.ErrInvalidInput)
	}
	movements := sc.Movements
	if movements == nil {
		movements = []models.MarketMovement{}
	}
	movementsJSON, err := json.Marshal(movements)
	if err != nil {
		return fmt.Errorf("marshal movements: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scores (`+scoreCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sc.ID, sc.EventID, string(sc.Window), sc.ComputedAt.UnixMilli(), sc.Value,
		sc.TopMarketID, sc.TopPrevPrice, sc.TopCurrPrice,
		sc.BaseScore, sc.VolumeMultiplier, sc.ZFactor, sc.ReversalBonus,
		movementsJSON, sc.TotalUSDVolume, sc.ActiveMarkets,
	)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// LatestScore returns the newest score for (event, window).
func (s *Store) LatestScore(ctx context.Context, eventID string, window models.Window) (*models.Score, error) {
	scores, err := s.queryScores(ctx, `
		SELECT `+scoreCols+` FROM scores
		WHERE event_id = $1 AND win = $2 ORDER BY seq DESC LIMIT 1`, eventID, string(window))
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, storage.ErrNotFound
	}
	return scores[0], nil
}

// TopScores returns the newest score per event for a window, highest first.
func (s *Store) TopScores(ctx context.Context, window models.Window, limit int) ([]*models.Score, error) {
	return s.queryScores(ctx, `
		SELECT `+scoreCols+` FROM (
			SELECT DISTINCT ON (event_id) seq, `+scoreCols+`
			FROM scores WHERE win = $1
			ORDER BY event_id, seq DESC
		) latest
		ORDER BY score DESC, seq DESC LIMIT $2`, string(window), limit)
}

// ScoreHistory returns the newest limit scores for (event, window), newest first.
func (s *Store) ScoreHistory(ctx context.Context, eventID string, window models.Window, limit int) ([]*models.Score, error) {
	return s.queryScores(ctx, `
		SELECT `+scoreCols+` FROM scores
		WHERE event_id = $1 AND win = $2 ORDER BY seq DESC LIMIT $3`, eventID, string(window), limit)
}

// CountScores returns the number of score records for (event, window).
func (s *Store) CountScores(ctx context.Context, eventID string, window models.Window) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scores WHERE event_id = $1 AND win = $2`,
		eventID, string(window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count scores: %w", err)
	}
	return n, nil
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]*models.Score, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	scores := []*models.Score{}
	for rows.Next() {
		var sc models.Score
		var win string
		var computedAt int64
		var movementsJSON []byte
		if err := rows.Scan(
			&sc.ID, &sc.EventID, &win, &computedAt, &sc.Value,
			&sc.TopMarketID, &sc.TopPrevPrice, &sc.TopCurrPrice,
			&sc.BaseScore, &sc.VolumeMultiplier, &sc.ZFactor, &sc.ReversalBonus,
			&movementsJSON, &sc.TotalUSDVolume, &sc.ActiveMarkets,
		); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if err := json.Unmarshal(movementsJSON, &sc.Movements); err != nil {
			return nil, fmt.Errorf("unmarshal movements: %w", err)
		}
		sc.Window = models.Window(win)
		sc.ComputedAt = time.UnixMilli(computedAt)
		scores = append(scores, &sc)
	}
	return scores, rows.Err()
}

// GetSyncState returns storage.ErrNotFound if the market has no state row.
func (s *Store) GetSyncState(ctx context.Context, marketID string) (*models.SyncState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+syncCols+` FROM sync_state WHERE market_id = $1`, marketID)
	st, err := scanSyncState(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return st, nil
}

// UpsertSyncState inserts or replaces a market's sync state.
func (s *Store) UpsertSyncState(ctx context.Context, st *models.SyncState) error {
	if st.MarketID == "" {
		return fmt.Errorf("%w: sync state market ID must not be empty", storage.ErrInvalidInput)
	}
	if _, err := models.ParseTier(string(st.Tier)); err != nil {
		return invalid(err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (`+syncCols+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id) DO UPDATE SET
			last_trade_fetch_ms = EXCLUDED.last_trade_fetch_ms, tier = EXCLUDED.tier,
			priority_score = EXCLUDED.priority_score, updated_at = EXCLUDED.updated_at`,
		st.MarketID, st.LastTradeFetchMs, string(st.Tier), st.PriorityScore, st.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert sync state: %w", err)
	}
	return nil
}

// SetSyncTier writes tier and priority score only.
func (s *Store) SetSyncTier(ctx context.Context, marketID string, tier models.Tier, score float64, at time.Time) error {
	if marketID == "" {
		return fmt.Errorf("%w: sync state market ID must not be empty", storage.ErrInvalidInput)
	}
	if _, err := models.ParseTier(string(tier)); err != nil {
		return invalid(err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (`+syncCols+`)
		VALUES ($1, 0, $2, $3, $4)
		ON CONFLICT (market_id) DO UPDATE SET
			tier = EXCLUDED.tier, priority_score = EXCLUDED.priority_score, updated_at = EXCLUDED.updated_at`,
		marketID, string(tier), score, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set sync tier: %w", err)
	}
	return nil
}

// MarkFetched advances the fetch time only; it never moves backwards.
func (s *Store) MarkFetched(ctx context.Context, marketID string, fetchedMs int64, at time.Time) error {
	if marketID == "" {
		return fmt.Errorf("%w: sync state market ID must not be empty", storage.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (`+syncCols+`)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (market_id) DO UPDATE SET
			last_trade_fetch_ms = GREATEST(sync_state.last_trade_fetch_ms, EXCLUDED.last_trade_fetch_ms),
			updated_at = EXCLUDED.updated_at`,
		marketID, fetchedMs, string(models.TierCold), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	return nil
}

// EnsureSyncState inserts a state row with the given tier if none exists.
func (s *Store) EnsureSyncState(ctx context.Context, marketID string, tier models.Tier) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (`+syncCols+`)
		VALUES ($1, 0, $2, 0, $3)
		ON CONFLICT (market_id) DO NOTHING`,
		marketID, string(tier), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ensure sync state: %w", err)
	}
	return nil
}

// MarketsDueForSync returns tradable markets of a tier last fetched before staleBeforeMs.
func (s *Store) MarketsDueForSync(ctx context.Context, tier models.Tier, staleBeforeMs int64, limit int) ([]*models.SyncState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.market_id, s.last_trade_fetch_ms, s.tier, s.priority_score, s.updated_at
		FROM sync_state s JOIN markets m ON m.id = s.market_id
		WHERE s.tier = $1 AND s.last_trade_fetch_ms < $2 AND m.active AND NOT m.closed
		ORDER BY s.last_trade_fetch_ms ASC, s.market_id ASC LIMIT $3`,
		string(tier), staleBeforeMs, limit)
	if err != nil {
		return nil, fmt.Errorf("query due markets: %w", err)
	}
	defer rows.Close()

	states := []*models.SyncState{}
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func scanSyncState(row pgx.Row) (*models.SyncState, error) {
	var st models.SyncState
	var tier string
	var updatedAt int64
	if err := row.Scan(&st.MarketID, &st.LastTradeFetchMs, &tier, &st.PriorityScore, &updatedAt); err != nil {
		return nil, err
	}
	st.Tier = models.Tier(tier)
	st.UpdatedAt = time.UnixMilli(updatedAt)
	return &st, nil
}
