package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/storage"
)

const eventCols = `id, slug, title, category, image, liquidity, volume, volume_24hr, active, closed, updated_at`

const marketCols = `id, event_id, question, yes_token_id, no_token_id, active, closed,
	last_trade_price, best_bid, best_ask, volume_24hr, liquidity, updated_at`

// UpsertEvent inserts or replaces an event by id.
func (s *Store) UpsertEvent(ctx context.Context, e *models.Event) error {
	if err := e.Validate(); err != nil {
		return invalid(err)
	}
	query := `
		INSERT INTO events (` + eventCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug, title = EXCLUDED.title, category = EXCLUDED.category,
			image = EXCLUDED.image, liquidity = EXCLUDED.liquidity, volume = EXCLUDED.volume,
			volume_24hr = EXCLUDED.volume_24hr, active = EXCLUDED.active,
			closed = EXCLUDED.closed, updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Slug, e.Title, e.Category, e.Image,
		e.Liquidity, e.Volume, e.Volume24hr, e.Active, e.Closed,
		e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// UpsertMarket inserts or replaces a market by id.
func (s *Store) UpsertMarket(ctx context.Context, m *models.Market) error {
	if err := m.Validate(); err != nil {
		return invalid(err)
	}
	query := `
		INSERT INTO markets (` + marketCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			event_id = EXCLUDED.event_id, question = EXCLUDED.question,
			yes_token_id = EXCLUDED.yes_token_id, no_token_id = EXCLUDED.no_token_id,
			active = EXCLUDED.active, closed = EXCLUDED.closed,
			last_trade_price = EXCLUDED.last_trade_price, best_bid = EXCLUDED.best_bid,
			best_ask = EXCLUDED.best_ask, volume_24hr = EXCLUDED.volume_24hr,
			liquidity = EXCLUDED.liquidity, updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.EventID, m.Question, m.YesTokenID, m.NoTokenID, m.Active, m.Closed,
		m.LastTradePrice, m.BestBid, m.BestAsk, m.Volume24hr, m.Liquidity,
		m.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by id. Returns storage.ErrNotFound if absent.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// GetMarket retrieves a market by id. Returns storage.ErrNotFound if absent.
func (s *Store) GetMarket(ctx context.Context, id string) (*models.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market: %w", err)
	}
	return m, nil
}

// ListActiveEvents returns events that are active and not closed.
func (s *Store) ListActiveEvents(ctx context.Context) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventCols+` FROM events WHERE active AND NOT closed ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListActiveMarkets returns markets that are active and not closed.
func (s *Store) ListActiveMarkets(ctx context.Context) ([]*models.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets WHERE active AND NOT closed ORDER BY id`)
}

// ListMarketsByEvent returns every market of an event, ordered by id.
func (s *Store) ListMarketsByEvent(ctx context.Context, eventID string) ([]*models.Market, error) {
	return s.queryMarkets(ctx, `SELECT `+marketCols+` FROM markets WHERE event_id = $1 ORDER BY id`, eventID)
}

func (s *Store) queryMarkets(ctx context.Context, query string, args ...any) ([]*models.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	markets := []*models.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var updatedAt int64
	err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.Category, &e.Image,
		&e.Liquidity, &e.Volume, &e.Volume24hr, &e.Active, &e.Closed, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return &e, nil
}

func scanMarket(row pgx.Row) (*models.Market, error) {
	var m models.Market
	var updatedAt int64
	err := row.Scan(
		&m.ID, &m.EventID, &m.Question, &m.YesTokenID, &m.NoTokenID, &m.Active, &m.Closed,
		&m.LastTradePrice, &m.BestBid, &m.BestAsk, &m.Volume24hr, &m.Liquidity, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.UpdatedAt = time.UnixMilli(updatedAt)
	return &m, nil
}
