// Package ingest keeps the local catalog and price series fed from the
// Polymarket feeds: catalog sync, tiered trade sync and the live stream.
package ingest

import (
	"context"
	"fmt"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/polymarket"
)

// CatalogFeed lists events with their nested markets.
type CatalogFeed interface {
	FetchEvents(ctx context.Context, offset, limit int) ([]polymarket.CatalogEvent, error)
}

// CatalogStore is the subset of storage the catalog sync needs.
type CatalogStore interface {
	UpsertEvent(ctx context.Context, e *models.Event) error
	UpsertMarket(ctx context.Context, m *models.Market) error
	EnsureSyncState(ctx context.Context, marketID string, tier models.Tier) error
}

// CatalogConfig bounds one catalog sync.
type CatalogConfig struct {
	PageSize  int
	MaxEvents int
}

// CatalogResult summarizes one catalog sync.
type CatalogResult struct {
	Events   int
	Markets  int
	Tradable int
	Invalid  int
}

// CatalogSync upserts events and markets and seeds a cold sync state for
// markets seen for the first time.
type CatalogSync struct {
	feed   CatalogFeed
	store  CatalogStore
	config CatalogConfig
}

// NewCatalogSync creates a CatalogSync.
func NewCatalogSync(feed CatalogFeed, store CatalogStore, config CatalogConfig) *CatalogSync {
	if config.PageSize < 1 {
		config.PageSize = 100
	}
	return &CatalogSync{feed: feed, store: store, config: config}
}

// Run pages through the catalog until a short page or MaxEvents.
func (c *CatalogSync) Run(ctx context.Context) (CatalogResult, error) {
	var res CatalogResult
	for offset := 0; c.config.MaxEvents <= 0 || offset < c.config.MaxEvents; offset += c.config.PageSize {
		page, err := c.feed.FetchEvents(ctx, offset, c.config.PageSize)
		if err != nil {
			if res.Events > 0 {
				logger.Warn("catalog sync stopped at offset %d: %v", offset, err)
				break
			}
			return res, fmt.Errorf("failed to fetch catalog: %w", err)
		}
		for i := range page {
			if err := c.upsert(ctx, &page[i], &res); err != nil {
				return res, err
			}
		}
		if len(page) < c.config.PageSize {
			break
		}
	}

	observability.SetCatalogMarkets(res.Tradable)
	logger.Info("catalog sync: %d events, %d markets (%d tradable), %d invalid", res.Events, res.Markets, res.Tradable, res.Invalid)
	return res, nil
}

func (c *CatalogSync) upsert(ctx context.Context, ce *polymarket.CatalogEvent, res *CatalogResult) error {
	if err := ce.Event.Validate(); err != nil {
		res.Invalid++
		logger.Debug("skipping event %s: %v", ce.Event.ID, err)
		return nil
	}
	if err := c.store.UpsertEvent(ctx, &ce.Event); err != nil {
		return fmt.Errorf("failed to store event %s: %w", ce.Event.ID, err)
	}
	res.Events++

	for i := range ce.Markets {
		m := &ce.Markets[i]
		if err := m.Validate(); err != nil {
			res.Invalid++
			logger.Debug("skipping market %s: %v", m.ID, err)
			continue
		}
		if err := c.store.UpsertMarket(ctx, m); err != nil {
			return fmt.Errorf("failed to store market %s: %w", m.ID, err)
		}
		if err := c.store.EnsureSyncState(ctx, m.ID, models.TierCold); err != nil {
			return fmt.Errorf("failed to seed sync state for %s: %w", m.ID, err)
		}
		res.Markets++
		if m.Tradable() {
			res.Tradable++
		}
	}
	return nil
}
