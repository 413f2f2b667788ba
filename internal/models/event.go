// Package models defines the core domain entities: catalog events and markets,
// price series, baselines, platform metrics, scores and sync state.
package models

import (
	"errors"
	"time"
)

// Event is a Polymarket event, a group of related yes/no markets.
type Event struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Title      string    `json:"title"`
	Category   string    `json:"category,omitempty"`
	Image      string    `json:"image,omitempty"`
	Liquidity  float64   `json:"liquidity"`
	Volume     float64   `json:"volume"`
	Volume24hr float64   `json:"volume_24hr"`
	Active     bool      `json:"active"`
	Closed     bool      `json:"closed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.Title == "" {
		return errors.New("event title must not be empty")
	}
	if e.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	if e.Volume < 0 || e.Volume24hr < 0 {
		return errors.New("volume must not be negative")
	}
	return nil
}

// Market represents a single yes/no prediction market tracked from Polymarket.
// ID is the market's condition id, which the trade feed is keyed on.
type Market struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	Question       string    `json:"question"`
	YesTokenID     string    `json:"yes_token_id,omitempty"`
	NoTokenID      string    `json:"no_token_id,omitempty"`
	Active         bool      `json:"active"`
	Closed         bool      `json:"closed"`
	LastTradePrice float64   `json:"last_trade_price"`
	BestBid        float64   `json:"best_bid"`
	BestAsk        float64   `json:"best_ask"`
	Volume24hr     float64   `json:"volume_24hr"`
	Liquidity      float64   `json:"liquidity"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.EventID == "" {
		return errors.New("event ID must not be empty")
	}
	if m.LastTradePrice < 0.0 || m.LastTradePrice > 1.0 {
		return errors.New("last trade price must be between 0.0 and 1.0")
	}
	if m.BestBid < 0.0 || m.BestBid > 1.0 || m.BestAsk < 0.0 || m.BestAsk > 1.0 {
		return errors.New("bid/ask must be between 0.0 and 1.0")
	}
	if m.Volume24hr < 0 {
		return errors.New("volume 24hr must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	return nil
}

// Tradable reports whether the market still trades.
func (m *Market) Tradable() bool {
	return m.Active && !m.Closed
}

// Spread returns the bid/ask spread and whether both sides are quoted.
func (m *Market) Spread() (float64, bool) {
	if m.BestBid <= 0 || m.BestAsk <= 0 || m.BestAsk < m.BestBid {
		return 0, false
	}
	return m.BestAsk - m.BestBid, true
}
