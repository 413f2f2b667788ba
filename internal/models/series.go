package models

import (
	"errors"
	"fmt"
	"time"
)

// Trade is a single fill from the trade feed. Price is always the probability
// of the canonical "Yes" outcome. Trades are never persisted as-is.
type Trade struct {
	MarketID    string
	EventID     string
	TimestampMs int64
	Price       float64
	Size        float64
	Side        string
	DedupKey    string
}

// Valid reports whether the trade carries a usable price, size and timestamp.
func (t *Trade) Valid() bool {
	return t.MarketID != "" &&
		t.Price > 0 && t.Price <= 1 &&
		t.Size > 0 &&
		t.TimestampMs > 0
}

// USD returns the notional of the trade.
func (t *Trade) USD() float64 {
	return t.Size * t.Price
}

// PriceSnapshot is one adaptively-sampled price point of a market.
// Volume and USDVolume accumulate everything traded since the previous snapshot.
type PriceSnapshot struct {
	MarketID    string  `json:"market_id"`
	EventID     string  `json:"event_id"`
	TimestampMs int64   `json:"timestamp_ms"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	USDVolume   float64 `json:"usd_volume"`
}

// Validate checks snapshot field constraints.
func (s *PriceSnapshot) Validate() error {
	if s.MarketID == "" {
		return errors.New("snapshot market ID must not be empty")
	}
	if s.TimestampMs <= 0 {
		return errors.New("snapshot timestamp must be positive")
	}
	if s.Price < 0 || s.Price > 1 {
		return errors.New("snapshot price must be between 0.0 and 1.0")
	}
	if s.Volume < 0 || s.USDVolume < 0 {
		return errors.New("snapshot volume must not be negative")
	}
	return nil
}

// Granularity selects the time series a computation reads.
type Granularity string

const (
	GranularityRaw  Granularity = "raw"
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Duration returns the bucket span of a bar granularity.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// BucketStart floors tsMs to the start of its bucket (UTC).
func (g Granularity) BucketStart(tsMs int64) int64 {
	span := g.Duration().Milliseconds()
	if span == 0 {
		return tsMs
	}
	return tsMs - tsMs%span
}

// ParseGranularity parses a bar granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityHour, GranularityDay:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// AggregateBar is one OHLC+volume bucket for a market.
// Exactly one bar exists per (market, granularity, bucket start).
type AggregateBar struct {
	MarketID    string      `json:"market_id" parquet:"market_id"`
	EventID     string      `json:"event_id" parquet:"event_id"`
	Granularity Granularity `json:"granularity" parquet:"granularity"`
	StartMs     int64       `json:"start_ms" parquet:"start_ms"`
	EndMs       int64       `json:"end_ms" parquet:"end_ms"`
	Open        float64     `json:"open" parquet:"open"`
	High        float64     `json:"high" parquet:"high"`
	Low         float64     `json:"low" parquet:"low"`
	Close       float64     `json:"close" parquet:"close"`
	Volume      float64     `json:"volume" parquet:"volume"`
	USDVolume   float64     `json:"usd_volume" parquet:"usd_volume"`
}

// Validate checks bar field constraints.
func (b *AggregateBar) Validate() error {
	if b.MarketID == "" {
		return errors.New("bar market ID must not be empty")
	}
	if b.Granularity != GranularityHour && b.Granularity != GranularityDay {
		return fmt.Errorf("invalid bar granularity %q", b.Granularity)
	}
	if b.EndMs <= b.StartMs {
		return errors.New("bar end must be after start")
	}
	if b.Low > b.High {
		return errors.New("bar low must be <= high")
	}
	return nil
}

// EstimatedAvgPrice is the price assumed when a legacy record carries share
// volume but no USD volume.
const EstimatedAvgPrice = 0.5

// EffectiveUSD returns usd, or an estimate from share volume when usd is missing.
func EffectiveUSD(volume, usd float64) float64 {
	if usd > 0 {
		return usd
	}
	if volume > 0 {
		return volume * EstimatedAvgPrice
	}
	return 0
}
