package models

import (
	"fmt"
	"time"
)

// StddevFloor keeps every persisted stddev strictly positive.
const StddevFloor = 0.001

// Baseline is a market's historical return fingerprint.
// One row per market, replaced on every recomputation.
type Baseline struct {
	MarketID        string    `json:"market_id"`
	ComputedAt      time.Time `json:"computed_at"`
	MinuteMean      float64   `json:"minute_mean"`
	MinuteStddev    float64   `json:"minute_stddev"`
	MinuteSamples   int       `json:"minute_samples"`
	HourMean        float64   `json:"hour_mean"`
	HourStddev      float64   `json:"hour_stddev"`
	HourSamples     int       `json:"hour_samples"`
	DayMean         float64   `json:"day_mean"`
	DayStddev       float64   `json:"day_stddev"`
	DaySamples      int       `json:"day_samples"`
	LookbackDays    int       `json:"lookback_days"`
	AvgMinuteVolume float64   `json:"avg_minute_volume"`
}

// Stddev returns the stddev and sample count for a scale.
func (b *Baseline) Stddev(scale Scale) (float64, int) {
	switch scale {
	case ScaleMinute:
		return b.MinuteStddev, b.MinuteSamples
	case ScaleHour:
		return b.HourStddev, b.HourSamples
	case ScaleDay:
		return b.DayStddev, b.DaySamples
	}
	return StddevFloor, 0
}

// PlatformMetrics holds window-scoped platform volume reference bands.
// One growing series per window label.
type PlatformMetrics struct {
	ID          string    `json:"id"`
	Window      Window    `json:"window"`
	ComputedAt  time.Time `json:"computed_at"`
	PlatformUSD float64   `json:"platform_usd"`
	EventCount  int       `json:"event_count"`
	RLo         float64   `json:"r_lo"`
	RHi         float64   `json:"r_hi"`
	RLoEMA      float64   `json:"r_lo_ema"`
	RHiEMA      float64   `json:"r_hi_ema"`
}

// Bands returns the smoothed bands, falling back to the raw values when the
// EMA was never seeded.
func (p *PlatformMetrics) Bands() (float64, float64) {
	lo, hi := p.RLoEMA, p.RHiEMA
	if lo <= 0 && hi <= 0 {
		return p.RLo, p.RHi
	}
	return lo, hi
}

// MarketMovement is one market's move inside a scored window.
type MarketMovement struct {
	MarketID    string  `json:"market_id"`
	Question    string  `json:"question,omitempty"`
	Open        float64 `json:"open"`
	Close       float64 `json:"close"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	ChangePp    float64 `json:"change_pp"`
	SwingPp     float64 `json:"swing_pp"`
	MovementPp  float64 `json:"movement_pp"`
	Volume      float64 `json:"volume"`
	USDVolume   float64 `json:"usd_volume"`
	PointsCount int     `json:"points"`
}

// Score is one immutable intensity computation for an event and window.
type Score struct {
	ID               string           `json:"id"`
	EventID          string           `json:"event_id"`
	Window           Window           `json:"window"`
	ComputedAt       time.Time        `json:"computed_at"`
	Value            float64          `json:"score"`
	TopMarketID      string           `json:"top_market_id,omitempty"`
	TopPrevPrice     float64          `json:"top_prev_price"`
	TopCurrPrice     float64          `json:"top_curr_price"`
	BaseScore        float64          `json:"base_score"`
	VolumeMultiplier float64          `json:"volume_multiplier"`
	ZFactor          float64          `json:"z_factor"`
	ReversalBonus    float64          `json:"reversal_bonus"`
	Movements        []MarketMovement `json:"movements"`
	TotalUSDVolume   float64          `json:"total_usd_volume"`
	ActiveMarkets    int              `json:"active_markets"`
}

// Tier is a market's sync-frequency class.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// AllTiers lists tiers hottest first.
func AllTiers() []Tier {
	return []Tier{TierHot, TierWarm, TierCold}
}

// ParseTier validates a tier label.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierHot, TierWarm, TierCold:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// SyncState tracks when a market's trades were last fetched and how often
// they should be fetched.
type SyncState struct {
	MarketID         string    `json:"market_id"`
	LastTradeFetchMs int64     `json:"last_trade_fetch_ms"`
	Tier             Tier      `json:"tier"`
	PriorityScore    float64   `json:"priority_score"`
	UpdatedAt        time.Time `json:"updated_at"`
}
