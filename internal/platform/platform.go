// Package platform computes window-scoped, self-calibrating volume reference
// bands from the platform-wide distribution of event volume share.
package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/stats"
	"github.com/rewired-gh/seismo/internal/storage"
)

// Store is the subset of storage the computer needs.
type Store interface {
	AllSnapshotsInRange(ctx context.Context, from, to int64) ([]*models.PriceSnapshot, error)
	AllBarsInRange(ctx context.Context, g models.Granularity, from, to int64) ([]*models.AggregateBar, error)
	AppendPlatformMetrics(ctx context.Context, p *models.PlatformMetrics) error
	LatestPlatformMetrics(ctx context.Context, window models.Window) (*models.PlatformMetrics, error)
}

// Config holds the band quantiles, fallbacks and smoothing factor.
type Config struct {
	LowQuantile  float64
	HighQuantile float64
	MinEvents    int
	DefaultRLo   float64
	DefaultRHi   float64
	EMAAlpha     float64
}

// DefaultConfig returns the default platform metrics configuration.
func DefaultConfig() Config {
	return Config{
		LowQuantile:  0.40,
		HighQuantile: 0.90,
		MinEvents:    10,
		DefaultRLo:   0.0002,
		DefaultRHi:   0.002,
		EMAAlpha:     0.3,
	}
}

// Computer computes and appends platform metrics.
type Computer struct {
	store  Store
	config Config
}

// New creates a Computer.
func New(store Store, config Config) *Computer {
	return &Computer{store: store, config: config}
}

// Volumes holds the per-market and per-event USD volume of one window.
type Volumes struct {
	PlatformUSD float64
	Market      map[string]float64
	EventTop    map[string]float64 // max single-market USD per event
}

// MarketVolumes sums USD volume per market over the window, reading raw
// snapshots for short windows and aggregate bars for long ones. Records that
// carry share volume but no USD volume are estimated at an average price of 0.5.
func (c *Computer) MarketVolumes(ctx context.Context, window models.Window, now time.Time) (*Volumes, error) {
	from, to := window.Range(now)
	v := &Volumes{Market: make(map[string]float64), EventTop: make(map[string]float64)}
	eventOf := make(map[string]string)

	switch src := window.Source(); src {
	case models.GranularityRaw:
		snaps, err := c.store.AllSnapshotsInRange(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshots: %w", err)
		}
		for _, s := range snaps {
			v.Market[s.MarketID] += models.EffectiveUSD(s.Volume, s.USDVolume)
			eventOf[s.MarketID] = s.EventID
		}
	default:
		bars, err := c.store.AllBarsInRange(ctx, src, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s bars: %w", src, err)
		}
		for _, b := range bars {
			v.Market[b.MarketID] += models.EffectiveUSD(b.Volume, b.USDVolume)
			eventOf[b.MarketID] = b.EventID
		}
	}

	for marketID, usd := range v.Market {
		v.PlatformUSD += usd
		event := eventOf[marketID]
		if usd > v.EventTop[event] {
			v.EventTop[event] = usd
		}
	}
	return v, nil
}

// Bands derives rLo and rHi from the sorted distribution of event volume
// shares. Fewer than MinEvents nonzero shares falls back to the defaults.
func (c *Computer) Bands(v *Volumes) (float64, float64) {
	if v.PlatformUSD <= 0 {
		return c.config.DefaultRLo, c.config.DefaultRHi
	}
	shares := make([]float64, 0, len(v.EventTop))
	for _, top := range v.EventTop {
		if share := top / v.PlatformUSD; share > 0 {
			shares = append(shares, share)
		}
	}
	if len(shares) < c.config.MinEvents {
		return c.config.DefaultRLo, c.config.DefaultRHi
	}
	sort.Float64s(shares)
	rLo := stats.Quantile(shares, c.config.LowQuantile)
	rHi := stats.Quantile(shares, c.config.HighQuantile)
	return rLo, math.Max(rHi, 2*rLo)
}

// Compute builds, smooths against the previous record and appends a new
// PlatformMetrics record for window.
func (c *Computer) Compute(ctx context.Context, window models.Window, now time.Time) (*models.PlatformMetrics, error) {
	v, err := c.MarketVolumes(ctx, window, now)
	if err != nil {
		return nil, err
	}
	rLo, rHi := c.Bands(v)

	prev, err := c.store.LatestPlatformMetrics(ctx, window)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load previous metrics: %w", err)
	}
	rLoEMA, rHiEMA := rLo, rHi
	if prev != nil {
		rLoEMA = stats.EMA(prev.RLoEMA, rLo, c.config.EMAAlpha)
		rHiEMA = stats.EMA(prev.RHiEMA, rHi, c.config.EMAAlpha)
	}

	eventCount := 0
	for _, top := range v.EventTop {
		if top > 0 {
			eventCount++
		}
	}
	p := &models.PlatformMetrics{
		ID:          uuid.New().String(),
		Window:      window,
		ComputedAt:  now,
		PlatformUSD: stats.Finite(v.PlatformUSD),
		EventCount:  eventCount,
		RLo:         stats.Finite(rLo),
		RHi:         stats.Finite(rHi),
		RLoEMA:      stats.Finite(rLoEMA),
		RHiEMA:      stats.Finite(rHiEMA),
	}
	if err := c.store.AppendPlatformMetrics(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store platform metrics: %w", err)
	}
	logger.Debug("platform %s: usd=%.0f events=%d rLo=%.5f rHi=%.5f", window, p.PlatformUSD, eventCount, p.RLoEMA, p.RHiEMA)
	return p, nil
}

// Latest returns the newest stored record for window, computing one when
// none exists yet.
func (c *Computer) Latest(ctx context.Context, window models.Window, now time.Time) (*models.PlatformMetrics, error) {
	p, err := c.store.LatestPlatformMetrics(ctx, window)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load platform metrics: %w", err)
	}
	return c.Compute(ctx, window, now)
}

// ComputeAll computes every window. A failure for one window is logged and
// does not stop the others.
func (c *Computer) ComputeAll(ctx context.Context, now time.Time) error {
	var failed int
	for _, w := range models.AllWindows() {
		if _, err := c.Compute(ctx, w, now); err != nil {
			failed++
			logger.Warn("platform metrics failed for %s: %v", w, err)
		}
	}
	if failed == len(models.AllWindows()) {
		return fmt.Errorf("platform metrics failed for every window")
	}
	return nil
}
