// Package baseline computes each market's historical return fingerprint.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/stats"
)

// ErrInsufficientData is returned when a market has too few raw-snapshot
// returns for a baseline. It is a normal state for new or quiet markets.
var ErrInsufficientData = errors.New("insufficient data for baseline")

// Store is the subset of storage the computer needs.
type Store interface {
	ListActiveMarkets(ctx context.Context) ([]*models.Market, error)
	SnapshotsInRange(ctx context.Context, marketID string, from, to int64) ([]*models.PriceSnapshot, error)
	BarsInRange(ctx context.Context, marketID string, g models.Granularity, from, to int64) ([]*models.AggregateBar, error)
	UpsertBaseline(ctx context.Context, b *models.Baseline) error
}

// Config controls lookbacks and sample minimums.
type Config struct {
	LookbackDays int
	HourLookback time.Duration
	DayLookback  time.Duration
	MinReturns   int
	MinBars      int
}

// DefaultConfig returns the default baseline configuration.
func DefaultConfig() Config {
	return Config{
		LookbackDays: 14,
		HourLookback: 30 * 24 * time.Hour,
		DayLookback:  365 * 24 * time.Hour,
		MinReturns:   10,
		MinBars:      3,
	}
}

// Computer computes and stores baselines.
type Computer struct {
	store  Store
	config Config
}

// New creates a Computer.
func New(store Store, config Config) *Computer {
	return &Computer{store: store, config: config}
}

// Compute builds and stores the baseline for one market. Returns
// ErrInsufficientData, writing nothing, when too few returns exist.
func (c *Computer) Compute(ctx context.Context, marketID string, now time.Time) (*models.Baseline, error) {
	to := now.UnixMilli()
	from := now.AddDate(0, 0, -c.config.LookbackDays).UnixMilli()

	snaps, err := c.store.SnapshotsInRange(ctx, marketID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	prices := make([]float64, len(snaps))
	for i, s := range snaps {
		prices[i] = s.Price
	}
	returns := stats.SimpleReturns(prices)
	if len(returns) < c.config.MinReturns {
		return nil, fmt.Errorf("%w: market %s has %d returns, need %d", ErrInsufficientData, marketID, len(returns), c.config.MinReturns)
	}

	b := &models.Baseline{
		MarketID:        marketID,
		ComputedAt:      now,
		LookbackDays:    c.config.LookbackDays,
		AvgMinuteVolume: avgMinuteVolume(snaps),
	}
	b.MinuteMean, b.MinuteStddev = stats.MeanStddev(returns)
	b.MinuteSamples = len(returns)

	b.HourMean, b.HourStddev, b.HourSamples, err = c.barScale(ctx, marketID, models.GranularityHour, now.Add(-c.config.HourLookback).UnixMilli(), to)
	if err != nil {
		return nil, err
	}
	b.DayMean, b.DayStddev, b.DaySamples, err = c.barScale(ctx, marketID, models.GranularityDay, now.Add(-c.config.DayLookback).UnixMilli(), to)
	if err != nil {
		return nil, err
	}

	b.MinuteMean = stats.Finite(b.MinuteMean)
	b.MinuteStddev = stats.Floor(b.MinuteStddev, models.StddevFloor)
	b.HourStddev = stats.Floor(b.HourStddev, models.StddevFloor)
	b.DayStddev = stats.Floor(b.DayStddev, models.StddevFloor)

	if err := c.store.UpsertBaseline(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to store baseline: %w", err)
	}
	observability.RecordBaseline()
	return b, nil
}

// barScale returns mean, stddev and sample count of close-to-close returns.
// Fewer than MinBars bars leaves the scale at mean 0 with no samples.
func (c *Computer) barScale(ctx context.Context, marketID string, g models.Granularity, from, to int64) (float64, float64, int, error) {
	bars, err := c.store.BarsInRange(ctx, marketID, g, from, to)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to load %s bars: %w", g, err)
	}
	if len(bars) < c.config.MinBars {
		return 0, 0, 0, nil
	}
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	returns := stats.SimpleReturns(closes)
	if len(returns) == 0 {
		return 0, 0, 0, nil
	}
	mean, stddev := stats.MeanStddev(returns)
	return stats.Finite(mean), stddev, len(returns), nil
}

func avgMinuteVolume(snaps []*models.PriceSnapshot) float64 {
	if len(snaps) < 2 {
		return 0
	}
	var total float64
	for _, s := range snaps[1:] {
		total += s.Volume
	}
	minutes := float64(snaps[len(snaps)-1].TimestampMs-snaps[0].TimestampMs) / float64(time.Minute.Milliseconds())
	return stats.SafeDiv(total, stats.Floor(minutes, 1))
}

// Result summarizes a ComputeAll run.
type Result struct {
	Computed     int
	Insufficient int
	Failed       int
}

// ComputeAll recomputes baselines for every active market. A failure for one
// market is logged and does not stop the others.
func (c *Computer) ComputeAll(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	markets, err := c.store.ListActiveMarkets(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list markets: %w", err)
	}
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := c.Compute(ctx, m.ID, now)
		switch {
		case err == nil:
			res.Computed++
		case errors.Is(err, ErrInsufficientData):
			res.Insufficient++
			logger.Debug("%v", err)
		default:
			res.Failed++
			logger.Warn("baseline failed for market %s: %v", m.ID, err)
		}
	}
	logger.Info("baselines: %d computed, %d insufficient, %d failed", res.Computed, res.Insufficient, res.Failed)
	return res, nil
}
