// Package priority assigns each market a sync-frequency tier from its recent
// volume, volatility, liquidity and activity.
package priority

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/stats"
)

const (
	HotThreshold  = 70.0
	WarmThreshold = 40.0
)

// Store is the subset of storage the prioritizer needs.
type Store interface {
	GetMarket(ctx context.Context, id string) (*models.Market, error)
	ListActiveMarkets(ctx context.Context) ([]*models.Market, error)
	SnapshotsInRange(ctx context.Context, marketID string, from, to int64) ([]*models.PriceSnapshot, error)
	SetSyncTier(ctx context.Context, marketID string, tier models.Tier, score float64, at time.Time) error
}

// Result is the outcome of one reprioritization.
type Result struct {
	Tier  models.Tier
	Score float64
}

// Prioritizer scores markets and writes their tier into SyncState.
type Prioritizer struct {
	store Store
}

// New creates a Prioritizer.
func New(store Store) *Prioritizer {
	return &Prioritizer{store: store}
}

// Inputs are the measurements a priority score is built from.
type Inputs struct {
	USDVolume24h float64
	Volatility   float64 // stddev of simple returns over the trailing hour
	Spread       float64
	HasSpread    bool
	SinceLast    time.Duration // age of the newest snapshot; negative when none
}

// Score returns the 0–100 priority score.
func Score(in Inputs) float64 {
	return volumePoints(in.USDVolume24h) +
		volatilityPoints(in.Volatility) +
		spreadPoints(in.Spread, in.HasSpread) +
		recencyPoints(in.SinceLast)
}

// TierFor maps a priority score to a tier.
func TierFor(score float64) models.Tier {
	switch {
	case score >= HotThreshold:
		return models.TierHot
	case score >= WarmThreshold:
		return models.TierWarm
	default:
		return models.TierCold
	}
}

func volumePoints(usd float64) float64 {
	switch {
	case usd >= 100_000:
		return 40
	case usd >= 25_000:
		return 30
	case usd >= 5_000:
		return 20
	case usd >= 1_000:
		return 10
	default:
		return 0
	}
}

func volatilityPoints(v float64) float64 {
	switch {
	case v >= 0.05:
		return 30
	case v >= 0.02:
		return 20
	case v >= 0.01:
		return 10
	default:
		return 0
	}
}

// Tighter spreads score higher; an unquoted book scores nothing.
func spreadPoints(spread float64, ok bool) float64 {
	if !ok {
		return 0
	}
	switch {
	case spread <= 0.01:
		return 20
	case spread <= 0.02:
		return 15
	case spread <= 0.05:
		return 10
	case spread <= 0.10:
		return 5
	default:
		return 0
	}
}

func recencyPoints(age time.Duration) float64 {
	switch {
	case age < 0:
		return 0
	case age <= 5*time.Minute:
		return 10
	case age <= 15*time.Minute:
		return 6
	case age <= 30*time.Minute:
		return 3
	default:
		return 0
	}
}

// Measure gathers the inputs for one market from its trailing 24h of
// snapshots. The catalog's 24h volume is used when no snapshot carries volume.
func (p *Prioritizer) Measure(ctx context.Context, m *models.Market, now time.Time) (Inputs, error) {
	to := now.UnixMilli()
	from := to - (24 * time.Hour).Milliseconds()
	snaps, err := p.store.SnapshotsInRange(ctx, m.ID, from, to+1)
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load snapshots: %w", err)
	}

	in := Inputs{SinceLast: -1}
	hourFrom := to - time.Hour.Milliseconds()
	var hourPrices []float64
	for _, s := range snaps {
		in.USDVolume24h += models.EffectiveUSD(s.Volume, s.USDVolume)
		if s.TimestampMs >= hourFrom {
			hourPrices = append(hourPrices, s.Price)
		}
	}
	if in.USDVolume24h == 0 {
		in.USDVolume24h = m.Volume24hr
	}
	if len(hourPrices) >= 2 {
		_, in.Volatility = stats.MeanStddev(stats.SimpleReturns(hourPrices))
	}
	in.Spread, in.HasSpread = m.Spread()
	if n := len(snaps); n > 0 {
		in.SinceLast = time.Duration(to-snaps[n-1].TimestampMs) * time.Millisecond
	}
	return in, nil
}

// Reprioritize scores one market and writes its tier, preserving the existing
// LastTradeFetchMs.
func (p *Prioritizer) Reprioritize(ctx context.Context, marketID string, now time.Time) (Result, error) {
	m, err := p.store.GetMarket(ctx, marketID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load market %s: %w", marketID, err)
	}
	return p.reprioritize(ctx, m, now)
}

func (p *Prioritizer) reprioritize(ctx context.Context, m *models.Market, now time.Time) (Result, error) {
	in, err := p.Measure(ctx, m, now)
	if err != nil {
		return Result{}, err
	}
	score := Score(in)
	res := Result{Tier: TierFor(score), Score: score}

	if err := p.store.SetSyncTier(ctx, m.ID, res.Tier, score, now); err != nil {
		return Result{}, fmt.Errorf("failed to store sync tier: %w", err)
	}
	return res, nil
}

// ReprioritizeAll reprioritizes every active market and returns the tier
// counts. A failure for one market is logged and does not stop the others.
func (p *Prioritizer) ReprioritizeAll(ctx context.Context, now time.Time) (map[models.Tier]int, error) {
	markets, err := p.store.ListActiveMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	counts := make(map[models.Tier]int, 3)
	failed := 0
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		res, err := p.reprioritize(ctx, m, now)
		if err != nil {
			failed++
			logger.Warn("reprioritize %s: %v", m.ID, err)
			continue
		}
		counts[res.Tier]++
	}

	gauge := make(map[string]int, 3)
	for _, t := range models.AllTiers() {
		gauge[string(t)] = counts[t]
	}
	observability.SetTierCounts(gauge)
	logger.Info("reprioritized %d markets: hot=%d warm=%d cold=%d failed=%d",
		len(markets)-failed, counts[models.TierHot], counts[models.TierWarm], counts[models.TierCold], failed)
	return counts, nil
}
