// Package score computes the 0–10 intensity score of an event's probability
// movement over a window.
package score

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
	"github.com/rewired-gh/seismo/internal/observability"
	"github.com/rewired-gh/seismo/internal/stats"
	"github.com/rewired-gh/seismo/internal/storage"
)

// ErrNoMarkets is returned for an event with no markets. No score is written.
var ErrNoMarkets = errors.New("event has no markets")

// Store is the subset of storage the computer needs.
type Store interface {
	ListActiveEvents(ctx context.Context) ([]*models.Event, error)
	ListMarketsByEvent(ctx context.Context, eventID string) ([]*models.Market, error)
	SnapshotsInRange(ctx context.Context, marketID string, from, to int64) ([]*models.PriceSnapshot, error)
	LatestSnapshotBefore(ctx context.Context, marketID string, tsMs int64) (*models.PriceSnapshot, error)
	BarsInRange(ctx context.Context, marketID string, g models.Granularity, from, to int64) ([]*models.AggregateBar, error)
	GetBaseline(ctx context.Context, marketID string) (*models.Baseline, error)
	AppendScore(ctx context.Context, s *models.Score) error
}

// Platform supplies the volume reference bands of a window.
type Platform interface {
	Latest(ctx context.Context, window models.Window, now time.Time) (*models.PlatformMetrics, error)
}

// Computer computes and appends scores.
type Computer struct {
	store    Store
	platform Platform
}

// New creates a Computer.
func New(store Store, platform Platform) *Computer {
	return &Computer{store: store, platform: platform}
}

// Compute scores one event over window and appends the result, including
// zero scores. Returns ErrNoMarkets when the event has no markets.
func (c *Computer) Compute(ctx context.Context, eventID string, window models.Window, now time.Time) (*models.Score, error) {
	markets, err := c.store.ListMarketsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMarkets, eventID)
	}

	from, to := window.Range(now)
	var movements []models.MarketMovement
	active := 0
	for _, m := range markets {
		mv, ok, err := c.movement(ctx, m, window, from, to)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if mv.PointsCount > 0 {
			active++
		}
		movements = append(movements, mv)
	}

	sc := &models.Score{
		ID:             uuid.New().String(),
		EventID:        eventID,
		Window:         window,
		ComputedAt:     now,
		ZFactor:        1,
		ReversalBonus:  1,
		ActiveMarkets:  active,
		TotalUSDVolume: totalUSD(movements),
	}

	if top := topMover(movements); top != nil {
		if err := c.score(ctx, sc, top, window, now); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(movements, func(i, j int) bool {
		return math.Abs(movements[i].ChangePp) > math.Abs(movements[j].ChangePp)
	})
	sc.Movements = movements

	if err := c.store.AppendScore(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to store score: %w", err)
	}
	observability.RecordScore(string(window), sc.Value)
	return sc, nil
}

func (c *Computer) score(ctx context.Context, sc *models.Score, top *models.MarketMovement, window models.Window, now time.Time) error {
	pm, err := c.platform.Latest(ctx, window, now)
	if err != nil {
		return fmt.Errorf("failed to load platform metrics: %w", err)
	}
	rLo, rHi := pm.Bands()

	zFactor := 1.0
	b, err := c.store.GetBaseline(ctx, top.MarketID)
	switch {
	case err == nil:
		if stddev, samples := b.Stddev(window.Scale()); samples > 0 {
			zFactor = ZFactor(top.MovementPp, stddev*100)
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("failed to load baseline: %w", err)
	}

	sc.TopMarketID = top.MarketID
	sc.TopPrevPrice = top.Open
	sc.TopCurrPrice = top.Close
	sc.BaseScore = BaseScore(top.MovementPp)
	sc.VolumeMultiplier = VolumeMultiplier(top.USDVolume, pm.PlatformUSD, rLo, rHi)
	sc.ZFactor = zFactor
	sc.ReversalBonus = ReversalBonus(top.Open, top.Close)
	sc.Value = Combine(sc.BaseScore, sc.VolumeMultiplier, sc.ZFactor, sc.ReversalBonus)
	return nil
}

// movement builds one market's movement over [from, to). Raw windows are
// anchored on the last snapshot before the window so the open reflects the
// price the window started at. ok is false when the market has no price.
func (c *Computer) movement(ctx context.Context, m *models.Market, window models.Window, from, to int64) (models.MarketMovement, bool, error) {
	mv := models.MarketMovement{MarketID: m.ID, Question: m.Question}
	first := true
	add := func(open, high, low, close float64) {
		if first {
			mv.Open, mv.High, mv.Low = open, high, low
			first = false
		}
		mv.High = math.Max(mv.High, high)
		mv.Low = math.Min(mv.Low, low)
		mv.Close = close
	}

	switch src := window.Source(); src {
	case models.GranularityRaw:
		anchor, err := c.store.LatestSnapshotBefore(ctx, m.ID, from)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return mv, false, fmt.Errorf("failed to load anchor for %s: %w", m.ID, err)
		}
		if anchor != nil {
			add(anchor.Price, anchor.Price, anchor.Price, anchor.Price)
		}
		snaps, err := c.store.SnapshotsInRange(ctx, m.ID, from, to)
		if err != nil {
			return mv, false, fmt.Errorf("failed to load snapshots for %s: %w", m.ID, err)
		}
		for _, s := range snaps {
			add(s.Price, s.Price, s.Price, s.Price)
			mv.Volume += s.Volume
			mv.USDVolume += models.EffectiveUSD(s.Volume, s.USDVolume)
		}
		mv.PointsCount = len(snaps)
	default:
		bars, err := c.store.BarsInRange(ctx, m.ID, src, from, to)
		if err != nil {
			return mv, false, fmt.Errorf("failed to load bars for %s: %w", m.ID, err)
		}
		for _, b := range bars {
			add(b.Open, b.High, b.Low, b.Close)
			mv.Volume += b.Volume
			mv.USDVolume += models.EffectiveUSD(b.Volume, b.USDVolume)
		}
		mv.PointsCount = len(bars)
	}
	if first {
		return mv, false, nil
	}

	mv.ChangePp = stats.Finite((mv.Close - mv.Open) * 100)
	mv.SwingPp = stats.Finite((mv.High - mv.Low) * 100)
	mv.MovementPp = math.Max(math.Abs(mv.ChangePp), mv.SwingPp)
	return mv, true, nil
}

// topMover returns the movement with the largest MovementPp; ties go to the
// first encountered.
func topMover(movements []models.MarketMovement) *models.MarketMovement {
	var top *models.MarketMovement
	for i := range movements {
		if top == nil || movements[i].MovementPp > top.MovementPp {
			top = &movements[i]
		}
	}
	if top == nil {
		return nil
	}
	cp := *top
	return &cp
}

func totalUSD(movements []models.MarketMovement) float64 {
	var total float64
	for _, mv := range movements {
		total += mv.USDVolume
	}
	return total
}

// WindowResult summarizes a ComputeWindow run.
type WindowResult struct {
	Scores    []*models.Score
	NoMarkets int
	Failed    int
}

// ComputeWindow scores every active event for window. A failure for one
// event is logged and does not stop the others.
func (c *Computer) ComputeWindow(ctx context.Context, window models.Window, now time.Time) (WindowResult, error) {
	var res WindowResult
	events, err := c.store.ListActiveEvents(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list events: %w", err)
	}
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sc, err := c.Compute(ctx, e.ID, window, now)
		switch {
		case err == nil:
			res.Scores = append(res.Scores, sc)
		case errors.Is(err, ErrNoMarkets):
			res.NoMarkets++
			logger.Debug("%v", err)
		default:
			res.Failed++
			logger.Warn("score failed for event %s (%s): %v", e.ID, window, err)
		}
	}
	logger.Info("scores %s: %d computed, %d without markets, %d failed", window, len(res.Scores), res.NoMarkets, res.Failed)
	return res, nil
}
