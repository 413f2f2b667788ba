// Package pipeline binds the ingestion and computation components to named
// scheduler jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismo/internal/aggregate"
	"github.com/rewired-gh/seismo/internal/alert"
	"github.com/rewired-gh/seismo/internal/baseline"
	"github.com/rewired-gh/seismo/internal/cache"
	"github.com/rewired-gh/seismo/internal/ingest"
	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/platform"
	"github.com/rewired-gh/seismo/internal/priority"
	"github.com/rewired-gh/seismo/internal/scheduler"
	"github.com/rewired-gh/seismo/internal/score"
)

// Config holds the job cadences. Trade sync cadences come from the tiers.
type Config struct {
	CatalogInterval   time.Duration
	HourlyInterval    time.Duration
	DailyInterval     time.Duration
	BaselineInterval  time.Duration
	PlatformInterval  time.Duration
	ScoreInterval     time.Duration // 1h and 24h
	LongScoreInterval time.Duration // 7d and 30d
	PriorityInterval  time.Duration
}

// Components are the pipeline stages. Stream, Cache and Alerter are optional.
type Components struct {
	Catalog     *ingest.CatalogSync
	Trades      *ingest.TradeSync
	Stream      *ingest.StreamIngestor
	Aggregator  *aggregate.Engine
	Baselines   *baseline.Computer
	Platform    *platform.Computer
	Scores      *score.Computer
	Prioritizer *priority.Prioritizer
	Cache       cache.Cache
	Alerter     *alert.Alerter
}

// Pipeline runs the scheduled jobs and the live stream.
type Pipeline struct {
	Components
	config Config
}

// New creates a Pipeline.
func New(c Components, config Config) *Pipeline {
	return &Pipeline{Components: c, config: config}
}

// Register adds every job to s.
func (p *Pipeline) Register(s *scheduler.Scheduler) error {
	jobs := []scheduler.Job{
		{Name: "catalog", Interval: p.config.CatalogInterval, RunOnStart: true, Handler: p.SyncCatalog},
		{Name: "aggregate-hourly", Interval: p.config.HourlyInterval, Handler: p.AggregateHourly},
		{Name: "aggregate-daily", Interval: p.config.DailyInterval, Handler: p.AggregateDaily},
		{Name: "baselines", Interval: p.config.BaselineInterval, Handler: p.ComputeBaselines},
		{Name: "platform", Interval: p.config.PlatformInterval, Handler: p.ComputePlatform},
		{Name: "priority", Interval: p.config.PriorityInterval, Handler: p.Reprioritize},
	}
	for _, tier := range models.AllTiers() {
		jobs = append(jobs, scheduler.Job{
			Name:     "trades-" + string(tier),
			Interval: p.Trades.Interval(tier),
			Handler: func(ctx context.Context, now time.Time) error {
				return p.SyncTier(ctx, tier, now)
			},
		})
	}
	for _, w := range models.AllWindows() {
		interval := p.config.ScoreInterval
		if w == models.Window7d || w == models.Window30d {
			interval = p.config.LongScoreInterval
		}
		jobs = append(jobs, scheduler.Job{
			Name:     "scores-" + string(w),
			Interval: interval,
			Handler: func(ctx context.Context, now time.Time) error {
				return p.ScoreWindow(ctx, w, now)
			},
		})
	}

	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			return err
		}
	}
	return nil
}

// Run runs the scheduler and, when configured, the live stream until ctx is
// done.
func (p *Pipeline) Run(ctx context.Context, s *scheduler.Scheduler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(s.Run(gctx)) })
	if p.Stream != nil {
		g.Go(func() error { return ignoreCanceled(p.Stream.Run(gctx)) })
	}
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SyncCatalog refreshes events and markets.
func (p *Pipeline) SyncCatalog(ctx context.Context, _ time.Time) error {
	_, err := p.Catalog.Run(ctx)
	return err
}

// SyncTier fetches trades for the tier's due markets. It fails only when
// every market failed, which points at the feed rather than a market.
func (p *Pipeline) SyncTier(ctx context.Context, tier models.Tier, now time.Time) error {
	res, err := p.Trades.RunTier(ctx, tier, now)
	if err != nil {
		return err
	}
	if res.Markets > 0 && res.Failed == res.Markets {
		return fmt.Errorf("trade sync %s: all %d markets failed", tier, res.Markets)
	}
	return nil
}

// AggregateHourly rolls the trailing raw snapshots into hour bars.
func (p *Pipeline) AggregateHourly(ctx context.Context, now time.Time) error {
	_, err := p.Aggregator.Hourly(ctx, aggregate.DefaultRange(models.GranularityHour, now))
	return err
}

// AggregateDaily rolls the trailing hour bars into day bars.
func (p *Pipeline) AggregateDaily(ctx context.Context, now time.Time) error {
	_, err := p.Aggregator.Daily(ctx, aggregate.DefaultRange(models.GranularityDay, now))
	return err
}

// ComputeBaselines recomputes every active market's baseline.
func (p *Pipeline) ComputeBaselines(ctx context.Context, now time.Time) error {
	res, err := p.Baselines.ComputeAll(ctx, now)
	if err != nil {
		return err
	}
	if res.Failed > 0 && res.Computed == 0 && res.Insufficient == 0 {
		return fmt.Errorf("baselines: all %d markets failed", res.Failed)
	}
	return nil
}

// ComputePlatform appends platform metrics for every window.
func (p *Pipeline) ComputePlatform(ctx context.Context, now time.Time) error {
	if err := p.Platform.ComputeAll(ctx, now); err != nil {
		return err
	}
	if p.Cache != nil {
		for _, w := range models.AllWindows() {
			p.invalidate(ctx, w)
		}
	}
	return nil
}

// ScoreWindow scores every active event for window, invalidates the window's
// cached reads and raises alerts.
func (p *Pipeline) ScoreWindow(ctx context.Context, window models.Window, now time.Time) error {
	res, err := p.Scores.ComputeWindow(ctx, window, now)
	if err != nil {
		return err
	}
	if p.Cache != nil && len(res.Scores) > 0 {
		p.invalidate(ctx, window)
	}
	if res.Failed > 0 && len(res.Scores) == 0 {
		return fmt.Errorf("scores %s: all %d events failed", window, res.Failed)
	}
	if p.Alerter != nil {
		if _, err := p.Alerter.Process(ctx, window, res.Scores, now); err != nil {
			logger.Warn("alerts %s: %v", window, err)
		}
	}
	return nil
}

// Reprioritize reassigns every active market's tier.
func (p *Pipeline) Reprioritize(ctx context.Context, now time.Time) error {
	counts, err := p.Prioritizer.ReprioritizeAll(ctx, now)
	if err != nil {
		return err
	}
	logger.Info("tiers: %d hot, %d warm, %d cold", counts[models.TierHot], counts[models.TierWarm], counts[models.TierCold])
	return nil
}

func (p *Pipeline) invalidate(ctx context.Context, window models.Window) {
	if err := p.Cache.InvalidateWindow(ctx, window); err != nil {
		logger.Warn("cache invalidation for %s failed: %v", window, err)
	}
}
