package app

import (
	"context"
	"fmt"

	"github.com/rewired-gh/seismo/internal/aggregate"
	"github.com/rewired-gh/seismo/internal/alert"
	"github.com/rewired-gh/seismo/internal/api"
	"github.com/rewired-gh/seismo/internal/archive"
	"github.com/rewired-gh/seismo/internal/baseline"
	"github.com/rewired-gh/seismo/internal/cache"
	"github.com/rewired-gh/seismo/internal/config"
	"github.com/rewired-gh/seismo/internal/ingest"
	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
	"github.com/rewired-gh/seismo/internal/pipeline"
	"github.com/rewired-gh/seismo/internal/platform"
	"github.com/rewired-gh/seismo/internal/polymarket"
	"github.com/rewired-gh/seismo/internal/priority"
	"github.com/rewired-gh/seismo/internal/scheduler"
	"github.com/rewired-gh/seismo/internal/score"
	"github.com/rewired-gh/seismo/internal/snapshot"
	"github.com/rewired-gh/seismo/internal/storage"
	"github.com/rewired-gh/seismo/internal/storage/postgres"
	"github.com/rewired-gh/seismo/internal/telegram"
)

// ConfigPath is the configuration file location. Empty means defaults and
// environment only.
type ConfigPath string

// ProvideConfig loads and validates the configuration and initializes the
// logger from it (for Wire).
func ProvideConfig(path ConfigPath) (*config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// ProvideStore opens the configured document store (for Wire).
// The cleanup closes it.
func ProvideStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		store, err = postgres.Open(ctx, cfg.Storage.DSN)
	default:
		store, err = storage.New(cfg.Storage.Path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	logger.Info("storage opened (driver: %s)", cfg.Storage.Driver)
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}
	return store, cleanup, nil
}

// ProvidePolymarketClient creates the REST client (for Wire).
func ProvidePolymarketClient(cfg *config.Config) *polymarket.Client {
	pc := cfg.Polymarket
	return polymarket.NewClient(polymarket.Config{
		GammaURL:          pc.GammaAPIURL,
		DataURL:           pc.DataAPIURL,
		Timeout:           pc.Timeout,
		RequestsPerSecond: pc.RequestsPerSecond,
		Burst:             pc.Burst,
		MaxRetries:        pc.MaxRetries,
		RetryBackoff:      pc.RetryBackoff,
		TradePageSize:     pc.TradePageSize,
		MaxTradePages:     pc.MaxTradePages,
	})
}

// ProvideCache returns the read-path cache (for Wire): Redis when an address
// is configured and reachable, in-memory otherwise, nil when disabled.
func ProvideCache(ctx context.Context, cfg *config.Config) (cache.Cache, func()) {
	cc := cfg.Cache
	if !cc.Enabled {
		return nil, func() {}
	}
	if cc.Addr == "" {
		return cache.NewMemoryCache(cc.TTL), func() {}
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: cc.Addr, Password: cc.Password, DB: cc.DB, TTL: cc.TTL})
	if err != nil {
		logger.Warn("redis unavailable at %s, using in-memory cache: %v", cc.Addr, err)
		return cache.NewMemoryCache(cc.TTL), func() {}
	}
	logger.Info("redis cache connected at %s", cc.Addr)
	return rc, func() { _ = rc.Close() }
}

// ProvideTelegram creates the Telegram client, or nil when disabled (for Wire).
func ProvideTelegram(cfg *config.Config) (*telegram.Client, error) {
	tc := cfg.Telegram
	if !tc.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil, nil
	}
	client, err := telegram.NewClient(tc.BotToken, tc.ChatID, tc.MaxRetries, tc.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	logger.Info("Telegram client initialized successfully")
	return client, nil
}

// ProvideSnapshotBuilder creates the snapshot builder (for Wire).
func ProvideSnapshotBuilder(cfg *config.Config, store storage.Store) *snapshot.Builder {
	sc := snapshot.DefaultConfig()
	sc.Retention = cfg.Pipeline.SnapshotRetention
	return snapshot.New(store, sc)
}

// ProvideBarSink returns the Parquet archive, or nil when no archive
// directory is configured (for Wire).
func ProvideBarSink(cfg *config.Config) (aggregate.BarSink, error) {
	if cfg.Storage.ArchiveDir == "" {
		return nil, nil
	}
	sink, err := archive.NewParquetSink(cfg.Storage.ArchiveDir)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// ProvideAggregator creates the bar aggregation engine (for Wire).
func ProvideAggregator(cfg *config.Config, store storage.Store, sink aggregate.BarSink) *aggregate.Engine {
	return aggregate.New(store, sink, cfg.Pipeline.Workers)
}

// ProvideServiceAggregator creates the aggregation engine for the long-running
// service. Only backfills archive bars, so it never opens the Parquet sink
// (for Wire).
func ProvideServiceAggregator(cfg *config.Config, store storage.Store) *aggregate.Engine {
	return ProvideAggregator(cfg, store, nil)
}

// ProvideBaselines creates the baseline computer (for Wire).
func ProvideBaselines(cfg *config.Config, store storage.Store) *baseline.Computer {
	bc := baseline.DefaultConfig()
	bc.LookbackDays = cfg.Pipeline.BaselineLookbackDays
	return baseline.New(store, bc)
}

// ProvideAlerter creates the score alerter, or nil when alerts are disabled
// or there is nowhere to send them (for Wire).
func ProvideAlerter(cfg *config.Config, store storage.Store, tg *telegram.Client) (*alert.Alerter, error) {
	ac := cfg.Alert
	if !ac.Enabled || tg == nil {
		return nil, nil
	}
	windows := make([]models.Window, 0, len(ac.Windows))
	for _, raw := range ac.Windows {
		w, err := models.ParseWindow(raw)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return alert.New(store, tg, alert.Config{
		Threshold: ac.Threshold,
		TopK:      ac.TopK,
		Cooldown:  ac.Cooldown,
		Windows:   windows,
	}), nil
}

// ProvideScheduler creates the job scheduler, reporting failures to Telegram
// when it is enabled (for Wire).
func ProvideScheduler(tg *telegram.Client) *scheduler.Scheduler {
	if tg == nil {
		return scheduler.New(nil)
	}
	return scheduler.New(tg)
}

// ProvidePipeline builds every pipeline stage (for Wire).
func ProvidePipeline(
	cfg *config.Config,
	store storage.Store,
	client *polymarket.Client,
	builder *snapshot.Builder,
	aggregator *aggregate.Engine,
	baselines *baseline.Computer,
	c cache.Cache,
	alerter *alert.Alerter,
) *pipeline.Pipeline {
	pc := cfg.Pipeline

	trades := ingest.DefaultTradeConfig()
	trades.Workers = pc.Workers
	trades.InitialLookback = pc.InitialLookback
	trades.Tiers = map[models.Tier]ingest.TierConfig{
		models.TierHot:  {Interval: cfg.Tiers.Hot.Interval, BatchSize: cfg.Tiers.Hot.BatchSize},
		models.TierWarm: {Interval: cfg.Tiers.Warm.Interval, BatchSize: cfg.Tiers.Warm.BatchSize},
		models.TierCold: {Interval: cfg.Tiers.Cold.Interval, BatchSize: cfg.Tiers.Cold.BatchSize},
	}

	plat := platform.New(store, platform.DefaultConfig())
	components := pipeline.Components{
		Catalog: ingest.NewCatalogSync(client, store, ingest.CatalogConfig{
			PageSize:  cfg.Polymarket.CatalogPageSize,
			MaxEvents: cfg.Polymarket.MaxEvents,
		}),
		Trades:      ingest.NewTradeSync(client, store, builder, trades),
		Aggregator:  aggregator,
		Baselines:   baselines,
		Platform:    plat,
		Scores:      score.New(store, plat),
		Prioritizer: priority.New(store),
		Cache:       c,
		Alerter:     alerter,
	}
	if cfg.Polymarket.StreamEnabled {
		sc := polymarket.DefaultStreamConfig()
		sc.URL = cfg.Polymarket.StreamURL
		components.Stream = ingest.NewStreamIngestor(polymarket.NewStream(sc), store, builder, ingest.StreamConfig{
			FlushInterval:   pc.StreamFlushInterval,
			RefreshInterval: pc.StreamRefreshInterval,
			MaxMarkets:      pc.StreamMaxMarkets,
		})
	}

	return pipeline.New(components, pipeline.Config{
		CatalogInterval:   pc.CatalogInterval,
		HourlyInterval:    pc.HourlyInterval,
		DailyInterval:     pc.DailyInterval,
		BaselineInterval:  pc.BaselineInterval,
		PlatformInterval:  pc.PlatformInterval,
		ScoreInterval:     pc.ScoreInterval,
		LongScoreInterval: pc.LongScoreInterval,
		PriorityInterval:  pc.PriorityInterval,
	})
}

// ProvideAPI creates the HTTP read API, or nil when disabled (for Wire).
func ProvideAPI(cfg *config.Config, store storage.Store, c cache.Cache) *api.Server {
	if !cfg.API.Enabled {
		return nil
	}
	return api.NewServer(api.Config{
		Addr:            cfg.API.Addr,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, store, c)
}
