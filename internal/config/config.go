package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Tiers      TiersConfig      `mapstructure:"tiers"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	API        APIConfig        `mapstructure:"api"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Alert      AlertConfig      `mapstructure:"alert"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL       string        `mapstructure:"gamma_api_url"`
	DataAPIURL        string        `mapstructure:"data_api_url"`
	StreamURL         string        `mapstructure:"stream_url"`
	StreamEnabled     bool          `mapstructure:"stream_enabled"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	TradePageSize     int           `mapstructure:"trade_page_size"`
	MaxTradePages     int           `mapstructure:"max_trade_pages"`
	CatalogPageSize   int           `mapstructure:"catalog_page_size"`
	MaxEvents         int           `mapstructure:"max_events"` // 0 = whole catalog
}

// PipelineConfig holds job cadences and computation settings
type PipelineConfig struct {
	CatalogInterval       time.Duration `mapstructure:"catalog_interval"`
	HourlyInterval        time.Duration `mapstructure:"hourly_interval"`
	DailyInterval         time.Duration `mapstructure:"daily_interval"`
	BaselineInterval      time.Duration `mapstructure:"baseline_interval"`
	PlatformInterval      time.Duration `mapstructure:"platform_interval"`
	ScoreInterval         time.Duration `mapstructure:"score_interval"`      // 1h and 24h windows
	LongScoreInterval     time.Duration `mapstructure:"long_score_interval"` // 7d and 30d windows
	PriorityInterval      time.Duration `mapstructure:"priority_interval"`
	Workers               int           `mapstructure:"workers"`
	InitialLookback       time.Duration `mapstructure:"initial_lookback"`
	SnapshotRetention     time.Duration `mapstructure:"snapshot_retention"`
	BaselineLookbackDays  int           `mapstructure:"baseline_lookback_days"`
	StreamFlushInterval   time.Duration `mapstructure:"stream_flush_interval"`
	StreamRefreshInterval time.Duration `mapstructure:"stream_refresh_interval"`
	StreamMaxMarkets      int           `mapstructure:"stream_max_markets"`
}

// TierConfig holds the trade polling cadence of one tier
type TierConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// TiersConfig holds the per-tier polling cadences
type TiersConfig struct {
	Hot  TierConfig `mapstructure:"hot"`
	Warm TierConfig `mapstructure:"warm"`
	Cold TierConfig `mapstructure:"cold"`
}

// StorageConfig holds the document store configuration
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite or postgres
	Path       string `mapstructure:"path"`
	DSN        string `mapstructure:"dsn"`
	ArchiveDir string `mapstructure:"archive_dir"`
}

// CacheConfig holds the read-path cache configuration
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"` // empty = in-memory only
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// APIConfig holds the HTTP read API configuration
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// AlertConfig holds score alert configuration
type AlertConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold float64       `mapstructure:"threshold"`
	TopK      int           `mapstructure:"top_k"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	Windows   []string      `mapstructure:"windows"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// SEISMO_STORAGE_DSN overrides storage.dsn
	v.SetEnvPrefix("SEISMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.data_api_url", "https://data-api.polymarket.com")
	v.SetDefault("polymarket.stream_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("polymarket.stream_enabled", true)
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.requests_per_second", 5.0)
	v.SetDefault("polymarket.burst", 5)
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_backoff", "1s")
	v.SetDefault("polymarket.trade_page_size", 500)
	v.SetDefault("polymarket.max_trade_pages", 20)
	v.SetDefault("polymarket.catalog_page_size", 100)
	v.SetDefault("polymarket.max_events", 0)

	// Pipeline defaults
	v.SetDefault("pipeline.catalog_interval", "10m")
	v.SetDefault("pipeline.hourly_interval", "15m")
	v.SetDefault("pipeline.daily_interval", "1h")
	v.SetDefault("pipeline.baseline_interval", "6h")
	v.SetDefault("pipeline.platform_interval", "15m")
	v.SetDefault("pipeline.score_interval", "5m")
	v.SetDefault("pipeline.long_score_interval", "1h")
	v.SetDefault("pipeline.priority_interval", "10m")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.initial_lookback", "1h")
	v.SetDefault("pipeline.snapshot_retention", "26h")
	v.SetDefault("pipeline.baseline_lookback_days", 14)
	v.SetDefault("pipeline.stream_flush_interval", "5s")
	v.SetDefault("pipeline.stream_refresh_interval", "5m")
	v.SetDefault("pipeline.stream_max_markets", 200)

	// Tier defaults
	v.SetDefault("tiers.hot.interval", "15s")
	v.SetDefault("tiers.hot.batch_size", 50)
	v.SetDefault("tiers.warm.interval", "1m")
	v.SetDefault("tiers.warm.batch_size", 100)
	v.SetDefault("tiers.cold.interval", "3m")
	v.SetDefault("tiers.cold.batch_size", 200)

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./data/seismo.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.archive_dir", "./data/archive")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "5m")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.shutdown_timeout", "10s")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	// Alert defaults
	v.SetDefault("alert.enabled", true)
	v.SetDefault("alert.threshold", 7.0)
	v.SetDefault("alert.top_k", 5)
	v.SetDefault("alert.cooldown", "2h")
	v.SetDefault("alert.windows", []string{"1h", "24h"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.DataAPIURL == "" {
		return fmt.Errorf("polymarket.data_api_url is required")
	}
	if c.Polymarket.StreamEnabled && c.Polymarket.StreamURL == "" {
		return fmt.Errorf("polymarket.stream_url is required when the stream is enabled")
	}
	if c.Polymarket.RequestsPerSecond < 0 {
		return fmt.Errorf("polymarket.requests_per_second must not be negative")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}
	if c.Polymarket.TradePageSize < 1 || c.Polymarket.TradePageSize > 1000 {
		return fmt.Errorf("polymarket.trade_page_size must be between 1 and 1000")
	}
	if c.Polymarket.CatalogPageSize < 1 || c.Polymarket.CatalogPageSize > 500 {
		return fmt.Errorf("polymarket.catalog_page_size must be between 1 and 500")
	}
	if c.Polymarket.MaxEvents < 0 {
		return fmt.Errorf("polymarket.max_events must not be negative")
	}

	// Validate Pipeline config
	intervals := map[string]time.Duration{
		"pipeline.catalog_interval":    c.Pipeline.CatalogInterval,
		"pipeline.hourly_interval":     c.Pipeline.HourlyInterval,
		"pipeline.daily_interval":      c.Pipeline.DailyInterval,
		"pipeline.baseline_interval":   c.Pipeline.BaselineInterval,
		"pipeline.platform_interval":   c.Pipeline.PlatformInterval,
		"pipeline.score_interval":      c.Pipeline.ScoreInterval,
		"pipeline.long_score_interval": c.Pipeline.LongScoreInterval,
		"pipeline.priority_interval":   c.Pipeline.PriorityInterval,
	}
	for key, d := range intervals {
		if d < time.Minute {
			return fmt.Errorf("%s must be at least 1 minute", key)
		}
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 16 {
		return fmt.Errorf("pipeline.workers must be between 1 and 16")
	}
	if c.Pipeline.SnapshotRetention < 2*time.Hour {
		return fmt.Errorf("pipeline.snapshot_retention must be at least 2 hours")
	}
	if c.Pipeline.BaselineLookbackDays < 1 {
		return fmt.Errorf("pipeline.baseline_lookback_days must be at least 1")
	}

	// Validate Tier config
	for name, tier := range map[string]TierConfig{"hot": c.Tiers.Hot, "warm": c.Tiers.Warm, "cold": c.Tiers.Cold} {
		if tier.Interval < 5*time.Second {
			return fmt.Errorf("tiers.%s.interval must be at least 5 seconds", name)
		}
		if tier.BatchSize < 1 {
			return fmt.Errorf("tiers.%s.batch_size must be at least 1", name)
		}
	}
	if c.Tiers.Hot.Interval > c.Tiers.Warm.Interval || c.Tiers.Warm.Interval > c.Tiers.Cold.Interval {
		return fmt.Errorf("tier intervals must not decrease from hot to cold")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	// Validate Cache config
	if c.Cache.Enabled && c.Cache.TTL < time.Second {
		return fmt.Errorf("cache.ttl must be at least 1 second")
	}

	// Validate API config
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Alert config
	if c.Alert.Enabled {
		if c.Alert.Threshold < 0 || c.Alert.Threshold > 10 {
			return fmt.Errorf("alert.threshold must be between 0 and 10")
		}
		if c.Alert.TopK < 1 {
			return fmt.Errorf("alert.top_k must be at least 1")
		}
		validWindows := map[string]bool{"1h": true, "24h": true, "7d": true, "30d": true}
		for _, w := range c.Alert.Windows {
			if !validWindows[w] {
				return fmt.Errorf("alert.windows must only contain: 1h, 24h, 7d, 30d")
			}
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
