package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	content := `
polymarket:
  requests_per_second: 2.5
  max_events: 500

pipeline:
  score_interval: 2m
  workers: 8

tiers:
  hot:
    interval: 10s
    batch_size: 25

storage:
  driver: sqlite
  path: "./data/test.db"

alert:
  threshold: 6.5
  windows:
    - 1h

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

logging:
  level: "debug"
  format: "text"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Polymarket.RequestsPerSecond != 2.5 || cfg.Polymarket.MaxEvents != 500 {
		t.Errorf("Unexpected polymarket config: %+v", cfg.Polymarket)
	}
	if cfg.Pipeline.ScoreInterval != 2*time.Minute || cfg.Pipeline.Workers != 8 {
		t.Errorf("Unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if cfg.Tiers.Hot.Interval != 10*time.Second || cfg.Tiers.Hot.BatchSize != 25 {
		t.Errorf("Unexpected hot tier: %+v", cfg.Tiers.Hot)
	}
	// untouched keys keep their defaults
	if cfg.Tiers.Cold.Interval != 3*time.Minute || cfg.Pipeline.SnapshotRetention != 26*time.Hour {
		t.Errorf("Defaults lost: cold=%v retention=%v", cfg.Tiers.Cold.Interval, cfg.Pipeline.SnapshotRetention)
	}
	if len(cfg.Alert.Windows) != 1 || cfg.Alert.Windows[0] != "1h" || cfg.Alert.Threshold != 6.5 {
		t.Errorf("Unexpected alert config: %+v", cfg.Alert)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.API.Addr != ":8080" || cfg.Telegram.Enabled {
		t.Errorf("Unexpected defaults: storage=%+v api=%+v", cfg.Storage, cfg.API)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SEISMO_STORAGE_DRIVER", "postgres")
	t.Setenv("SEISMO_STORAGE_DSN", "postgres://seismo@localhost/seismo")
	t.Setenv("SEISMO_TIERS_HOT_INTERVAL", "20s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://seismo@localhost/seismo" {
		t.Errorf("env not applied: %+v", cfg.Storage)
	}
	if cfg.Tiers.Hot.Interval != 20*time.Second {
		t.Errorf("hot interval = %v, want 20s", cfg.Tiers.Hot.Interval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }},
		{"missing data api url", func(c *Config) { c.Polymarket.DataAPIURL = "" }},
		{"trade page too large", func(c *Config) { c.Polymarket.TradePageSize = 5000 }},
		{"score interval too short", func(c *Config) { c.Pipeline.ScoreInterval = 30 * time.Second }},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"short retention", func(c *Config) { c.Pipeline.SnapshotRetention = time.Hour }},
		{"hot slower than warm", func(c *Config) { c.Tiers.Hot.Interval = 5 * time.Minute }},
		{"empty cold batch", func(c *Config) { c.Tiers.Cold.BatchSize = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"alert threshold above ten", func(c *Config) { c.Alert.Threshold = 11 }},
		{"unknown alert window", func(c *Config) { c.Alert.Windows = []string{"2h"} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}
