// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	DB       DBConfig       `mapstructure:"db"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScraperConfig bounds the scrape pipeline. The orchestrator treats these as
// immutable for the duration of one run.
type ScraperConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	SearchURL     string        `mapstructure:"search_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	MaxConcurrent int           `mapstructure:"max_concurrent_requests"`
	Delay         time.Duration `mapstructure:"request_delay"`
	MaxPages      int           `mapstructure:"max_pages"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// DBConfig controls access to the relational database. Provider "memory"
// runs without Postgres, useful for local smoke runs.
type DBConfig struct {
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScheduleConfig sets the daily run trigger; time and timezone are
// configuration, not core logic.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RunAt    string `mapstructure:"run_at"`
	Timezone string `mapstructure:"timezone"`
}

// OpsConfig controls the health/metrics/stats HTTP surface.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.base_url", "https://auto.ria.com")
	v.SetDefault("scraper.search_url", "https://auto.ria.com/uk/car/used/")
	v.SetDefault("scraper.max_concurrent_requests", 5)
	v.SetDefault("scraper.request_delay", "1s")
	v.SetDefault("scraper.max_pages", 10)
	v.SetDefault("scraper.fetch_timeout", "30s")
	v.SetDefault("scraper.drain_timeout", "30s")
	v.SetDefault("db.provider", "postgres")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.run_at", "12:00")
	v.SetDefault("schedule.timezone", "Europe/Kyiv")
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits. A nonsensical
// concurrency cap or delay is rejected here, before any run can start.
func (c Config) Validate() error {
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url is required")
	}
	if c.Scraper.SearchURL == "" {
		return fmt.Errorf("scraper.search_url is required")
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("scraper.max_concurrent_requests must be > 0")
	}
	if c.Scraper.Delay < 0 {
		return fmt.Errorf("scraper.request_delay must not be negative")
	}
	if c.Scraper.MaxPages <= 0 {
		return fmt.Errorf("scraper.max_pages must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.Schedule.Enabled && c.Schedule.RunAt == "" {
		return fmt.Errorf("schedule.run_at is required when the schedule is enabled")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}
