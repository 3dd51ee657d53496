// Package config defines the top-level configuration for spreadwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SPREADWATCH_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Feeds    FeedsConfig    `toml:"feeds"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	CSV      CSVConfig      `toml:"csv"`
	Archive  ArchiveConfig  `toml:"archive"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the detection-core parameters.
type EngineConfig struct {
	// ThresholdPercent is the minimum spread, in percent, that opens a
	// window. It is an explicit value: 1.0 means one percent, 0.01 means one
	// basis point.
	ThresholdPercent float64  `toml:"threshold_percent"`
	StaleAfter       duration `toml:"stale_after"`
	// Confirm toggles order-book re-validation. When false, windows
	// auto-confirm on open.
	Confirm      bool     `toml:"confirm"`
	ProbeTimeout duration `toml:"probe_timeout"`
}

// FeedsConfig selects the venues and tickers to watch.
type FeedsConfig struct {
	// Exchanges lists venue names; each must have a registered adapter.
	Exchanges []string `toml:"exchanges"`
	// Tickers lists symbols in any display format; they are canonicalized
	// on ingestion.
	Tickers []string `toml:"tickers"`
	// ReconnectDelay is the pause before redialing a dropped feed.
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// PriceTTL bounds how long a mirrored price survives without updates.
	PriceTTL duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CSVConfig holds the append-only opportunity log parameters.
type CSVConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ArchiveConfig holds parameters for moving aged opportunity rows to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	Prefix        string   `toml:"prefix"`
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Cooldown suppresses repeated alerts for the same ticker within the
	// window. Zero disables suppression.
	Cooldown duration `toml:"cooldown"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "1500ms", "3s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ThresholdPercent: 1.0,
			StaleAfter:       duration{1500 * time.Millisecond},
			Confirm:          true,
			ProbeTimeout:     duration{3 * time.Second},
		},
		Feeds: FeedsConfig{
			Exchanges:      []string{"binance", "bybit", "okx", "gate", "mexc", "bitget"},
			Tickers:        []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			ReconnectDelay: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spreadwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spreadwatch-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		CSV: CSVConfig{
			Enabled: true,
			Path:    "output.csv",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			Prefix:        "opportunities",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9109",
		},
		Notify: NotifyConfig{
			Events:   []string{"opportunity_confirmed", "feed_down"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "watch",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// knownExchanges enumerates the venues with registered adapters.
var knownExchanges = map[string]bool{
	"binance": true,
	"bybit":   true,
	"okx":     true,
	"gate":    true,
	"mexc":    true,
	"bitget":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.ThresholdPercent <= 0 {
		errs = append(errs, "engine: threshold_percent must be > 0")
	}
	if c.Engine.StaleAfter.Duration <= 0 {
		errs = append(errs, "engine: stale_after must be > 0")
	}
	if c.Engine.Confirm && c.Engine.ProbeTimeout.Duration <= 0 {
		errs = append(errs, "engine: probe_timeout must be > 0 when confirm is enabled")
	}

	// Feeds
	if len(c.Feeds.Exchanges) < 2 {
		errs = append(errs, "feeds: at least two exchanges are required to compute a spread")
	}
	for _, name := range c.Feeds.Exchanges {
		if !knownExchanges[strings.ToLower(name)] {
			errs = append(errs, fmt.Sprintf("feeds: unknown exchange %q", name))
		}
	}
	if len(c.Feeds.Tickers) == 0 {
		errs = append(errs, "feeds: at least one ticker is required")
	}

	// Postgres (only required in watch mode)
	if strings.ToLower(c.Mode) == "watch" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive requires S3 and Postgres.
	if c.Archive.Enabled {
		if strings.ToLower(c.Mode) != "watch" {
			errs = append(errs, "archive: requires mode \"watch\" (needs postgres)")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// CSV
	if c.CSV.Enabled && strings.TrimSpace(c.CSV.Path) == "" {
		errs = append(errs, "csv: path must not be empty when enabled")
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
