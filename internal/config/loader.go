package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPREADWATCH_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPREADWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.ThresholdPercent, "SPREADWATCH_ENGINE_THRESHOLD_PERCENT")
	setDuration(&cfg.Engine.StaleAfter, "SPREADWATCH_ENGINE_STALE_AFTER")
	setBool(&cfg.Engine.Confirm, "SPREADWATCH_ENGINE_CONFIRM")
	setDuration(&cfg.Engine.ProbeTimeout, "SPREADWATCH_ENGINE_PROBE_TIMEOUT")

	// ── Feeds ──
	setStringSlice(&cfg.Feeds.Exchanges, "SPREADWATCH_FEEDS_EXCHANGES")
	setStringSlice(&cfg.Feeds.Tickers, "SPREADWATCH_FEEDS_TICKERS")
	setDuration(&cfg.Feeds.ReconnectDelay, "SPREADWATCH_FEEDS_RECONNECT_DELAY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SPREADWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SPREADWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SPREADWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SPREADWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SPREADWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SPREADWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SPREADWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SPREADWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SPREADWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SPREADWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SPREADWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPREADWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPREADWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPREADWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SPREADWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SPREADWATCH_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "SPREADWATCH_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SPREADWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPREADWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPREADWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPREADWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPREADWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SPREADWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SPREADWATCH_S3_FORCE_PATH_STYLE")

	// ── CSV ──
	setBool(&cfg.CSV.Enabled, "SPREADWATCH_CSV_ENABLED")
	setStr(&cfg.CSV.Path, "SPREADWATCH_CSV_PATH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SPREADWATCH_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SPREADWATCH_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SPREADWATCH_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "SPREADWATCH_ARCHIVE_PREFIX")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "SPREADWATCH_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "SPREADWATCH_METRICS_ADDR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPREADWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPREADWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPREADWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SPREADWATCH_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "SPREADWATCH_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "SPREADWATCH_MODE")
	setStr(&cfg.LogLevel, "SPREADWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
