package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "spreadwatch/internal/blob/s3"
	"spreadwatch/internal/cache/redis"
	"spreadwatch/internal/config"
	"spreadwatch/internal/domain"
	"spreadwatch/internal/exchange"
	"spreadwatch/internal/metrics"
	"spreadwatch/internal/notify"
	"spreadwatch/internal/store/csvlog"
	"spreadwatch/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator the modes need. Wire
// constructs it; the returned cleanup function tears it down.
type Dependencies struct {
	Store    domain.OpportunityStore
	CSV      *csvlog.Appender
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Blob     domain.BlobWriter
	Registry *exchange.Registry
	Notifier *notify.Notifier
	Metrics  *metrics.Recorder
}

// Wire constructs all dependency implementations from the configuration. On
// error, already-created resources are released before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	watchMode := strings.ToLower(cfg.Mode) == "watch"

	// Postgres backs the opportunity store; only watch mode writes records.
	if watchMode {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewOpportunityStore(pgClient.Pool())
	}

	// CSV log, watch mode only.
	if watchMode && cfg.CSV.Enabled {
		appender, err := csvlog.Open(cfg.CSV.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: csv log: %w", err)
		}
		closers = append(closers, func() { _ = appender.Close() })
		deps.CSV = appender
	}

	// Redis carries the price mirror and the signal bus for both modes.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.Bus = redis.NewSignalBus(redisClient)

	// S3 only when the archiver will run.
	if watchMode && cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3blob.NewWriter(s3Client)
	}

	// Venue adapters; watch mode dials feeds and probes through these.
	if watchMode {
		registry, err := exchange.NewRegistry(cfg.Feeds.Exchanges)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchanges: %w", err)
		}
		deps.Registry = registry
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.NewRecorder(prometheus.DefaultRegisterer)
	}

	return deps, cleanup, nil
}

// retention converts the configured retention in days to a duration.
func retention(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
