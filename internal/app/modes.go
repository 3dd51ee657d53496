package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "spreadwatch/internal/blob/s3"
	"spreadwatch/internal/domain"
	"spreadwatch/internal/engine"
	"spreadwatch/internal/exchange"
	"spreadwatch/internal/feed"
	"spreadwatch/internal/metrics"
	"spreadwatch/internal/service"
)

// EventFeedDown is the notification event name for venue disconnects.
const EventFeedDown = "feed_down"

// statusInterval paces monitor mode's cached-price snapshots.
const statusInterval = 30 * time.Second

// WatchMode runs the full detection loop: one websocket feed per venue into
// the engine, confirmed opportunities out through the recorder, plus the
// optional archiver and metrics endpoint.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Any("exchanges", a.cfg.Feeds.Exchanges),
		slog.Any("tickers", a.cfg.Feeds.Tickers),
		slog.Float64("threshold_percent", a.cfg.Engine.ThresholdPercent),
	)

	var csvApp service.CSVAppender
	if deps.CSV != nil {
		csvApp = deps.CSV
	}
	recorder := service.NewRecorder(deps.Store, csvApp, deps.Bus, deps.Notifier, a.logger)

	var probe domain.ConfirmationProbe
	if a.cfg.Engine.Confirm {
		probe = exchange.NewProbe(deps.Registry)
	}
	var engMetrics engine.Metrics
	var colMetrics service.CollectorMetrics
	if deps.Metrics != nil {
		engMetrics = deps.Metrics
		colMetrics = deps.Metrics
	}

	eng := engine.New(engine.Config{
		ThresholdPercent: a.cfg.Engine.ThresholdPercent,
		StaleAfter:       a.cfg.Engine.StaleAfter.Duration,
		ProbeTimeout:     a.cfg.Engine.ProbeTimeout.Duration,
	}, probe, recorder, engMetrics, a.logger)

	collector := service.NewCollector(eng, deps.Prices, deps.Bus, colMetrics, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	onDown := func(ctx context.Context, venue string, err error) {
		if deps.Metrics != nil {
			deps.Metrics.FeedReconnect(venue)
		}
		_ = deps.Notifier.Notify(ctx, EventFeedDown, venue,
			fmt.Sprintf("Feed down: %s", venue),
			err.Error(),
		)
	}

	for _, adapter := range deps.Registry.All() {
		f := feed.NewWSFeed(
			adapter,
			a.cfg.Feeds.Tickers,
			a.cfg.Feeds.ReconnectDelay.Duration,
			collector.Collect,
			onDown,
			a.logger,
		)
		g.Go(func() error {
			return f.Run(ctx)
		})
	}

	if deps.Blob != nil && deps.Store != nil {
		archiver := s3blob.NewArchiver(deps.Blob, deps.Store,
			a.cfg.Archive.Prefix, retention(a.cfg.Archive.RetentionDays), a.logger)
		g.Go(func() error {
			return archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(ctx, a.cfg.Metrics.Addr)
		})
	}

	err := g.Wait()
	eng.Drain()
	return err
}

// MonitorMode is a read-only consumer: it subscribes to the watcher's bus
// channels, logs the traffic, and periodically reports the cached per-venue
// prices. Useful for tailing a deployment without touching its database.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	status := service.NewStatusLogger(deps.Prices,
		a.cfg.Feeds.Tickers, a.cfg.Feeds.Exchanges, statusInterval, a.logger)
	g.Go(func() error {
		return status.Run(ctx)
	})

	g.Go(func() error {
		ch, err := deps.Bus.Subscribe(ctx, service.PricesChannel)
		if err != nil {
			return fmt.Errorf("monitor: subscribe %s: %w", service.PricesChannel, err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				a.logger.DebugContext(ctx, "observation",
					slog.String("payload", string(msg)),
				)
			}
		}
	})

	g.Go(func() error {
		ch, err := deps.Bus.Subscribe(ctx, service.OpportunitiesChannel)
		if err != nil {
			return fmt.Errorf("monitor: subscribe %s: %w", service.OpportunitiesChannel, err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "opportunity",
					slog.String("payload", string(msg)),
				)
			}
		}
	})

	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(ctx, a.cfg.Metrics.Addr)
		})
	}

	return g.Wait()
}
