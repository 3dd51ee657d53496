package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"spreadwatch/internal/domain"
)

// StatusLogger periodically reports what the price mirror holds: per ticker,
// the venues with a live cached quote and the widest spread among them.
// Monitor mode runs it to tail a deployment through Redis alone, without
// touching the watcher's database.
type StatusLogger struct {
	prices    domain.PriceCache
	tickers   []string
	exchanges []string
	interval  time.Duration
	logger    *slog.Logger
}

// NewStatusLogger creates a StatusLogger. A non-positive interval falls back
// to 30 seconds.
func NewStatusLogger(prices domain.PriceCache, tickers, exchanges []string, interval time.Duration, logger *slog.Logger) *StatusLogger {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	lowered := make([]string, len(exchanges))
	for i, ex := range exchanges {
		lowered[i] = strings.ToLower(ex)
	}
	return &StatusLogger{
		prices:    prices,
		tickers:   tickers,
		exchanges: lowered,
		interval:  interval,
		logger:    logger.With(slog.String("component", "status")),
	}
}

// Run reports on the configured interval until the context is cancelled.
func (s *StatusLogger) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.logOnce(ctx)
		}
	}
}

func (s *StatusLogger) logOnce(ctx context.Context) {
	for _, t := range s.tickers {
		name := domain.CanonicalTicker(t)
		prices, err := s.prices.GetTickerPrices(ctx, name, s.exchanges)
		if err != nil {
			s.logger.DebugContext(ctx, "price snapshot failed",
				slog.String("ticker", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		lo, hi, spread, ok := widestSpread(prices)
		if !ok {
			s.logger.InfoContext(ctx, "price snapshot",
				slog.String("ticker", name),
				slog.Int("venues", len(prices)),
			)
			continue
		}
		s.logger.InfoContext(ctx, "price snapshot",
			slog.String("ticker", name),
			slog.Int("venues", len(prices)),
			slog.String("lowest", lo.Exchange),
			slog.Float64("lowest_price", lo.Price),
			slog.String("highest", hi.Exchange),
			slog.Float64("highest_price", hi.Price),
			slog.Float64("spread_percent", spread),
		)
	}
}

// widestSpread picks the cheapest and dearest cached quotes and the percent
// spread between them. ok is false with fewer than two venues.
func widestSpread(prices map[string]domain.PriceObservation) (lo, hi domain.PriceObservation, spread float64, ok bool) {
	if len(prices) < 2 {
		return lo, hi, 0, false
	}
	first := true
	for _, obs := range prices {
		if first {
			lo, hi = obs, obs
			first = false
			continue
		}
		if obs.Price < lo.Price {
			lo = obs
		}
		if obs.Price > hi.Price {
			hi = obs
		}
	}
	return lo, hi, (hi.Price - lo.Price) / lo.Price * 100, true
}
