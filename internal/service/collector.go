// Package service glues the transport and storage layers to the detection
// engine: the Collector fans observations in, the Recorder fans confirmed
// opportunities out.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"spreadwatch/internal/domain"
	"spreadwatch/internal/engine"
)

// PricesChannel is the bus channel carrying normalized observations.
const PricesChannel = "prices"

// CollectorMetrics receives ingestion counts. A nil value disables recording.
type CollectorMetrics interface {
	ObservationIngested(exchange string)
	ObservationRejected(exchange string)
	LastPrice(ticker, exchange string, price float64)
}

// Collector receives observations from the venue feeds, mirrors them into
// the price cache and onto the signal bus (both best effort), and forwards
// them into the engine. The engine is the only required collaborator; cache
// and bus may be nil.
type Collector struct {
	engine  *engine.Engine
	prices  domain.PriceCache
	bus     domain.SignalBus
	metrics CollectorMetrics
	logger  *slog.Logger
}

// NewCollector creates a Collector. prices, bus, and metrics may be nil.
func NewCollector(eng *engine.Engine, prices domain.PriceCache, bus domain.SignalBus, metrics CollectorMetrics, logger *slog.Logger) *Collector {
	return &Collector{
		engine:  eng,
		prices:  prices,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "collector")),
	}
}

// observationEvent is the JSON shape published on the prices channel.
type observationEvent struct {
	Event      string  `json:"event"`
	Ticker     string  `json:"ticker"`
	Exchange   string  `json:"exchange"`
	Price      float64 `json:"price"`
	ObservedAt string  `json:"observed_at"`
	LatencyMs  int64   `json:"latency_ms"`
}

// Collect handles one observation from a feed.
func (c *Collector) Collect(ctx context.Context, obs domain.PriceObservation) {
	obs.Ticker = domain.CanonicalTicker(obs.Ticker)

	if !obs.Valid() {
		if c.metrics != nil {
			c.metrics.ObservationRejected(obs.Exchange)
		}
		return
	}
	if c.metrics != nil {
		c.metrics.ObservationIngested(obs.Exchange)
		c.metrics.LastPrice(obs.Ticker, obs.Exchange, obs.Price)
	}

	if c.prices != nil {
		if err := c.prices.SetPrice(ctx, obs); err != nil {
			c.logger.DebugContext(ctx, "price mirror failed",
				slog.String("ticker", obs.Ticker),
				slog.String("exchange", obs.Exchange),
				slog.String("error", err.Error()),
			)
		}
	}

	if c.bus != nil {
		evt, _ := json.Marshal(observationEvent{
			Event:      "observation",
			Ticker:     obs.Ticker,
			Exchange:   obs.Exchange,
			Price:      obs.Price,
			ObservedAt: obs.ObservedAt.UTC().Format(time.RFC3339Nano),
			LatencyMs:  obs.FeedLatency.Milliseconds(),
		})
		if err := c.bus.Publish(ctx, PricesChannel, evt); err != nil {
			c.logger.DebugContext(ctx, "publish observation failed",
				slog.String("ticker", obs.Ticker),
				slog.String("error", err.Error()),
			)
		}
	}

	c.engine.Collect(ctx, obs)
}
