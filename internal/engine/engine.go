package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"spreadwatch/internal/domain"
)

// Config bundles the core's tunables.
type Config struct {
	// ThresholdPercent is the minimum cross-exchange spread, in percent,
	// that opens an arbitrage window.
	ThresholdPercent float64
	// StaleAfter is the maximum observation age before it is excluded from
	// spread computation.
	StaleAfter time.Duration
	// ProbeTimeout bounds the joined confirmation fetches.
	ProbeTimeout time.Duration
}

// Engine is the detection core: observations flow in through Collect and
// confirmed opportunities flow out through the sink. It owns no transport and
// no storage; those are collaborators behind domain interfaces.
type Engine struct {
	agg     *Aggregator
	windows *WindowManager
	logger  *slog.Logger
}

// New creates an Engine. probe may be nil (windows then auto-confirm on
// open); metrics may be nil.
func New(cfg Config, probe domain.ConfirmationProbe, sink domain.OpportunitySink, metrics Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		agg: NewAggregator(cfg.StaleAfter),
		windows: NewWindowManager(WindowConfig{
			ThresholdPercent: cfg.ThresholdPercent,
			ProbeTimeout:     cfg.ProbeTimeout,
		}, probe, sink, metrics, logger),
		logger: logger.With(slog.String("component", "engine")),
	}
}

// Collect ingests one observation: canonicalize, aggregate, evaluate, and
// feed the result into the window state machine. Invalid observations are
// dropped silently; a ticker with fewer than two live venues is a no-op.
func (e *Engine) Collect(ctx context.Context, obs domain.PriceObservation) {
	obs.Ticker = domain.CanonicalTicker(obs.Ticker)

	set := e.agg.Update(obs)
	if len(set) < 2 {
		return
	}

	eval, err := Evaluate(set)
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientData) {
			e.logger.WarnContext(ctx, "spread evaluation failed",
				slog.String("ticker", obs.Ticker),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	e.windows.OnSpread(ctx, obs.Ticker, eval)
}

// CurrentSet exposes the live observation set for a ticker, canonicalizing
// the symbol first.
func (e *Engine) CurrentSet(ticker string) []domain.PriceObservation {
	return e.agg.CurrentSet(domain.CanonicalTicker(ticker))
}

// LiveWindows reports the number of in-flight investigations.
func (e *Engine) LiveWindows() int {
	return e.windows.LiveWindows()
}

// Drain waits for in-flight confirmations to settle. Called on shutdown.
func (e *Engine) Drain() {
	e.windows.Drain()
}
