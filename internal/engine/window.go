package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"spreadwatch/internal/domain"
)

// WindowConfig holds the tunable parameters of the window state machine.
type WindowConfig struct {
	// ThresholdPercent is the minimum spread, in percent, that opens a
	// window. The boundary qualifies: spread == threshold opens.
	ThresholdPercent float64
	// ProbeTimeout bounds the joined best-ask/best-bid confirmation. Zero
	// falls back to 3 seconds.
	ProbeTimeout time.Duration
}

// Metrics receives window lifecycle counts. Implementations must be safe for
// concurrent use; a nil Metrics disables recording.
type Metrics interface {
	SpreadObserved(ticker string, percent float64)
	WindowOpened(ticker string)
	WindowConfirmed(ticker string)
	WindowRejected(ticker string)
	ProbeDuration(seconds float64)
}

// WindowManager is the per-ticker gate that converts detected spreads into at
// most one confirmed OpportunityRecord per window. It enforces the central
// invariant: zero or one non-Closed window per ticker at any time.
//
// A nil probe means confirmation is not configured; qualifying spreads then
// auto-confirm immediately on open. The probe's two legs run concurrently and
// are joined under ProbeTimeout; no lock is held across that I/O.
type WindowManager struct {
	cfg     WindowConfig
	probe   domain.ConfirmationProbe
	sink    domain.OpportunitySink
	metrics Metrics
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	windows map[string]*window

	inflight sync.WaitGroup
}

type window struct {
	ticker    string
	openedAt  time.Time
	state     domain.WindowState
	eval      Evaluation
	collapsed atomic.Bool
}

// NewWindowManager creates a WindowManager. probe and metrics may be nil.
func NewWindowManager(cfg WindowConfig, probe domain.ConfirmationProbe, sink domain.OpportunitySink, metrics Metrics, logger *slog.Logger) *WindowManager {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &WindowManager{
		cfg:     cfg,
		probe:   probe,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "window_manager")),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		windows: make(map[string]*window),
	}
}

// OnSpread feeds one spread evaluation for a ticker into the state machine.
// It emits zero or one OpportunityRecord, possibly asynchronously when a
// probe is configured.
//
// A qualifying spread while a window is live is dropped, not queued: the
// in-flight confirmation finishes to its natural conclusion. A
// below-threshold spread while Confirming marks the window collapsed so the
// probe result is discarded.
func (m *WindowManager) OnSpread(ctx context.Context, ticker string, eval Evaluation) {
	if m.metrics != nil {
		m.metrics.SpreadObserved(ticker, eval.SpreadPercent)
	}

	qualifies := eval.SpreadPercent >= m.cfg.ThresholdPercent

	m.mu.Lock()
	w, live := m.windows[ticker]

	if !qualifies {
		if live {
			w.collapsed.Store(true)
		}
		m.mu.Unlock()
		return
	}

	if live {
		// At most one in-flight investigation per ticker.
		m.mu.Unlock()
		return
	}

	w = &window{
		ticker:   ticker,
		openedAt: m.now(),
		state:    domain.WindowOpen,
		eval:     eval,
	}
	w.state = domain.WindowConfirming
	m.windows[ticker] = w
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.WindowOpened(ticker)
	}
	m.logger.DebugContext(ctx, "window opened",
		slog.String("ticker", ticker),
		slog.Float64("spread_percent", eval.SpreadPercent),
		slog.String("lower", eval.Lower.Exchange),
		slog.String("higher", eval.Higher.Exchange),
	)

	// The confirmation and the resulting save outlive the triggering spread
	// event: a cancelled feed context must not orphan a half-issued probe, nor
	// fail the sink delivery of a record Drain is waiting on.
	detached := context.WithoutCancel(ctx)

	if m.probe == nil {
		m.decide(detached, w, true, 0)
		return
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		confirmed, rechecked := m.confirm(detached, w)
		m.decide(detached, w, confirmed, rechecked)
	}()
}

// confirm runs the two probe legs concurrently and reports whether the live
// order books still clear the threshold. Every failure path (fetch error,
// timeout, unusable price, rechecked spread below threshold) reads as "not
// confirmed"; nothing here is fatal.
func (m *WindowManager) confirm(ctx context.Context, w *window) (bool, float64) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	var (
		ask, bid float64
		start    = m.now()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ask, err = m.probe.BestAsk(gctx, w.eval.Lower.Exchange, w.ticker)
		return err
	})
	g.Go(func() error {
		var err error
		bid, err = m.probe.BestBid(gctx, w.eval.Higher.Exchange, w.ticker)
		return err
	})
	err := g.Wait()

	if m.metrics != nil {
		m.metrics.ProbeDuration(m.now().Sub(start).Seconds())
	}

	if err != nil {
		m.logger.WarnContext(ctx, "confirmation probe failed",
			slog.String("ticker", w.ticker),
			slog.String("error", err.Error()),
		)
		return false, 0
	}
	if ask <= 0 || bid <= 0 {
		return false, 0
	}

	rechecked := (bid - ask) / ask * 100
	return rechecked >= m.cfg.ThresholdPercent, rechecked
}

// decide closes the window, removes it from live state, and emits the record
// when the window was confirmed and did not collapse while the probe ran.
func (m *WindowManager) decide(ctx context.Context, w *window, confirmed bool, rechecked float64) {
	m.mu.Lock()
	w.state = domain.WindowClosed
	delete(m.windows, w.ticker)
	m.mu.Unlock()

	decidedAt := m.now()

	if !confirmed || w.collapsed.Load() {
		if m.metrics != nil {
			m.metrics.WindowRejected(w.ticker)
		}
		m.logger.DebugContext(ctx, "window rejected",
			slog.String("ticker", w.ticker),
			slog.Bool("collapsed", w.collapsed.Load()),
		)
		return
	}

	rec := domain.OpportunityRecord{
		ID:               m.newID(),
		Ticker:           w.ticker,
		Timestamp:        decidedAt,
		LowerExchange:    w.eval.Lower.Exchange,
		LowerPrice:       w.eval.Lower.Price,
		LowerLatency:     w.eval.Lower.FeedLatency,
		HigherExchange:   w.eval.Higher.Exchange,
		HigherPrice:      w.eval.Higher.Price,
		HigherLatency:    w.eval.Higher.FeedLatency,
		SpreadPercent:    w.eval.SpreadPercent,
		RecheckedPercent: rechecked,
		WindowDuration:   decidedAt.Sub(w.openedAt),
	}

	if m.metrics != nil {
		m.metrics.WindowConfirmed(w.ticker)
	}
	m.logger.InfoContext(ctx, "opportunity confirmed",
		slog.String("ticker", rec.Ticker),
		slog.Float64("spread_percent", rec.SpreadPercent),
		slog.Float64("rechecked_percent", rec.RecheckedPercent),
		slog.Int64("window_ms", rec.WindowDuration.Milliseconds()),
	)

	if err := m.sink.Save(ctx, rec); err != nil {
		// Persistence failure is the sink's concern, not the engine's.
		m.logger.WarnContext(ctx, "sink save failed",
			slog.String("ticker", rec.Ticker),
			slog.String("opp_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// LiveWindows returns the number of non-Closed windows, for status reporting.
func (m *WindowManager) LiveWindows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Drain blocks until all in-flight confirmations have reached a decision.
func (m *WindowManager) Drain() {
	m.inflight.Wait()
}
