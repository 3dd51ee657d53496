package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"spreadwatch/internal/domain"
)

type captureSink struct {
	mu   sync.Mutex
	recs []domain.OpportunityRecord
}

func (s *captureSink) Save(_ context.Context, rec domain.OpportunityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) records() []domain.OpportunityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OpportunityRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

type fakeProbe struct {
	ask func(ctx context.Context, exchange, ticker string) (float64, error)
	bid func(ctx context.Context, exchange, ticker string) (float64, error)
}

func (p *fakeProbe) BestAsk(ctx context.Context, exchange, ticker string) (float64, error) {
	return p.ask(ctx, exchange, ticker)
}

func (p *fakeProbe) BestBid(ctx context.Context, exchange, ticker string) (float64, error) {
	return p.bid(ctx, exchange, ticker)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func evalOf(lowerEx string, lowerPx float64, higherEx string, higherPx float64) Evaluation {
	now := time.Now()
	return Evaluation{
		Lower:         obsAt(lowerEx, lowerPx, now),
		Higher:        obsAt(higherEx, higherPx, now),
		SpreadPercent: (higherPx - lowerPx) / lowerPx * 100,
	}
}

func TestWindowManagerAutoConfirm(t *testing.T) {
	sink := &captureSink{}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, nil, sink, nil, discardLogger())

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	var calls int
	m.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 50 * time.Millisecond)
	}

	m.OnSpread(context.Background(), "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" {
		t.Error("record ID must not be empty")
	}
	if math.Abs(rec.SpreadPercent-1.5) > 1e-9 {
		t.Errorf("SpreadPercent = %v, want 1.5", rec.SpreadPercent)
	}
	if rec.RecheckedPercent != 0 {
		t.Errorf("RecheckedPercent = %v, want 0 without a probe", rec.RecheckedPercent)
	}
	if rec.LowerExchange != "binance" || rec.HigherExchange != "bybit" {
		t.Errorf("legs = %s/%s, want binance/bybit", rec.LowerExchange, rec.HigherExchange)
	}
	if rec.WindowDuration != 50*time.Millisecond {
		t.Errorf("WindowDuration = %v, want 50ms", rec.WindowDuration)
	}
	if m.LiveWindows() != 0 {
		t.Errorf("LiveWindows = %d, want 0 after decision", m.LiveWindows())
	}
}

func TestWindowManagerThresholdBoundary(t *testing.T) {
	tests := []struct {
		name     string
		spread   Evaluation
		wantRecs int
	}{
		{"below threshold", evalOf("binance", 100, "bybit", 100.99), 0},
		{"exactly at threshold", evalOf("binance", 100, "bybit", 101), 1},
		{"above threshold", evalOf("binance", 100, "bybit", 102), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &captureSink{}
			m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, nil, sink, nil, discardLogger())
			m.OnSpread(context.Background(), "BTCUSDT", tt.spread)
			if got := len(sink.records()); got != tt.wantRecs {
				t.Errorf("records = %d, want %d", got, tt.wantRecs)
			}
		})
	}
}

func TestWindowManagerProbeConfirms(t *testing.T) {
	sink := &captureSink{}
	probe := &fakeProbe{
		ask: func(_ context.Context, exchange, ticker string) (float64, error) {
			if exchange != "binance" || ticker != "BTCUSDT" {
				t.Errorf("BestAsk(%s, %s), want binance leg", exchange, ticker)
			}
			return 100.00, nil
		},
		bid: func(_ context.Context, exchange, ticker string) (float64, error) {
			if exchange != "bybit" || ticker != "BTCUSDT" {
				t.Errorf("BestBid(%s, %s), want bybit leg", exchange, ticker)
			}
			return 101.40, nil
		},
	}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, probe, sink, nil, discardLogger())

	m.OnSpread(context.Background(), "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))
	m.Drain()

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if math.Abs(recs[0].RecheckedPercent-1.4) > 1e-9 {
		t.Errorf("RecheckedPercent = %v, want 1.4", recs[0].RecheckedPercent)
	}
	if math.Abs(recs[0].SpreadPercent-1.5) > 1e-9 {
		t.Errorf("SpreadPercent = %v, want the originating 1.5", recs[0].SpreadPercent)
	}
}

func TestWindowManagerProbeRejects(t *testing.T) {
	tests := []struct {
		name string
		ask  func(ctx context.Context, exchange, ticker string) (float64, error)
		bid  func(ctx context.Context, exchange, ticker string) (float64, error)
	}{
		{
			"rechecked spread below threshold",
			func(context.Context, string, string) (float64, error) { return 100.00, nil },
			func(context.Context, string, string) (float64, error) { return 100.50, nil },
		},
		{
			"ask leg fails",
			func(context.Context, string, string) (float64, error) {
				return 0, domain.ErrUnavailable
			},
			func(context.Context, string, string) (float64, error) { return 101.40, nil },
		},
		{
			"bid leg fails",
			func(context.Context, string, string) (float64, error) { return 100.00, nil },
			func(context.Context, string, string) (float64, error) {
				return 0, errors.New("empty book")
			},
		},
		{
			"zero price with nil error is unusable",
			func(context.Context, string, string) (float64, error) { return 0, nil },
			func(context.Context, string, string) (float64, error) { return 101.40, nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &captureSink{}
			probe := &fakeProbe{ask: tt.ask, bid: tt.bid}
			m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, probe, sink, nil, discardLogger())

			m.OnSpread(context.Background(), "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))
			m.Drain()

			if got := len(sink.records()); got != 0 {
				t.Errorf("records = %d, want 0 (fail closed)", got)
			}
			if m.LiveWindows() != 0 {
				t.Errorf("LiveWindows = %d, want 0 (rejection returns to idle)", m.LiveWindows())
			}
		})
	}
}

func TestWindowManagerProbeTimeout(t *testing.T) {
	sink := &captureSink{}
	probe := &fakeProbe{
		ask: func(ctx context.Context, _, _ string) (float64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		bid: func(context.Context, string, string) (float64, error) { return 101.40, nil },
	}
	m := NewWindowManager(WindowConfig{
		ThresholdPercent: 1.0,
		ProbeTimeout:     20 * time.Millisecond,
	}, probe, sink, nil, discardLogger())

	m.OnSpread(context.Background(), "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))
	m.Drain()

	if got := len(sink.records()); got != 0 {
		t.Errorf("records = %d, want 0 on probe timeout", got)
	}
}

func TestWindowManagerDropsSpreadsWhileConfirming(t *testing.T) {
	release := make(chan struct{})
	var probeCalls int
	var mu sync.Mutex

	sink := &captureSink{}
	probe := &fakeProbe{
		ask: func(context.Context, string, string) (float64, error) {
			mu.Lock()
			probeCalls++
			mu.Unlock()
			<-release
			return 100.00, nil
		},
		bid: func(context.Context, string, string) (float64, error) {
			<-release
			return 101.40, nil
		},
	}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, probe, sink, nil, discardLogger())

	ctx := context.Background()
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))

	// Further qualifying spreads while the probe is in flight are dropped.
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 102.00))
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 103.00))

	if m.LiveWindows() != 1 {
		t.Errorf("LiveWindows = %d, want 1", m.LiveWindows())
	}

	close(release)
	m.Drain()

	mu.Lock()
	calls := probeCalls
	mu.Unlock()
	if calls != 1 {
		t.Errorf("probe ask calls = %d, want 1 (no queued re-probes)", calls)
	}
	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if math.Abs(recs[0].SpreadPercent-1.5) > 1e-9 {
		t.Errorf("SpreadPercent = %v, want the opening 1.5, not a later spread", recs[0].SpreadPercent)
	}
}

func TestWindowManagerCollapseDiscardsProbeResult(t *testing.T) {
	release := make(chan struct{})
	sink := &captureSink{}
	probe := &fakeProbe{
		ask: func(context.Context, string, string) (float64, error) {
			<-release
			return 100.00, nil
		},
		bid: func(context.Context, string, string) (float64, error) {
			<-release
			return 101.40, nil
		},
	}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, probe, sink, nil, discardLogger())

	ctx := context.Background()
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))

	// Spread collapses below threshold while the probe is in flight.
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 100.20))

	close(release)
	m.Drain()

	if got := len(sink.records()); got != 0 {
		t.Errorf("records = %d, want 0 (collapsed window emits nothing)", got)
	}
	if m.LiveWindows() != 0 {
		t.Errorf("LiveWindows = %d, want 0", m.LiveWindows())
	}
}

func TestWindowManagerAtMostOneWindowUnderConcurrency(t *testing.T) {
	release := make(chan struct{})
	sink := &captureSink{}
	probe := &fakeProbe{
		ask: func(context.Context, string, string) (float64, error) {
			<-release
			return 100.00, nil
		},
		bid: func(context.Context, string, string) (float64, error) {
			<-release
			return 101.40, nil
		},
	}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, probe, sink, nil, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnSpread(context.Background(), "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))
		}()
	}
	wg.Wait()

	if m.LiveWindows() != 1 {
		t.Errorf("LiveWindows = %d, want 1", m.LiveWindows())
	}

	close(release)
	m.Drain()

	if got := len(sink.records()); got != 1 {
		t.Errorf("records = %d, want exactly 1", got)
	}
}

func TestWindowManagerIndependentTickers(t *testing.T) {
	sink := &captureSink{}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, nil, sink, nil, discardLogger())

	ctx := context.Background()
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))
	m.OnSpread(ctx, "ETHUSDT", evalOf("okx", 3000.00, "gate", 3060.00))

	recs := sink.records()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (one per ticker)", len(recs))
	}
	if recs[0].ID == recs[1].ID {
		t.Error("record IDs must be unique")
	}
}

type ctxCaptureSink struct {
	mu      sync.Mutex
	recs    []domain.OpportunityRecord
	ctxErrs []error
}

func (s *ctxCaptureSink) Save(ctx context.Context, rec domain.OpportunityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func TestWindowManagerSaveOutlivesFeedContext(t *testing.T) {
	sink := &ctxCaptureSink{}
	release := make(chan struct{})
	probe := &fakeProbe{
		ask: func(ctx context.Context, _, _ string) (float64, error) {
			<-release
			return 100.00, nil
		},
		bid: func(context.Context, string, string) (float64, error) { return 101.40, nil },
	}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0, ProbeTimeout: time.Second}, probe, sink, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))

	// Shutdown arrives while the confirmation is still in flight.
	cancel()
	close(release)
	m.Drain()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(sink.recs))
	}
	if err := sink.ctxErrs[0]; err != nil {
		t.Errorf("Save context error = %v, want nil after feed shutdown", err)
	}
	if got := sink.recs[0].RecheckedPercent; math.Abs(got-1.4) > 1e-9 {
		t.Errorf("RecheckedPercent = %v, want 1.4", got)
	}
}

type recordingMetrics struct {
	mu        sync.Mutex
	spreads   []float64
	opened    int
	confirmed int
	rejected  int
	probes    int
}

func (m *recordingMetrics) SpreadObserved(_ string, percent float64) {
	m.mu.Lock()
	m.spreads = append(m.spreads, percent)
	m.mu.Unlock()
}

func (m *recordingMetrics) WindowOpened(string) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
}

func (m *recordingMetrics) WindowConfirmed(string) {
	m.mu.Lock()
	m.confirmed++
	m.mu.Unlock()
}

func (m *recordingMetrics) WindowRejected(string) {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

func (m *recordingMetrics) ProbeDuration(float64) {
	m.mu.Lock()
	m.probes++
	m.mu.Unlock()
}

func TestWindowManagerRecordsMetrics(t *testing.T) {
	sink := &captureSink{}
	metrics := &recordingMetrics{}
	m := NewWindowManager(WindowConfig{ThresholdPercent: 1.0}, nil, sink, metrics, discardLogger())

	ctx := context.Background()
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 101.50))
	// Below threshold: the spread gauge still updates, no window opens.
	m.OnSpread(ctx, "BTCUSDT", evalOf("binance", 100.00, "bybit", 100.50))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if want := []float64{1.5, 0.5}; len(metrics.spreads) != 2 ||
		math.Abs(metrics.spreads[0]-want[0]) > 1e-9 ||
		math.Abs(metrics.spreads[1]-want[1]) > 1e-9 {
		t.Errorf("spreads = %v, want %v", metrics.spreads, want)
	}
	if metrics.opened != 1 || metrics.confirmed != 1 || metrics.rejected != 0 {
		t.Errorf("lifecycle = %d opened / %d confirmed / %d rejected, want 1/1/0",
			metrics.opened, metrics.confirmed, metrics.rejected)
	}
}
