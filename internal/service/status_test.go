package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"spreadwatch/internal/domain"
)

func cachedObs(exchange string, price float64) domain.PriceObservation {
	return domain.PriceObservation{
		Ticker:     "BTCUSDT",
		Exchange:   exchange,
		Price:      price,
		ObservedAt: time.Now(),
	}
}

func TestWidestSpread(t *testing.T) {
	tests := []struct {
		name       string
		prices     map[string]domain.PriceObservation
		wantLo     string
		wantHi     string
		wantSpread float64
		wantOK     bool
	}{
		{
			name: "two venues",
			prices: map[string]domain.PriceObservation{
				"binance": cachedObs("binance", 100.00),
				"bybit":   cachedObs("bybit", 101.50),
			},
			wantLo: "binance", wantHi: "bybit", wantSpread: 1.5, wantOK: true,
		},
		{
			name: "three venues picks global extremes",
			prices: map[string]domain.PriceObservation{
				"binance": cachedObs("binance", 100.50),
				"okx":     cachedObs("okx", 100.00),
				"gate":    cachedObs("gate", 102.00),
			},
			wantLo: "okx", wantHi: "gate", wantSpread: 2.0, wantOK: true,
		},
		{
			name:   "one venue is not a spread",
			prices: map[string]domain.PriceObservation{"binance": cachedObs("binance", 100.00)},
			wantOK: false,
		},
		{
			name:   "empty",
			prices: nil,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, spread, ok := widestSpread(tt.prices)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if lo.Exchange != tt.wantLo || hi.Exchange != tt.wantHi {
				t.Errorf("extremes = %s/%s, want %s/%s", lo.Exchange, hi.Exchange, tt.wantLo, tt.wantHi)
			}
			if math.Abs(spread-tt.wantSpread) > 1e-9 {
				t.Errorf("spread = %v, want %v", spread, tt.wantSpread)
			}
		})
	}
}

func TestStatusLoggerSnapshot(t *testing.T) {
	cache := &fakeCache{snapshot: map[string]domain.PriceObservation{
		"binance": cachedObs("binance", 100.00),
		"bybit":   cachedObs("bybit", 101.50),
	}}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewStatusLogger(cache, []string{"btc-usdt"}, []string{"Binance", "Bybit"}, 0, logger)

	s.logOnce(context.Background())

	out := buf.String()
	for _, want := range []string{
		"price snapshot",
		"ticker=BTCUSDT",
		"venues=2",
		"lowest=binance",
		"highest=bybit",
		"spread_percent=1.5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusLoggerCacheFailureIsQuiet(t *testing.T) {
	cache := &fakeCache{fail: true}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := NewStatusLogger(cache, []string{"BTCUSDT"}, []string{"binance", "bybit"}, 0, logger)

	s.logOnce(context.Background())

	if out := buf.String(); strings.Contains(out, "price snapshot failed") {
		t.Errorf("cache failure should log below info:\n%s", out)
	}
}

func TestStatusLoggerRunStopsOnCancel(t *testing.T) {
	cache := &fakeCache{
		snapshot: map[string]domain.PriceObservation{"binance": cachedObs("binance", 100.00)},
		polled:   make(chan struct{}, 1),
	}
	s := NewStatusLogger(cache, []string{"BTCUSDT"}, []string{"binance", "bybit"}, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-cache.polled:
	case <-time.After(2 * time.Second):
		t.Fatal("status loop never polled the cache")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
