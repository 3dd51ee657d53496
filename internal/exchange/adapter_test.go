package exchange

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"spreadwatch/internal/domain"
)

func TestNewRegistry(t *testing.T) {
	t.Run("known venues", func(t *testing.T) {
		r, err := NewRegistry([]string{"binance", "Bybit", "OKX", "gate", "mexc", "bitget"})
		if err != nil {
			t.Fatalf("NewRegistry() error = %v", err)
		}
		if got := len(r.All()); got != 6 {
			t.Errorf("len(All()) = %d, want 6", got)
		}
		if _, err := r.Get("binance"); err != nil {
			t.Errorf("Get(binance) error = %v", err)
		}
	})

	t.Run("unknown venue fails fast", func(t *testing.T) {
		_, err := NewRegistry([]string{"binance", "kraken"})
		if !errors.Is(err, domain.ErrUnknownExchange) {
			t.Errorf("error = %v, want ErrUnknownExchange", err)
		}
	})
}

func TestFormatTicker(t *testing.T) {
	tests := []struct {
		adapter Adapter
		want    string
	}{
		{NewBinance(), "btcusdt"},
		{NewBybit(), "BTCUSDT"},
		{NewOKX(), "BTC-USDT-SWAP"},
		{NewGate(), "BTC_USDT"},
		{NewMEXC(), "BTC_USDT"},
		{NewBitget(), "BTCUSDT_UMCBL"},
	}
	for _, tt := range tests {
		t.Run(tt.adapter.Name(), func(t *testing.T) {
			if got := tt.adapter.FormatTicker("btc-usdt"); got != tt.want {
				t.Errorf("FormatTicker(btc-usdt) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	receivedAt := time.Date(2026, 9, 1, 12, 0, 1, 0, time.UTC)
	eventMs := receivedAt.Add(-250 * time.Millisecond).UnixMilli()

	tests := []struct {
		name      string
		adapter   Adapter
		raw       string
		wantOK    bool
		wantPrice float64
	}{
		{
			name:      "binance ticker",
			adapter:   NewBinance(),
			raw:       `{"e":"24hrTicker","E":` + msString(eventMs) + `,"s":"BTCUSDT","c":"50123.40"}`,
			wantOK:    true,
			wantPrice: 50123.40,
		},
		{
			name:    "binance subscribe ack",
			adapter: NewBinance(),
			raw:     `{"result":null,"id":1}`,
			wantOK:  false,
		},
		{
			name:    "binance zero price",
			adapter: NewBinance(),
			raw:     `{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"0"}`,
			wantOK:  false,
		},
		{
			name:      "bybit ticker",
			adapter:   NewBybit(),
			raw:       `{"topic":"tickers.BTCUSDT","ts":` + msString(eventMs) + `,"data":{"symbol":"BTCUSDT","lastPrice":"50123.40"}}`,
			wantOK:    true,
			wantPrice: 50123.40,
		},
		{
			name:    "bybit delta without price",
			adapter: NewBybit(),
			raw:     `{"topic":"tickers.BTCUSDT","ts":1,"data":{"symbol":"BTCUSDT"}}`,
			wantOK:  false,
		},
		{
			name:      "okx ticker",
			adapter:   NewOKX(),
			raw:       `{"arg":{"channel":"tickers"},"data":[{"instId":"BTC-USDT-SWAP","last":"50123.40","ts":"` + msString(eventMs) + `"}]}`,
			wantOK:    true,
			wantPrice: 50123.40,
		},
		{
			name:    "okx subscribe ack",
			adapter: NewOKX(),
			raw:     `{"event":"subscribe","arg":{"channel":"tickers"}}`,
			wantOK:  false,
		},
		{
			name:      "gate ticker",
			adapter:   NewGate(),
			raw:       `{"channel":"futures.tickers","event":"update","time_ms":` + msString(eventMs) + `,"result":[{"contract":"BTC_USDT","last":"50123.40"}]}`,
			wantOK:    true,
			wantPrice: 50123.40,
		},
		{
			name:    "gate subscribe ack",
			adapter: NewGate(),
			raw:     `{"channel":"futures.tickers","event":"subscribe","result":{"status":"success"}}`,
			wantOK:  false,
		},
		{
			name:      "mexc ticker",
			adapter:   NewMEXC(),
			raw:       `{"channel":"push.ticker","data":{"symbol":"BTC_USDT","lastPrice":50123.40,"timestamp":` + msString(eventMs) + `}}`,
			wantOK:    true,
			wantPrice: 50123.40,
		},
		{
			name:    "mexc pong",
			adapter: NewMEXC(),
			raw:     `{"channel":"pong","data":1693526400000}`,
			wantOK:  false,
		},
		{
			name:      "bitget ticker",
			adapter:   NewBitget(),
			raw:       `{"arg":{"channel":"ticker","instId":"BTCUSDT_UMCBL"},"data":[{"last":"50123.40","ts":` + msString(eventMs) + `}]}`,
			wantOK:    true,
			wantPrice: 50123.40,
		},
		{
			name:    "bitget subscribe ack",
			adapter: NewBitget(),
			raw:     `{"event":"subscribe","arg":{"channel":"ticker","instId":"BTCUSDT_UMCBL"}}`,
			wantOK:  false,
		},
		{
			name:    "garbage payload",
			adapter: NewBinance(),
			raw:     `not json`,
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, ok := tt.adapter.Parse([]byte(tt.raw), receivedAt)
			if ok != tt.wantOK {
				t.Fatalf("Parse() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if obs.Ticker != "BTCUSDT" {
				t.Errorf("Ticker = %q, want BTCUSDT", obs.Ticker)
			}
			if obs.Exchange != tt.adapter.Name() {
				t.Errorf("Exchange = %q, want %q", obs.Exchange, tt.adapter.Name())
			}
			if obs.Price != tt.wantPrice {
				t.Errorf("Price = %v, want %v", obs.Price, tt.wantPrice)
			}
			if obs.FeedLatency != 250*time.Millisecond {
				t.Errorf("FeedLatency = %v, want 250ms", obs.FeedLatency)
			}
		})
	}
}

func TestFeedLatencyClampedAtZero(t *testing.T) {
	now := time.Now()
	if got := feedLatency(now.Add(time.Second), now); got != 0 {
		t.Errorf("feedLatency(future event) = %v, want 0", got)
	}
	if got := feedLatency(time.Time{}, now); got != 0 {
		t.Errorf("feedLatency(zero event time) = %v, want 0", got)
	}
}

func TestFirstLevel(t *testing.T) {
	tests := []struct {
		name   string
		levels [][]string
		want   float64
		wantOK bool
	}{
		{"normal", [][]string{{"50123.40", "1.5"}}, 50123.40, true},
		{"empty book", nil, 0, false},
		{"empty level", [][]string{{}}, 0, false},
		{"unparsable", [][]string{{"x", "1"}}, 0, false},
		{"zero price", [][]string{{"0", "1"}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstLevel(tt.levels)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("firstLevel() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func msString(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
