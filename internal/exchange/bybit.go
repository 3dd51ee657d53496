package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spreadwatch/internal/domain"
)

// Bybit streams linear (USDT perpetual) tickers over the v5 public channel.
type Bybit struct {
	httpClient *http.Client
}

// NewBybit creates the Bybit adapter.
func NewBybit() *Bybit {
	return &Bybit{httpClient: defaultHTTPClient}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) FormatTicker(ticker string) string {
	return domain.CanonicalTicker(ticker)
}

func (b *Bybit) WSURL() string { return "wss://stream.bybit.com/v5/public/linear" }

func (b *Bybit) SubscribeMessage(ticker string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": []string{"tickers." + b.FormatTicker(ticker)},
	})
}

type bybitTicker struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

// Parse normalizes a tickers.* push. Bybit snapshots and deltas both carry
// symbol and lastPrice; deltas without a price change omit lastPrice and are
// skipped.
func (b *Bybit) Parse(raw []byte, receivedAt time.Time) (domain.PriceObservation, bool) {
	var msg bybitTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceObservation{}, false
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || msg.Data.Symbol == "" {
		return domain.PriceObservation{}, false
	}
	price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return domain.PriceObservation{}, false
	}

	observedAt := receivedAt
	if msg.TS > 0 {
		observedAt = time.UnixMilli(msg.TS)
	}
	return domain.PriceObservation{
		Ticker:      domain.CanonicalTicker(msg.Data.Symbol),
		Exchange:    b.Name(),
		Price:       price,
		ObservedAt:  observedAt,
		FeedLatency: feedLatency(observedAt, receivedAt),
	}, true
}

type bybitOrderbook struct {
	Result struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	} `json:"result"`
}

func (b *Bybit) orderbook(ctx context.Context, ticker string) (bybitOrderbook, error) {
	url := fmt.Sprintf("https://api.bybit.com/v5/market/orderbook?category=linear&symbol=%s&limit=5",
		b.FormatTicker(ticker))
	var ob bybitOrderbook
	if err := getJSON(ctx, b.httpClient, url, &ob); err != nil {
		return bybitOrderbook{}, err
	}
	return ob, nil
}

// BestBid returns the highest resting bid.
func (b *Bybit) BestBid(ctx context.Context, ticker string) (float64, error) {
	ob, err := b.orderbook(ctx, ticker)
	if err != nil {
		return 0, err
	}
	price, ok := firstLevel(ob.Result.Bids)
	if !ok {
		return 0, fmt.Errorf("bybit: empty bid book: %w", domain.ErrUnavailable)
	}
	return price, nil
}

// BestAsk returns the lowest resting ask.
func (b *Bybit) BestAsk(ctx context.Context, ticker string) (float64, error) {
	ob, err := b.orderbook(ctx, ticker)
	if err != nil {
		return 0, err
	}
	price, ok := firstLevel(ob.Result.Asks)
	if !ok {
		return 0, fmt.Errorf("bybit: empty ask book: %w", domain.ErrUnavailable)
	}
	return price, nil
}
