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

// Binance streams USDT-margined futures tickers and queries the futures
// depth endpoint for confirmation.
type Binance struct {
	httpClient *http.Client
}

// NewBinance creates the Binance adapter.
func NewBinance() *Binance {
	return &Binance{httpClient: defaultHTTPClient}
}

func (b *Binance) Name() string { return "binance" }

// FormatTicker lower-cases the canonical symbol; Binance stream names are
// lowercase.
func (b *Binance) FormatTicker(ticker string) string {
	return strings.ToLower(domain.CanonicalTicker(ticker))
}

func (b *Binance) WSURL() string { return "wss://fstream.binance.com/ws" }

// SubscribeMessage subscribes to the 24h ticker stream for one symbol.
func (b *Binance) SubscribeMessage(ticker string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{b.FormatTicker(ticker) + "@ticker"},
		"id":     time.Now().UnixMilli(),
	})
}

type binanceTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// Parse normalizes a 24hrTicker event.
func (b *Binance) Parse(raw []byte, receivedAt time.Time) (domain.PriceObservation, bool) {
	var msg binanceTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceObservation{}, false
	}
	if msg.EventType != "24hrTicker" || msg.Symbol == "" {
		return domain.PriceObservation{}, false
	}
	price, err := strconv.ParseFloat(msg.LastPrice, 64)
	if err != nil || price <= 0 {
		return domain.PriceObservation{}, false
	}

	observedAt := receivedAt
	if msg.EventTime > 0 {
		observedAt = time.UnixMilli(msg.EventTime)
	}
	return domain.PriceObservation{
		Ticker:      domain.CanonicalTicker(msg.Symbol),
		Exchange:    b.Name(),
		Price:       price,
		ObservedAt:  observedAt,
		FeedLatency: feedLatency(observedAt, receivedAt),
	}, true
}

type binanceDepth struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func (b *Binance) depth(ctx context.Context, ticker string) (binanceDepth, error) {
	url := fmt.Sprintf("https://fapi.binance.com/fapi/v1/depth?symbol=%s&limit=5",
		strings.ToUpper(b.FormatTicker(ticker)))
	var d binanceDepth
	if err := getJSON(ctx, b.httpClient, url, &d); err != nil {
		return binanceDepth{}, err
	}
	return d, nil
}

// BestBid returns the highest resting bid.
func (b *Binance) BestBid(ctx context.Context, ticker string) (float64, error) {
	d, err := b.depth(ctx, ticker)
	if err != nil {
		return 0, err
	}
	price, ok := firstLevel(d.Bids)
	if !ok {
		return 0, fmt.Errorf("binance: empty bid book: %w", domain.ErrUnavailable)
	}
	return price, nil
}

// BestAsk returns the lowest resting ask.
func (b *Binance) BestAsk(ctx context.Context, ticker string) (float64, error) {
	d, err := b.depth(ctx, ticker)
	if err != nil {
		return 0, err
	}
	price, ok := firstLevel(d.Asks)
	if !ok {
		return 0, fmt.Errorf("binance: empty ask book: %w", domain.ErrUnavailable)
	}
	return price, nil
}
