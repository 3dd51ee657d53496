package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"spreadwatch/internal/domain"
)

// MEXC streams contract (futures) tickers. Contracts are named BASE_QUOTE.
// The contract API reports prices as JSON numbers, unlike the other venues.
type MEXC struct {
	httpClient *http.Client
}

// NewMEXC creates the MEXC adapter.
func NewMEXC() *MEXC {
	return &MEXC{httpClient: defaultHTTPClient}
}

func (m *MEXC) Name() string { return "mexc" }

// FormatTicker maps BTCUSDT to BTC_USDT.
func (m *MEXC) FormatTicker(ticker string) string {
	t := domain.CanonicalTicker(ticker)
	if strings.HasSuffix(t, "USDT") {
		return strings.TrimSuffix(t, "USDT") + "_USDT"
	}
	return t
}

func (m *MEXC) WSURL() string { return "wss://contract.mexc.com/edge" }

func (m *MEXC) SubscribeMessage(ticker string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"method": "sub.ticker",
		"param":  map[string]string{"symbol": m.FormatTicker(ticker)},
	})
}

type mexcTicker struct {
	Channel string `json:"channel"`
	TS      int64  `json:"ts"`
	Data    struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice"`
		Timestamp int64   `json:"timestamp"`
	} `json:"data"`
}

// Parse normalizes a push.ticker message.
func (m *MEXC) Parse(raw []byte, receivedAt time.Time) (domain.PriceObservation, bool) {
	var msg mexcTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceObservation{}, false
	}
	if msg.Channel != "push.ticker" || msg.Data.Symbol == "" {
		return domain.PriceObservation{}, false
	}
	if msg.Data.LastPrice <= 0 {
		return domain.PriceObservation{}, false
	}

	observedAt := receivedAt
	switch {
	case msg.Data.Timestamp > 0:
		observedAt = time.UnixMilli(msg.Data.Timestamp)
	case msg.TS > 0:
		observedAt = time.UnixMilli(msg.TS)
	}
	return domain.PriceObservation{
		Ticker:      domain.CanonicalTicker(msg.Data.Symbol),
		Exchange:    m.Name(),
		Price:       msg.Data.LastPrice,
		ObservedAt:  observedAt,
		FeedLatency: feedLatency(observedAt, receivedAt),
	}, true
}

type mexcDepth struct {
	Data struct {
		Bids [][]float64 `json:"bids"`
		Asks [][]float64 `json:"asks"`
	} `json:"data"`
}

func (m *MEXC) depth(ctx context.Context, ticker string) (mexcDepth, error) {
	url := fmt.Sprintf("https://contract.mexc.com/api/v1/contract/depth/%s?limit=5",
		m.FormatTicker(ticker))
	var d mexcDepth
	if err := getJSON(ctx, m.httpClient, url, &d); err != nil {
		return mexcDepth{}, err
	}
	return d, nil
}

// BestBid returns the highest resting bid.
func (m *MEXC) BestBid(ctx context.Context, ticker string) (float64, error) {
	d, err := m.depth(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(d.Data.Bids) == 0 || len(d.Data.Bids[0]) == 0 || d.Data.Bids[0][0] <= 0 {
		return 0, fmt.Errorf("mexc: empty bid book: %w", domain.ErrUnavailable)
	}
	return d.Data.Bids[0][0], nil
}

// BestAsk returns the lowest resting ask.
func (m *MEXC) BestAsk(ctx context.Context, ticker string) (float64, error) {
	d, err := m.depth(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(d.Data.Asks) == 0 || len(d.Data.Asks[0]) == 0 || d.Data.Asks[0][0] <= 0 {
		return 0, fmt.Errorf("mexc: empty ask book: %w", domain.ErrUnavailable)
	}
	return d.Data.Asks[0][0], nil
}
