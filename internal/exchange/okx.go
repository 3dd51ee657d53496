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

// OKX streams perpetual swap tickers. Swap instruments are named
// BASE-QUOTE-SWAP, e.g. BTC-USDT-SWAP.
type OKX struct {
	httpClient *http.Client
}

// NewOKX creates the OKX adapter.
func NewOKX() *OKX {
	return &OKX{httpClient: defaultHTTPClient}
}

func (o *OKX) Name() string { return "okx" }

// FormatTicker maps BTCUSDT to BTC-USDT-SWAP.
func (o *OKX) FormatTicker(ticker string) string {
	t := domain.CanonicalTicker(ticker)
	if strings.HasSuffix(t, "USDT") {
		return strings.TrimSuffix(t, "USDT") + "-USDT-SWAP"
	}
	return t
}

func (o *OKX) WSURL() string { return "wss://ws.okx.com:8443/ws/v5/public" }

func (o *OKX) SubscribeMessage(ticker string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"op": "subscribe",
		"args": []map[string]string{{
			"channel": "tickers",
			"instId":  o.FormatTicker(ticker),
		}},
	})
}

type okxTicker struct {
	Arg struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		TS     string `json:"ts"`
	} `json:"data"`
}

// Parse normalizes a tickers-channel push. The instrument suffix ("-SWAP")
// and separators collapse into the canonical symbol.
func (o *OKX) Parse(raw []byte, receivedAt time.Time) (domain.PriceObservation, bool) {
	var msg okxTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceObservation{}, false
	}
	if msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return domain.PriceObservation{}, false
	}
	item := msg.Data[0]
	price, err := strconv.ParseFloat(item.Last, 64)
	if err != nil || price <= 0 {
		return domain.PriceObservation{}, false
	}

	observedAt := receivedAt
	if ms, err := strconv.ParseInt(item.TS, 10, 64); err == nil && ms > 0 {
		observedAt = time.UnixMilli(ms)
	}
	symbol := strings.TrimSuffix(domain.CanonicalTicker(item.InstID), "SWAP")
	return domain.PriceObservation{
		Ticker:      symbol,
		Exchange:    o.Name(),
		Price:       price,
		ObservedAt:  observedAt,
		FeedLatency: feedLatency(observedAt, receivedAt),
	}, true
}

type okxBooks struct {
	Data []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"data"`
}

func (o *OKX) books(ctx context.Context, ticker string) (okxBooks, error) {
	url := fmt.Sprintf("https://www.okx.com/api/v5/market/books?instId=%s&sz=5",
		o.FormatTicker(ticker))
	var b okxBooks
	if err := getJSON(ctx, o.httpClient, url, &b); err != nil {
		return okxBooks{}, err
	}
	return b, nil
}

// BestBid returns the highest resting bid.
func (o *OKX) BestBid(ctx context.Context, ticker string) (float64, error) {
	b, err := o.books(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(b.Data) == 0 {
		return 0, fmt.Errorf("okx: empty book: %w", domain.ErrUnavailable)
	}
	price, ok := firstLevel(b.Data[0].Bids)
	if !ok {
		return 0, fmt.Errorf("okx: empty bid book: %w", domain.ErrUnavailable)
	}
	return price, nil
}

// BestAsk returns the lowest resting ask.
func (o *OKX) BestAsk(ctx context.Context, ticker string) (float64, error) {
	b, err := o.books(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(b.Data) == 0 {
		return 0, fmt.Errorf("okx: empty book: %w", domain.ErrUnavailable)
	}
	price, ok := firstLevel(b.Data[0].Asks)
	if !ok {
		return 0, fmt.Errorf("okx: empty ask book: %w", domain.ErrUnavailable)
	}
	return price, nil
}
