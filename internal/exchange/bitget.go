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

// Bitget streams USDT-margined perpetual (UMCBL) tickers over the mix v1
// channel.
type Bitget struct {
	httpClient *http.Client
}

// NewBitget creates the Bitget adapter.
func NewBitget() *Bitget {
	return &Bitget{httpClient: defaultHTTPClient}
}

func (b *Bitget) Name() string { return "bitget" }

// FormatTicker maps BTCUSDT to BTCUSDT_UMCBL.
func (b *Bitget) FormatTicker(ticker string) string {
	return domain.CanonicalTicker(ticker) + "_UMCBL"
}

func (b *Bitget) WSURL() string { return "wss://ws.bitget.com/mix/v1/stream" }

func (b *Bitget) SubscribeMessage(ticker string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"op": "subscribe",
		"args": []map[string]string{{
			"instType": "UMCBL",
			"channel":  "ticker",
			"instId":   b.FormatTicker(ticker),
		}},
	})
}

type bitgetTicker struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		Last string `json:"last"`
		TS   int64  `json:"ts"`
	} `json:"data"`
}

// Parse normalizes a ticker-channel push.
func (b *Bitget) Parse(raw []byte, receivedAt time.Time) (domain.PriceObservation, bool) {
	var msg bitgetTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceObservation{}, false
	}
	if msg.Arg.Channel != "ticker" || len(msg.Data) == 0 {
		return domain.PriceObservation{}, false
	}
	price, err := strconv.ParseFloat(msg.Data[0].Last, 64)
	if err != nil || price <= 0 {
		return domain.PriceObservation{}, false
	}

	observedAt := receivedAt
	if msg.Data[0].TS > 0 {
		observedAt = time.UnixMilli(msg.Data[0].TS)
	}
	symbol := strings.TrimSuffix(msg.Arg.InstID, "_UMCBL")
	return domain.PriceObservation{
		Ticker:      domain.CanonicalTicker(symbol),
		Exchange:    b.Name(),
		Price:       price,
		ObservedAt:  observedAt,
		FeedLatency: feedLatency(observedAt, receivedAt),
	}, true
}

type bitgetDepth struct {
	Data struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"data"`
}

func (b *Bitget) depth(ctx context.Context, ticker string) (bitgetDepth, error) {
	url := fmt.Sprintf("https://api.bitget.com/api/mix/v1/market/depth?symbol=%s&limit=5",
		b.FormatTicker(ticker))
	var d bitgetDepth
	if err := getJSON(ctx, b.httpClient, url, &d); err != nil {
		return bitgetDepth{}, err
	}
	return d, nil
}

// BestBid returns the highest resting bid.
func (b *Bitget) BestBid(ctx context.Context, ticker string) (float64, error) {
	d, err := b.depth(ctx, ticker)
	if err != nil {
		return 0, err
	}
	price, ok := firstLevel(d.Data.Bids)
	if !ok {
		return 0, fmt.Errorf("bitget: empty bid book: %w", domain.ErrUnavailable)
	}
	return price, nil
}

// BestAsk returns the lowest resting ask.
func (b *Bitget) BestAsk(ctx context.Context, ticker string) (float64, error) {
	d, err := b.depth(ctx, ticker)
	if err != nil {
		return 0, err
	}
	price, ok := firstLevel(d.Data.Asks)
	if !ok {
		return 0, fmt.Errorf("bitget: empty ask book: %w", domain.ErrUnavailable)
	}
	return price, nil
}
