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

// Gate streams USDT perpetual futures tickers. Contracts are named
// BASE_QUOTE, e.g. BTC_USDT.
type Gate struct {
	httpClient *http.Client
}

// NewGate creates the Gate adapter.
func NewGate() *Gate {
	return &Gate{httpClient: defaultHTTPClient}
}

func (g *Gate) Name() string { return "gate" }

// FormatTicker maps BTCUSDT to BTC_USDT.
func (g *Gate) FormatTicker(ticker string) string {
	t := domain.CanonicalTicker(ticker)
	if strings.HasSuffix(t, "USDT") {
		return strings.TrimSuffix(t, "USDT") + "_USDT"
	}
	return t
}

func (g *Gate) WSURL() string { return "wss://fx-ws.gateio.ws/v4/ws/usdt" }

func (g *Gate) SubscribeMessage(ticker string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"time":    time.Now().Unix(),
		"channel": "futures.tickers",
		"event":   "subscribe",
		"payload": []string{g.FormatTicker(ticker)},
	})
}

type gateTicker struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	TimeMs  int64  `json:"time_ms"`
	Result  []struct {
		Contract string `json:"contract"`
		Last     string `json:"last"`
	} `json:"result"`
}

// Parse normalizes a futures.tickers update. Subscription acks carry
// event "subscribe" and are skipped.
func (g *Gate) Parse(raw []byte, receivedAt time.Time) (domain.PriceObservation, bool) {
	var msg gateTicker
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceObservation{}, false
	}
	if msg.Channel != "futures.tickers" || msg.Event != "update" || len(msg.Result) == 0 {
		return domain.PriceObservation{}, false
	}
	item := msg.Result[0]
	price, err := strconv.ParseFloat(item.Last, 64)
	if err != nil || price <= 0 {
		return domain.PriceObservation{}, false
	}

	observedAt := receivedAt
	if msg.TimeMs > 0 {
		observedAt = time.UnixMilli(msg.TimeMs)
	}
	return domain.PriceObservation{
		Ticker:      domain.CanonicalTicker(item.Contract),
		Exchange:    g.Name(),
		Price:       price,
		ObservedAt:  observedAt,
		FeedLatency: feedLatency(observedAt, receivedAt),
	}, true
}

type gateOrderbook struct {
	Bids []struct {
		Price string  `json:"p"`
		Size  float64 `json:"s"`
	} `json:"bids"`
	Asks []struct {
		Price string  `json:"p"`
		Size  float64 `json:"s"`
	} `json:"asks"`
}

func (g *Gate) orderbook(ctx context.Context, ticker string) (gateOrderbook, error) {
	url := fmt.Sprintf("https://api.gateio.ws/api/v4/futures/usdt/order_book?contract=%s&limit=5",
		g.FormatTicker(ticker))
	var ob gateOrderbook
	if err := getJSON(ctx, g.httpClient, url, &ob); err != nil {
		return gateOrderbook{}, err
	}
	return ob, nil
}

// BestBid returns the highest resting bid.
func (g *Gate) BestBid(ctx context.Context, ticker string) (float64, error) {
	ob, err := g.orderbook(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(ob.Bids) == 0 {
		return 0, fmt.Errorf("gate: empty bid book: %w", domain.ErrUnavailable)
	}
	price, err := strconv.ParseFloat(ob.Bids[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("gate: bad bid price: %w", domain.ErrUnavailable)
	}
	return price, nil
}

// BestAsk returns the lowest resting ask.
func (g *Gate) BestAsk(ctx context.Context, ticker string) (float64, error) {
	ob, err := g.orderbook(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if len(ob.Asks) == 0 {
		return 0, fmt.Errorf("gate: empty ask book: %w", domain.ErrUnavailable)
	}
	price, err := strconv.ParseFloat(ob.Asks[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("gate: bad ask price: %w", domain.ErrUnavailable)
	}
	return price, nil
}
