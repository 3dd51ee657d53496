// Package exchange contains the per-venue feed adapters: websocket
// subscription and message normalization for the streaming side, and REST
// order-book depth queries for the confirmation side. Each venue implements
// the same narrow Adapter contract independently.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spreadwatch/internal/domain"
)

// Adapter is the contract every venue implements. Parse must guarantee a
// finite positive price before emitting an observation; anything else is "not
// a ticker message". BestBid/BestAsk report an empty or missing book as an
// error wrapping domain.ErrUnavailable, never as a zero price.
type Adapter interface {
	Name() string
	// FormatTicker converts a canonical symbol into the venue's format.
	FormatTicker(ticker string) string
	WSURL() string
	// SubscribeMessage builds the subscription payload for one ticker.
	SubscribeMessage(ticker string) ([]byte, error)
	// Parse normalizes a raw feed message. ok is false for keepalives,
	// subscription acks, and anything else that is not a ticker update.
	Parse(raw []byte, receivedAt time.Time) (obs domain.PriceObservation, ok bool)
	BestBid(ctx context.Context, ticker string) (float64, error)
	BestAsk(ctx context.Context, ticker string) (float64, error)
}

// defaultHTTPClient is shared by all adapters' REST depth queries.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// Registry maps venue names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry for the named venues. Unknown names yield an
// error so misconfiguration surfaces at startup, not at probe time.
func NewRegistry(names []string) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(names))}
	for _, name := range names {
		var a Adapter
		switch strings.ToLower(name) {
		case "binance":
			a = NewBinance()
		case "bybit":
			a = NewBybit()
		case "okx":
			a = NewOKX()
		case "gate":
			a = NewGate()
		case "mexc":
			a = NewMEXC()
		case "bitget":
			a = NewBitget()
		default:
			return nil, fmt.Errorf("exchange: %w: %q", domain.ErrUnknownExchange, name)
		}
		r.adapters[a.Name()] = a
	}
	return r, nil
}

// Get returns the adapter for a venue name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("exchange: %w: %q", domain.ErrUnknownExchange, name)
	}
	return a, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// Probe implements domain.ConfirmationProbe by resolving each leg's venue
// through the registry and issuing its REST depth query.
type Probe struct {
	registry *Registry
}

// NewProbe creates a Probe over the given registry.
func NewProbe(registry *Registry) *Probe {
	return &Probe{registry: registry}
}

// BestAsk fetches the lowest resting ask on the given exchange.
func (p *Probe) BestAsk(ctx context.Context, exchange, ticker string) (float64, error) {
	a, err := p.registry.Get(exchange)
	if err != nil {
		return 0, err
	}
	return a.BestAsk(ctx, ticker)
}

// BestBid fetches the highest resting bid on the given exchange.
func (p *Probe) BestBid(ctx context.Context, exchange, ticker string) (float64, error) {
	a, err := p.registry.Get(exchange)
	if err != nil {
		return 0, err
	}
	return a.BestBid(ctx, ticker)
}

// Compile-time interface check.
var _ domain.ConfirmationProbe = (*Probe)(nil)

// getJSON issues a GET request and decodes the JSON response body into dst.
func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("exchange: create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("exchange: get %s: status %d: %s", url, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("exchange: decode %s: %w", url, err)
	}
	return nil
}

// firstLevel extracts the price of the first [price, qty] level.
func firstLevel(levels [][]string) (float64, bool) {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return 0, false
	}
	price, err := strconv.ParseFloat(levels[0][0], 64)
	if err != nil {
		return 0, false
	}
	return price, price > 0
}

// feedLatency derives the receipt delay from the venue event time, clamped at
// zero so a skewed venue clock cannot produce a negative latency.
func feedLatency(observedAt, receivedAt time.Time) time.Duration {
	if observedAt.IsZero() || receivedAt.Before(observedAt) {
		return 0
	}
	return receivedAt.Sub(observedAt)
}
