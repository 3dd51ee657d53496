// Package domain defines the core types and port interfaces for the
// spreadwatch detection engine. Concrete implementations (Redis caches,
// Postgres stores, exchange adapters) live in their own packages and satisfy
// the interfaces declared here.
package domain

import (
	"math"
	"strings"
	"time"
)

// PriceObservation is one exchange's view of one ticker at one instant. It is
// created by a feed adapter on each ticker message and superseded, never
// merged, by the next observation from the same exchange for the same ticker.
type PriceObservation struct {
	Ticker      string        // canonical symbol, see CanonicalTicker
	Exchange    string        // reporting venue, e.g. "binance"
	Price       float64       // last traded price, finite and > 0
	ObservedAt  time.Time     // venue event time, or receipt time if absent
	FeedLatency time.Duration // receipt minus venue event time; quality signal only
}

// Valid reports whether the observation may enter the aggregate. Observations
// with a non-finite or non-positive price are dropped silently at the
// ingestion boundary.
func (o PriceObservation) Valid() bool {
	if o.Ticker == "" || o.Exchange == "" {
		return false
	}
	if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0 {
		return false
	}
	return true
}

// Age returns how old the observation is relative to now.
func (o PriceObservation) Age(now time.Time) time.Duration {
	return now.Sub(o.ObservedAt)
}

// tickerSeparators are the separator characters venues put between base and
// quote. They carry no identity and are stripped by CanonicalTicker.
const tickerSeparators = "-/_"

// CanonicalTicker collapses exchange-specific symbol formats into the single
// aggregation key: upper-case base+quote with no separator. "BTC-USDT",
// "btc/usdt" and "BTCUSDT" all map to "BTCUSDT".
func CanonicalTicker(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !strings.ContainsAny(s, tickerSeparators) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(tickerSeparators, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
