// Package engine implements the cross-exchange price aggregation and
// arbitrage-window decision core: the Aggregator merges asynchronous
// per-exchange observations, Evaluate computes the instantaneous spread, and
// the WindowManager owns the per-ticker window lifecycle.
package engine

import (
	"sync"
	"time"

	"spreadwatch/internal/domain"
)

// Aggregator holds, per ticker, the most recent valid observation from each
// exchange. Observations older than staleAfter are pruned lazily on read so
// that a dead feed cannot freeze a price into the spread computation.
//
// Synchronization is scoped per ticker: each ticker owns its own slot with
// its own mutex, and the top-level index is only locked to look up or insert
// a slot. Updates for unrelated tickers never serialize on each other.
type Aggregator struct {
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	slots map[string]*tickerSlot
}

type tickerSlot struct {
	mu         sync.Mutex
	byExchange map[string]domain.PriceObservation
}

// NewAggregator creates an Aggregator with the given staleness bound.
func NewAggregator(staleAfter time.Duration) *Aggregator {
	return &Aggregator{
		staleAfter: staleAfter,
		now:        time.Now,
		slots:      make(map[string]*tickerSlot),
	}
}

// Update records the observation as the latest for its (ticker, exchange)
// pair, replacing any previous entry, and returns the current live set for
// the ticker. Invalid observations are rejected as a silent no-op and nil is
// returned.
func (a *Aggregator) Update(obs domain.PriceObservation) []domain.PriceObservation {
	if !obs.Valid() {
		return nil
	}

	slot := a.slot(obs.Ticker)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	slot.byExchange[obs.Exchange] = obs
	return slot.live(a.now(), a.staleAfter)
}

// CurrentSet returns all live (non-stale) observations for the ticker.
func (a *Aggregator) CurrentSet(ticker string) []domain.PriceObservation {
	a.mu.RLock()
	slot, ok := a.slots[ticker]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.live(a.now(), a.staleAfter)
}

// slot returns the ticker's slot, creating it if missing.
func (a *Aggregator) slot(ticker string) *tickerSlot {
	a.mu.RLock()
	slot, ok := a.slots[ticker]
	a.mu.RUnlock()
	if ok {
		return slot
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if slot, ok = a.slots[ticker]; ok {
		return slot
	}
	slot = &tickerSlot{byExchange: make(map[string]domain.PriceObservation)}
	a.slots[ticker] = slot
	return slot
}

// live prunes stale entries and returns the remaining observations. Caller
// must hold the slot mutex.
func (s *tickerSlot) live(now time.Time, staleAfter time.Duration) []domain.PriceObservation {
	out := make([]domain.PriceObservation, 0, len(s.byExchange))
	for exchange, obs := range s.byExchange {
		if obs.Age(now) > staleAfter {
			delete(s.byExchange, exchange)
			continue
		}
		out = append(out, obs)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
