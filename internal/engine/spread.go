package engine

import "spreadwatch/internal/domain"

// Evaluation is the best-case spread across one ticker's live observation
// set: the global minimum and maximum price and their percentage distance.
type Evaluation struct {
	Lower         domain.PriceObservation
	Higher        domain.PriceObservation
	SpreadPercent float64
}

// Evaluate computes the best-case spread over a set of observations for one
// ticker. It requires at least two observations from distinct exchanges and
// returns domain.ErrInsufficientData otherwise.
//
// Lower and Higher are the global extremes of the set. When several
// exchanges share the minimum (or maximum) price the most recently observed
// quote wins, falling back to the exchange name so the result is fully
// deterministic regardless of input order. Evaluate is pure: no side
// effects, no I/O.
func Evaluate(set []domain.PriceObservation) (Evaluation, error) {
	exchanges := make(map[string]struct{}, len(set))
	for _, obs := range set {
		exchanges[obs.Exchange] = struct{}{}
	}
	if len(exchanges) < 2 {
		return Evaluation{}, domain.ErrInsufficientData
	}

	lower, higher := set[0], set[0]
	for _, obs := range set[1:] {
		if obs.Price < lower.Price || (obs.Price == lower.Price && fresher(obs, lower)) {
			lower = obs
		}
		if obs.Price > higher.Price || (obs.Price == higher.Price && fresher(obs, higher)) {
			higher = obs
		}
	}

	// Price validity excludes zero and negative prices, so the division is
	// safe.
	spread := (higher.Price - lower.Price) / lower.Price * 100

	return Evaluation{Lower: lower, Higher: higher, SpreadPercent: spread}, nil
}

// fresher reports whether a should replace b on a price tie.
func fresher(a, b domain.PriceObservation) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.Exchange < b.Exchange
}
