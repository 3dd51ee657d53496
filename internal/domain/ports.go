package domain

import (
	"context"
	"time"
)

// OpportunitySink receives finalized opportunity records, exactly once per
// confirmed window, in emission order. Sink failures must never unwind into
// the detection engine; the engine considers its job done once the record has
// been handed over.
type OpportunitySink interface {
	Save(ctx context.Context, rec OpportunityRecord) error
}

// ConfirmationProbe re-validates a detected spread against live order books.
// Both calls are independently fallible: "not found" and "empty book" are
// reported as an error wrapping ErrUnavailable, never as a panic or a zero
// price with nil error.
type ConfirmationProbe interface {
	// BestAsk returns the lowest resting ask on the given exchange.
	BestAsk(ctx context.Context, exchange, ticker string) (float64, error)
	// BestBid returns the highest resting bid on the given exchange.
	BestBid(ctx context.Context, exchange, ticker string) (float64, error)
}

// OpportunityStore is the durable home of opportunity records. ListBefore and
// DeleteBefore exist for the archiver, which moves aged rows to object
// storage.
type OpportunityStore interface {
	Insert(ctx context.Context, rec OpportunityRecord) error
	ListRecent(ctx context.Context, limit int) ([]OpportunityRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]OpportunityRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PriceCache mirrors the latest observation per (ticker, exchange) for
// operational visibility. It is strictly best-effort: the engine never reads
// from it. GetTickerPrices serves status reporting; exchanges with no cached
// observation are omitted from the result.
type PriceCache interface {
	SetPrice(ctx context.Context, obs PriceObservation) error
	GetPrice(ctx context.Context, ticker, exchange string) (PriceObservation, error)
	GetTickerPrices(ctx context.Context, ticker string, exchanges []string) (map[string]PriceObservation, error)
}

// SignalBus is ephemeral pub/sub for downstream consumers of normalized
// observations and finalized opportunities.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
