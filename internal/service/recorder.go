package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"spreadwatch/internal/domain"
	"spreadwatch/internal/notify"
)

// OpportunitiesChannel is the bus channel carrying finalized records.
const OpportunitiesChannel = "opportunities"

// EventOpportunityConfirmed is the notification event name for records.
const EventOpportunityConfirmed = "opportunity_confirmed"

// CSVAppender is the append-only opportunity log.
type CSVAppender interface {
	Append(rec domain.OpportunityRecord) error
}

// Recorder implements domain.OpportunitySink by fanning a confirmed record
// out to every configured destination: Postgres, the CSV log, the signal
// bus, and the notifier. Each destination is optional and each failure is
// logged and swallowed; the engine's contract is that persistence trouble is
// never its concern.
type Recorder struct {
	store    domain.OpportunityStore
	csv      CSVAppender
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. Every destination may be nil.
func NewRecorder(store domain.OpportunityStore, csv CSVAppender, bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		csv:      csv,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "recorder")),
	}
}

// Save delivers one record to every destination. It always returns nil: the
// record was produced and handed over, which is all the engine needs to
// know.
func (r *Recorder) Save(ctx context.Context, rec domain.OpportunityRecord) error {
	if r.store != nil {
		if err := r.store.Insert(ctx, rec); err != nil {
			r.logger.WarnContext(ctx, "store insert failed",
				slog.String("opp_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.csv != nil {
		if err := r.csv.Append(rec); err != nil {
			r.logger.WarnContext(ctx, "csv append failed",
				slog.String("opp_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":             EventOpportunityConfirmed,
			"opp_id":            rec.ID,
			"ticker":            rec.Ticker,
			"lower_exchange":    rec.LowerExchange,
			"higher_exchange":   rec.HigherExchange,
			"spread_percent":    rec.SpreadPercent,
			"rechecked_percent": rec.RecheckedPercent,
			"window_ms":         rec.WindowDuration.Milliseconds(),
			"timestamp":         rec.Timestamp.UTC().Format(time.RFC3339Nano),
		})
		if err := r.bus.Publish(ctx, OpportunitiesChannel, evt); err != nil {
			r.logger.WarnContext(ctx, "publish opportunity failed",
				slog.String("opp_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.notifier != nil {
		title := fmt.Sprintf("Arbitrage: %s %.4f%%", rec.Ticker, rec.SpreadPercent)
		message := fmt.Sprintf("buy %s @ %.8g, sell %s @ %.8g, window %dms",
			rec.LowerExchange, rec.LowerPrice,
			rec.HigherExchange, rec.HigherPrice,
			rec.WindowDuration.Milliseconds(),
		)
		if err := r.notifier.Notify(ctx, EventOpportunityConfirmed, rec.Ticker, title, message); err != nil {
			r.logger.WarnContext(ctx, "notify failed",
				slog.String("opp_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Compile-time interface check.
var _ domain.OpportunitySink = (*Recorder)(nil)
