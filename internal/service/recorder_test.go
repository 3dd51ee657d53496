package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"spreadwatch/internal/domain"
	"spreadwatch/internal/notify"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []domain.OpportunityRecord
	fail     bool
}

func (s *fakeStore) Insert(_ context.Context, rec domain.OpportunityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) ListRecent(context.Context, int) ([]domain.OpportunityRecord, error) {
	return nil, nil
}

func (s *fakeStore) ListBefore(context.Context, time.Time) ([]domain.OpportunityRecord, error) {
	return nil, nil
}

func (s *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeAppender struct {
	rows []domain.OpportunityRecord
	fail bool
}

func (a *fakeAppender) Append(rec domain.OpportunityRecord) error {
	if a.fail {
		return errors.New("disk full")
	}
	a.rows = append(a.rows, rec)
	return nil
}

type stubSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	s.titles = append(s.titles, title)
	s.mu.Unlock()
	return nil
}

func (s *stubSender) Name() string { return "stub" }

func confirmedRecord() domain.OpportunityRecord {
	return domain.OpportunityRecord{
		ID:               "9ad3f3e4-4a53-4d7e-b847-1f2a38c2f9aa",
		Ticker:           "BTCUSDT",
		Timestamp:        time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		LowerExchange:    "binance",
		LowerPrice:       100.00,
		LowerLatency:     120 * time.Millisecond,
		HigherExchange:   "bybit",
		HigherPrice:      101.50,
		HigherLatency:    95 * time.Millisecond,
		SpreadPercent:    1.5,
		RecheckedPercent: 1.4,
		WindowDuration:   50 * time.Millisecond,
	}
}

func TestRecorderFansOut(t *testing.T) {
	store := &fakeStore{}
	csv := &fakeAppender{}
	bus := &fakeBus{}
	sender := &stubSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, 0, testLogger())

	r := NewRecorder(store, csv, bus, notifier, testLogger())
	if err := r.Save(context.Background(), confirmedRecord()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(store.inserted) != 1 {
		t.Errorf("store inserts = %d, want 1", len(store.inserted))
	}
	if len(csv.rows) != 1 {
		t.Errorf("csv rows = %d, want 1", len(csv.rows))
	}
	if len(sender.titles) != 1 {
		t.Errorf("notifications = %d, want 1", len(sender.titles))
	}

	msgs := bus.on(OpportunitiesChannel)
	if len(msgs) != 1 {
		t.Fatalf("bus messages = %d, want 1", len(msgs))
	}
	var evt map[string]any
	if err := json.Unmarshal(msgs[0], &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt["event"] != EventOpportunityConfirmed {
		t.Errorf("event = %v, want %q", evt["event"], EventOpportunityConfirmed)
	}
	if evt["ticker"] != "BTCUSDT" {
		t.Errorf("ticker = %v", evt["ticker"])
	}
	if evt["window_ms"] != float64(50) {
		t.Errorf("window_ms = %v, want 50", evt["window_ms"])
	}
}

func TestRecorderSwallowsDestinationFailures(t *testing.T) {
	store := &fakeStore{fail: true}
	csv := &fakeAppender{fail: true}
	bus := &fakeBus{fail: true}

	r := NewRecorder(store, csv, bus, nil, testLogger())
	if err := r.Save(context.Background(), confirmedRecord()); err != nil {
		t.Errorf("Save() error = %v, want nil even when every destination fails", err)
	}
}

func TestRecorderAllDestinationsOptional(t *testing.T) {
	r := NewRecorder(nil, nil, nil, nil, testLogger())
	if err := r.Save(context.Background(), confirmedRecord()); err != nil {
		t.Errorf("Save() error = %v, want nil", err)
	}
}
