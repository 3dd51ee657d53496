package domain

import "time"

// WindowState tracks the lifecycle of an arbitrage window.
type WindowState int

const (
	WindowOpen WindowState = iota
	WindowConfirming
	WindowClosed
)

// String returns the lowercase state name for logging.
func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "open"
	case WindowConfirming:
		return "confirming"
	case WindowClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OpportunityRecord is the immutable output artifact of one confirmed
// arbitrage window. Exactly one record is produced per confirmed window;
// ownership passes to the sink on creation and the record is never mutated.
type OpportunityRecord struct {
	ID               string    // UUID
	Ticker           string    // canonical symbol
	Timestamp        time.Time // decision instant
	LowerExchange    string
	LowerPrice       float64
	LowerLatency     time.Duration
	HigherExchange   string
	HigherPrice      float64
	HigherLatency    time.Duration
	SpreadPercent    float64       // spread that opened the window
	RecheckedPercent float64       // live order-book spread; 0 when auto-confirmed
	WindowDuration   time.Duration // open-to-decision elapsed time
}
