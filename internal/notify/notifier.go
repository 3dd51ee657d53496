// Package notify pushes confirmed-opportunity alerts to chat channels. It
// fans each alert out to every configured sender and rate-limits per event
// key so a ticker that fires repeatedly does not flood the channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender delivers one alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to all senders. An optional event allow-list
// filters by event type, and a cooldown suppresses repeats of the same
// (event, key) pair within the window.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewNotifier creates a Notifier. An empty events slice allows every event
// type; a zero cooldown disables suppression.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "notifier")),
		lastSent: make(map[string]time.Time),
	}
}

// Notify delivers an alert for the given event. key scopes the cooldown,
// typically the ticker. Filtered or suppressed alerts return nil.
func (n *Notifier) Notify(ctx context.Context, event, key, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	if n.suppressed(event, key) {
		n.logger.DebugContext(ctx, "alert suppressed by cooldown",
			slog.String("event", event),
			slog.String("key", key),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// suppressed records the send attempt and reports whether the previous one
// for the same (event, key) was inside the cooldown window.
func (n *Notifier) suppressed(event, key string) bool {
	if n.cooldown <= 0 {
		return false
	}
	id := event + "|" + key
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[id]; ok && now.Sub(last) < n.cooldown {
		return true
	}
	n.lastSent[id] = now
	return false
}

// dispatch sends to every sender, collecting failures so one bad channel
// does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
