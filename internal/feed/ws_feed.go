// Package feed runs one websocket connection per venue: dial, subscribe for
// every configured ticker, read, normalize, and hand observations to the
// collector. Transport failures are retried forever; they never propagate
// past this package.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"spreadwatch/internal/domain"
	"spreadwatch/internal/exchange"
)

// ObservationHandler receives each normalized observation.
type ObservationHandler func(ctx context.Context, obs domain.PriceObservation)

// DownHandler is invoked when a venue connection drops.
type DownHandler func(ctx context.Context, exchange string, err error)

const pingInterval = 20 * time.Second

// WSFeed streams one venue's tickers and reconnects on disconnect.
type WSFeed struct {
	adapter        exchange.Adapter
	tickers        []string
	reconnectDelay time.Duration
	onObservation  ObservationHandler
	onDown         DownHandler
	logger         *slog.Logger
}

// NewWSFeed creates a feed for one venue. onDown may be nil.
func NewWSFeed(adapter exchange.Adapter, tickers []string, reconnectDelay time.Duration, onObservation ObservationHandler, onDown DownHandler, logger *slog.Logger) *WSFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &WSFeed{
		adapter:        adapter,
		tickers:        tickers,
		reconnectDelay: reconnectDelay,
		onObservation:  onObservation,
		onDown:         onDown,
		logger: logger.With(
			slog.String("component", "ws_feed"),
			slog.String("exchange", adapter.Name()),
		),
	}
}

// Run connects and reads until ctx is cancelled, redialing after
// reconnectDelay on any transport error.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.tickers) == 0 {
		f.logger.Info("no tickers to subscribe, exiting")
		return nil
	}
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		if f.onDown != nil {
			f.onDown(ctx, f.adapter.Name(), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.adapter.WSURL(), nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, ticker := range f.tickers {
		msg, err := f.adapter.SubscribeMessage(ticker)
		if err != nil {
			f.logger.Warn("build subscribe message failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	f.logger.Info("subscribed", slog.Int("tickers", len(f.tickers)))

	// Reader goroutine feeds messages; the select loop below multiplexes
	// reads with keepalive pings and cancellation.
	type frame struct {
		data []byte
		err  error
	}
	frames := make(chan frame, 64)
	// stop unblocks a reader parked on a full frames buffer once the select
	// loop below has returned; closing the connection alone only interrupts
	// ReadMessage.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case frames <- frame{err: err}:
				case <-stop:
				}
				return
			}
			select {
			case frames <- frame{data: data}:
			case <-stop:
				return
			}
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return err
			}
		case fr, ok := <-frames:
			if !ok {
				return domain.ErrWSDisconnect
			}
			if fr.err != nil {
				return fr.err
			}
			if obs, ok := f.adapter.Parse(fr.data, time.Now()); ok {
				f.onObservation(ctx, obs)
			}
		}
	}
}
