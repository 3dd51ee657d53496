// Package metrics exposes Prometheus instrumentation for the watcher.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the watcher's Prometheus collectors. It satisfies both the
// engine's window metrics interface and the collector's ingestion metrics
// interface.
type Recorder struct {
	observationsIngested *prometheus.CounterVec
	observationsRejected *prometheus.CounterVec
	lastPrice            *prometheus.GaugeVec
	lastSpread           *prometheus.GaugeVec
	windowsOpened        *prometheus.CounterVec
	windowsConfirmed     *prometheus.CounterVec
	windowsRejected      *prometheus.CounterVec
	probeDuration        prometheus.Histogram
	feedReconnects       *prometheus.CounterVec
}

// NewRecorder registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		observationsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_observations_ingested_total",
			Help: "Valid price observations accepted per exchange.",
		}, []string{"exchange"}),
		observationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_observations_rejected_total",
			Help: "Malformed or non-positive observations dropped per exchange.",
		}, []string{"exchange"}),
		lastPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spreadwatch_last_price",
			Help: "Most recent price per ticker and exchange.",
		}, []string{"ticker", "exchange"}),
		lastSpread: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spreadwatch_last_spread_percent",
			Help: "Most recent evaluated cross-exchange spread per ticker.",
		}, []string{"ticker"}),
		windowsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_windows_opened_total",
			Help: "Arbitrage windows opened per ticker.",
		}, []string{"ticker"}),
		windowsConfirmed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_windows_confirmed_total",
			Help: "Windows that survived order-book confirmation per ticker.",
		}, []string{"ticker"}),
		windowsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_windows_rejected_total",
			Help: "Windows rejected at confirmation per ticker.",
		}, []string{"ticker"}),
		probeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spreadwatch_probe_duration_seconds",
			Help:    "Wall time of order-book confirmation probes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		feedReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadwatch_feed_reconnects_total",
			Help: "Websocket feed reconnections per exchange.",
		}, []string{"exchange"}),
	}
}

func (r *Recorder) ObservationIngested(exchange string) {
	r.observationsIngested.WithLabelValues(exchange).Inc()
}

func (r *Recorder) ObservationRejected(exchange string) {
	r.observationsRejected.WithLabelValues(exchange).Inc()
}

func (r *Recorder) LastPrice(ticker, exchange string, price float64) {
	r.lastPrice.WithLabelValues(ticker, exchange).Set(price)
}

func (r *Recorder) SpreadObserved(ticker string, percent float64) {
	r.lastSpread.WithLabelValues(ticker).Set(percent)
}

func (r *Recorder) WindowOpened(ticker string) {
	r.windowsOpened.WithLabelValues(ticker).Inc()
}

func (r *Recorder) WindowConfirmed(ticker string) {
	r.windowsConfirmed.WithLabelValues(ticker).Inc()
}

func (r *Recorder) WindowRejected(ticker string) {
	r.windowsRejected.WithLabelValues(ticker).Inc()
}

func (r *Recorder) ProbeDuration(seconds float64) {
	r.probeDuration.Observe(seconds)
}

func (r *Recorder) FeedReconnect(exchange string) {
	r.feedReconnects.WithLabelValues(exchange).Inc()
}

// Serve exposes /metrics on addr until the context is cancelled, then shuts
// the server down gracefully.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
