package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"spreadwatch/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// (ticker, exchange) pair's latest observation is stored as a hash at
// "price:{ticker}:{exchange}" with fields "price", "ts" (Unix nanoseconds),
// and "latency_ms". Keys expire after the configured TTL so a dead feed's
// last print does not linger.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(ticker, exchange string) string {
	return "price:" + ticker + ":" + exchange
}

// SetPrice stores the latest observation for a (ticker, exchange) pair.
func (pc *PriceCache) SetPrice(ctx context.Context, obs domain.PriceObservation) error {
	key := priceKey(obs.Ticker, obs.Exchange)
	fields := map[string]interface{}{
		"price":      strconv.FormatFloat(obs.Price, 'f', -1, 64),
		"ts":         strconv.FormatInt(obs.ObservedAt.UnixNano(), 10),
		"latency_ms": strconv.FormatInt(obs.FeedLatency.Milliseconds(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", obs.Ticker, obs.Exchange, err)
	}
	return nil
}

// GetPrice retrieves the latest observation for a (ticker, exchange) pair.
// It returns domain.ErrNotFound when the key does not exist or has expired.
func (pc *PriceCache) GetPrice(ctx context.Context, ticker, exchange string) (domain.PriceObservation, error) {
	key := priceKey(ticker, exchange)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: get price %s/%s: %w", ticker, exchange, err)
	}
	if len(vals) == 0 {
		return domain.PriceObservation{}, domain.ErrNotFound
	}

	obs := domain.PriceObservation{Ticker: ticker, Exchange: exchange}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceObservation{}, domain.ErrNotFound
	}
	if obs.Price, err = strconv.ParseFloat(priceStr, 64); err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: parse price %s/%s: %w", ticker, exchange, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PriceObservation{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: parse ts %s/%s: %w", ticker, exchange, err)
	}
	obs.ObservedAt = time.Unix(0, tsNano)

	if latStr, ok := vals["latency_ms"]; ok {
		latMs, err := strconv.ParseInt(latStr, 10, 64)
		if err != nil {
			return domain.PriceObservation{}, fmt.Errorf("redis: parse latency %s/%s: %w", ticker, exchange, err)
		}
		obs.FeedLatency = time.Duration(latMs) * time.Millisecond
	}

	return obs, nil
}

// GetTickerPrices retrieves the latest observations for one ticker across
// several exchanges using a pipeline. Exchanges with no cached observation
// are silently omitted.
func (pc *PriceCache) GetTickerPrices(ctx context.Context, ticker string, exchanges []string) (map[string]domain.PriceObservation, error) {
	if len(exchanges) == 0 {
		return map[string]domain.PriceObservation{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(exchanges))
	for _, ex := range exchanges {
		cmds[ex] = pipe.HGetAll(ctx, priceKey(ticker, ex))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline %s: %w", ticker, err)
	}

	result := make(map[string]domain.PriceObservation, len(exchanges))
	for ex, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(vals["price"], 64)
		if err != nil {
			continue
		}
		tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
		if err != nil {
			continue
		}
		obs := domain.PriceObservation{
			Ticker:     ticker,
			Exchange:   ex,
			Price:      price,
			ObservedAt: time.Unix(0, tsNano),
		}
		if latMs, err := strconv.ParseInt(vals["latency_ms"], 10, 64); err == nil {
			obs.FeedLatency = time.Duration(latMs) * time.Millisecond
		}
		result[ex] = obs
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
