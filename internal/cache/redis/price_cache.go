package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/anirudhsk/optrader/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// instrument's latest price is a hash at "price:{instrumentKey}" with fields
// "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	client *Client
	ttl    time.Duration
}

// NewPriceCache creates a PriceCache. A non-zero ttl expires stale prices.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{client: c, ttl: ttl}
}

func priceKey(instrumentKey string) string {
	return "price:" + instrumentKey
}

// SetPrice stores the latest observed price and timestamp for an instrument.
func (pc *PriceCache) SetPrice(ctx context.Context, instrumentKey string, price float64, ts time.Time) error {
	rdb := pc.client.Underlying()
	key := priceKey(instrumentKey)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", instrumentKey, err)
	}
	if pc.ttl > 0 {
		if err := rdb.Expire(ctx, key, pc.ttl).Err(); err != nil {
			return fmt.Errorf("redis: expire price %s: %w", instrumentKey, err)
		}
	}
	return nil
}

// GetPrice retrieves the latest price and its timestamp. Returns
// domain.ErrNotFound when no price has been observed.
func (pc *PriceCache) GetPrice(ctx context.Context, instrumentKey string) (float64, time.Time, error) {
	vals, err := pc.client.Underlying().HGetAll(ctx, priceKey(instrumentKey)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", instrumentKey, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", instrumentKey, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", instrumentKey, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
