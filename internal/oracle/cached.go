package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Cached wraps an Oracle with a short-TTL Redis quote cache so bursts of
// trades on the same symbol do not hammer the vendor.
type Cached struct {
	next Oracle
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCached creates a caching wrapper around an oracle.
func NewCached(next Oracle, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl}
}

func (c *Cached) GetPrice(ctx context.Context, symbol string, class model.AssetClass) (decimal.Decimal, error) {
	key := quoteKey(symbol, class)

	if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if price, perr := decimal.NewFromString(cached); perr == nil {
			return price, nil
		}
	}

	price, err := c.next.GetPrice(ctx, symbol, class)
	if err != nil {
		return decimal.Zero, err
	}

	c.rdb.Set(ctx, key, price.String(), c.ttl)
	return price, nil
}

func quoteKey(symbol string, class model.AssetClass) string {
	return fmt.Sprintf("quote:%s:%s", class, symbol)
}
