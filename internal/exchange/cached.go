package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"arbscout/internal/cache"
	"arbscout/internal/model"
)

// CachedAdapter serves repeated fetches from a cache.Store for ttl. Order
// books are only cached when cacheBooks is set. Cache failures are logged and
// fall through to the wrapped adapter.
type CachedAdapter struct {
	Adapter
	store      cache.Store
	ttl        time.Duration
	cacheBooks bool
	logger     *slog.Logger
}

func NewCachedAdapter(inner Adapter, store cache.Store, ttl time.Duration, cacheBooks bool, logger *slog.Logger) *CachedAdapter {
	return &CachedAdapter{
		Adapter:    inner,
		store:      store,
		ttl:        ttl,
		cacheBooks: cacheBooks,
		logger:     logger.With("exchange", inner.Name()),
	}
}

func (c *CachedAdapter) TradeURL(symbol string) string {
	if l, ok := c.Adapter.(TradeLinker); ok {
		return l.TradeURL(symbol)
	}
	return ""
}

func (c *CachedAdapter) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	key := "tickers:" + c.Name()
	var out []model.TickerQuote
	if c.load(ctx, key, &out) {
		return out, nil
	}
	out, err := c.Adapter.FetchTickers(ctx)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		c.save(ctx, key, out)
	}
	return out, nil
}

func (c *CachedAdapter) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	key := "series:" + c.Name() + ":" + symbol
	var out model.PriceSeries
	if c.load(ctx, key, &out) {
		return out, nil
	}
	out, err := c.Adapter.FetchPriceSeries(ctx, symbol)
	if err != nil {
		return model.PriceSeries{}, err
	}
	if len(out.Closes) > 0 {
		c.save(ctx, key, out)
	}
	return out, nil
}

func (c *CachedAdapter) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	if !c.cacheBooks {
		return c.Adapter.FetchOrderBook(ctx, symbol)
	}
	key := "book:" + c.Name() + ":" + symbol
	var out model.OrderBookSnapshot
	if c.load(ctx, key, &out) {
		return out, nil
	}
	out, err := c.Adapter.FetchOrderBook(ctx, symbol)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	c.save(ctx, key, out)
	return out, nil
}

func (c *CachedAdapter) load(ctx context.Context, key string, out any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := sonnet.Unmarshal(raw, out); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedAdapter) save(ctx context.Context, key string, v any) {
	raw, err := sonnet.Marshal(v)
	if err != nil {
		c.logger.Warn("Cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}
