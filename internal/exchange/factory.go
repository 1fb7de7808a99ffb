package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"arbscout/internal/config"
	"arbscout/internal/model"
)

// NewClient creates a new exchange adapter based on the given name.
func NewClient(name string, logger *slog.Logger, opts ClientOptions) (Adapter, error) {
	switch name {
	case "binance":
		return NewBinanceClient(logger, opts), nil
	case "mexc":
		return NewMEXCClient(logger, opts), nil
	case "bybit":
		return NewBybitClient(logger, opts), nil
	case "okx":
		return NewOKXClient(logger, opts), nil
	case "kucoin":
		return NewKuCoinClient(logger, opts), nil
	case "gateio":
		return NewGateIOClient(logger, opts), nil
	case "htx":
		return NewHTXClient(logger, opts), nil
	case "bitget":
		return NewBitgetClient(logger, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
}

// ClientOptionsFor merges the shared HTTP settings with one exchange's overrides.
func ClientOptionsFor(cfg *config.Config, name string) ClientOptions {
	ex := cfg.Exchanges[name]
	opts := ClientOptions{
		BaseURL:           ex.BaseURL,
		Timeout:           cfg.HTTP.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		MaxRetries:        cfg.HTTP.MaxRetries,
		RetryDelay:        cfg.HTTP.RetryDelay,
		BreakerFailures:   cfg.HTTP.BreakerFailures,
		BreakerCooldown:   cfg.HTTP.BreakerCooldown,
		HistoryDays:       cfg.Volatility.HistoryDays,
	}
	if ex.RequestsPerSecond > 0 {
		opts.RequestsPerSecond = ex.RequestsPerSecond
	}
	return opts
}

// Registry maps exchange ids to adapters. It is built once and then only read.
type Registry struct {
	adapters map[string]Adapter
	names    []string
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Name().
func (r *Registry) Register(a Adapter) {
	if _, ok := r.adapters[a.Name()]; !ok {
		r.names = append(r.names, a.Name())
		sort.Strings(r.names)
	}
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered exchange ids in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) lookup(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
	return a, nil
}

func (r *Registry) FetchTickers(ctx context.Context, exchange string) ([]model.TickerQuote, error) {
	a, err := r.lookup(exchange)
	if err != nil {
		return nil, err
	}
	return a.FetchTickers(ctx)
}

func (r *Registry) FetchPriceSeries(ctx context.Context, exchange, symbol string) (model.PriceSeries, error) {
	a, err := r.lookup(exchange)
	if err != nil {
		return model.PriceSeries{}, err
	}
	return a.FetchPriceSeries(ctx, symbol)
}

func (r *Registry) FetchOrderBook(ctx context.Context, exchange, symbol string) (model.OrderBookSnapshot, error) {
	a, err := r.lookup(exchange)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return a.FetchOrderBook(ctx, symbol)
}

// TradeURL returns the spot trading page of symbol on exchange, or "".
func (r *Registry) TradeURL(exchange, symbol string) string {
	a, ok := r.adapters[exchange]
	if !ok {
		return ""
	}
	if l, ok := a.(TradeLinker); ok {
		return l.TradeURL(symbol)
	}
	return ""
}
