package exchange

import (
	"context"

	"arbscout/internal/model"
)

// Adapter defines the standard interface for all exchange market-data clients.
// Symbols passed in and returned are canonical (e.g. "BTCUSDT").
type Adapter interface {
	Name() string
	// NormalizeSymbol converts a canonical symbol to the exchange-native form.
	NormalizeSymbol(symbol string) string
	FetchTickers(ctx context.Context) ([]model.TickerQuote, error)
	FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error)
	FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error)
}

// TradeLinker is implemented by adapters that can link to their spot trading page.
type TradeLinker interface {
	TradeURL(symbol string) string
}
