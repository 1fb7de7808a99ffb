package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"arbscout/internal/model"
)

// BinanceClient implements Adapter for Binance and for venues that mirror its
// public spot API (MEXC).
type BinanceClient struct {
	*restClient
	klineInterval string
	depthLimit    int
	tradeURL      func(base, quote string) string
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, opts ClientOptions) *BinanceClient {
	return &BinanceClient{
		restClient:    newRESTClient("binance", logger, opts),
		klineInterval: "1h",
		depthLimit:    200,
		tradeURL: func(base, quote string) string {
			return "https://www.binance.com/en/trade/" + base + "_" + quote + "?type=spot"
		},
	}
}

func (b *BinanceClient) NormalizeSymbol(symbol string) string {
	return Canonical(symbol)
}

func (b *BinanceClient) TradeURL(symbol string) string {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return ""
	}
	return b.tradeURL(base, quote)
}

func (b *BinanceClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload []struct {
		Symbol   string `json:"symbol"`
		BidPrice number `json:"bidPrice"`
		AskPrice number `json:"askPrice"`
	}
	if err := b.getJSON(ctx, "tickers", "/api/v3/ticker/bookTicker", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload))
	for _, t := range payload {
		if q, ok := quote(b.name, t.Symbol, t.BidPrice, t.AskPrice); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *BinanceClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("symbol", b.NormalizeSymbol(symbol))
	q.Set("interval", b.klineInterval)
	q.Set("limit", strconv.Itoa(b.historyLimit()))
	q.Set("startTime", strconv.FormatInt(b.historyStart().UnixMilli(), 10))

	var rows [][]number
	if err := b.getJSON(ctx, "klines", "/api/v3/klines", q, &rows); err != nil {
		return model.PriceSeries{}, err
	}
	return model.PriceSeries{Exchange: b.name, Symbol: symbol, Closes: closes(rows, 0, 4)}, nil
}

func (b *BinanceClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", b.NormalizeSymbol(symbol))
	q.Set("limit", strconv.Itoa(b.depthLimit))

	var payload struct {
		Bids [][]number `json:"bids"`
		Asks [][]number `json:"asks"`
	}
	if err := b.getJSON(ctx, "depth", "/api/v3/depth", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return bookSnapshot(b.name, symbol, payload.Bids, payload.Asks), nil
}

// NewMEXCClient creates an adapter for MEXC, whose spot API follows Binance's.
func NewMEXCClient(logger *slog.Logger, opts ClientOptions) *BinanceClient {
	return &BinanceClient{
		restClient:    newRESTClient("mexc", logger, opts),
		klineInterval: "60m",
		depthLimit:    200,
		tradeURL: func(base, quote string) string {
			return "https://www.mexc.com/exchange/" + base + "_" + quote
		},
	}
}
