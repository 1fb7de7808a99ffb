package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"arbscout/internal/model"
)

type BybitClient struct {
	*restClient
}

func NewBybitClient(logger *slog.Logger, opts ClientOptions) *BybitClient {
	return &BybitClient{restClient: newRESTClient("bybit", logger, opts)}
}

func (b *BybitClient) NormalizeSymbol(symbol string) string {
	return Canonical(symbol)
}

func (b *BybitClient) TradeURL(symbol string) string {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return ""
	}
	return "https://www.bybit.com/en/trade/spot/" + base + "/" + quote
}

func (b *BybitClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Bid1Price number `json:"bid1Price"`
				Ask1Price number `json:"ask1Price"`
			} `json:"list"`
		} `json:"result"`
	}
	q := url.Values{"category": {"spot"}}
	if err := b.getJSON(ctx, "tickers", "/v5/market/tickers", q, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload.Result.List))
	for _, t := range payload.Result.List {
		if q, ok := quote(b.name, t.Symbol, t.Bid1Price, t.Ask1Price); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *BybitClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", b.NormalizeSymbol(symbol))
	q.Set("interval", "60")
	q.Set("limit", strconv.Itoa(b.historyLimit()))
	q.Set("start", strconv.FormatInt(b.historyStart().UnixMilli(), 10))

	var payload struct {
		Result struct {
			List [][]number `json:"list"`
		} `json:"result"`
	}
	if err := b.getJSON(ctx, "kline", "/v5/market/kline", q, &payload); err != nil {
		return model.PriceSeries{}, err
	}
	return model.PriceSeries{Exchange: b.name, Symbol: symbol, Closes: closes(payload.Result.List, 0, 4)}, nil
}

func (b *BybitClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", b.NormalizeSymbol(symbol))
	q.Set("limit", "200")

	var payload struct {
		Result struct {
			Bids [][]number `json:"b"`
			Asks [][]number `json:"a"`
		} `json:"result"`
	}
	if err := b.getJSON(ctx, "orderbook", "/v5/market/orderbook", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return bookSnapshot(b.name, symbol, payload.Result.Bids, payload.Result.Asks), nil
}
