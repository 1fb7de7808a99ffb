package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"arbscout/internal/model"
)

type BitgetClient struct {
	*restClient
}

func NewBitgetClient(logger *slog.Logger, opts ClientOptions) *BitgetClient {
	return &BitgetClient{restClient: newRESTClient("bitget", logger, opts)}
}

func (b *BitgetClient) NormalizeSymbol(symbol string) string {
	return Canonical(symbol)
}

func (b *BitgetClient) TradeURL(symbol string) string {
	return "https://www.bitget.com/spot/" + Canonical(symbol) + "?type=spot"
}

func (b *BitgetClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload struct {
		Data []struct {
			Symbol string `json:"symbol"`
			BidPr  number `json:"bidPr"`
			AskPr  number `json:"askPr"`
		} `json:"data"`
	}
	if err := b.getJSON(ctx, "tickers", "/api/v2/spot/market/tickers", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload.Data))
	for _, t := range payload.Data {
		if q, ok := quote(b.name, t.Symbol, t.BidPr, t.AskPr); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *BitgetClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("symbol", b.NormalizeSymbol(symbol))
	q.Set("granularity", "1h")
	q.Set("limit", strconv.Itoa(b.historyLimit()))
	q.Set("startTime", strconv.FormatInt(b.historyStart().UnixMilli(), 10))

	var payload struct {
		Data [][]number `json:"data"`
	}
	if err := b.getJSON(ctx, "candles", "/api/v2/spot/market/candles", q, &payload); err != nil {
		return model.PriceSeries{}, err
	}
	return model.PriceSeries{Exchange: b.name, Symbol: symbol, Closes: closes(payload.Data, 0, 4)}, nil
}

func (b *BitgetClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", b.NormalizeSymbol(symbol))
	q.Set("limit", "150")

	var payload struct {
		Data struct {
			Bids [][]number `json:"bids"`
			Asks [][]number `json:"asks"`
		} `json:"data"`
	}
	if err := b.getJSON(ctx, "orderbook", "/api/v2/spot/market/orderbook", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return bookSnapshot(b.name, symbol, payload.Data.Bids, payload.Data.Asks), nil
}
