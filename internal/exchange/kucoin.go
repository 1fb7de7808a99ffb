package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"arbscout/internal/model"
)

type KuCoinClient struct {
	*restClient
}

func NewKuCoinClient(logger *slog.Logger, opts ClientOptions) *KuCoinClient {
	return &KuCoinClient{restClient: newRESTClient("kucoin", logger, opts)}
}

func (k *KuCoinClient) NormalizeSymbol(symbol string) string {
	return joinSymbol(symbol, "-")
}

func (k *KuCoinClient) TradeURL(symbol string) string {
	return "https://www.kucoin.com/trade/" + joinSymbol(symbol, "-")
}

func (k *KuCoinClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload struct {
		Data struct {
			Ticker []struct {
				Symbol string `json:"symbol"`
				Buy    number `json:"buy"`
				Sell   number `json:"sell"`
			} `json:"ticker"`
		} `json:"data"`
	}
	if err := k.getJSON(ctx, "tickers", "/api/v1/market/allTickers", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload.Data.Ticker))
	for _, t := range payload.Data.Ticker {
		if q, ok := quote(k.name, t.Symbol, t.Buy, t.Sell); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// FetchPriceSeries reads hourly candles. Rows are [time, open, close, high, low, ...].
func (k *KuCoinClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("symbol", k.NormalizeSymbol(symbol))
	q.Set("type", "1hour")
	q.Set("startAt", strconv.FormatInt(k.historyStart().Unix(), 10))
	q.Set("endAt", strconv.FormatInt(k.now().Unix(), 10))

	var payload struct {
		Data [][]number `json:"data"`
	}
	if err := k.getJSON(ctx, "candles", "/api/v1/market/candles", q, &payload); err != nil {
		return model.PriceSeries{}, err
	}
	return model.PriceSeries{Exchange: k.name, Symbol: symbol, Closes: closes(payload.Data, 0, 2)}, nil
}

func (k *KuCoinClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{"symbol": {k.NormalizeSymbol(symbol)}}

	var payload struct {
		Data struct {
			Bids [][]number `json:"bids"`
			Asks [][]number `json:"asks"`
		} `json:"data"`
	}
	if err := k.getJSON(ctx, "orderbook", "/api/v1/market/orderbook/level2_100", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return bookSnapshot(k.name, symbol, payload.Data.Bids, payload.Data.Asks), nil
}
