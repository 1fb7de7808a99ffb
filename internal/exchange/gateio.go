package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"arbscout/internal/model"
)

// GateIOClient uses the Gate.io v4 spot API. Native symbols look like "BTC_USDT".
type GateIOClient struct {
	*restClient
}

func NewGateIOClient(logger *slog.Logger, opts ClientOptions) *GateIOClient {
	return &GateIOClient{restClient: newRESTClient("gateio", logger, opts)}
}

func (g *GateIOClient) NormalizeSymbol(symbol string) string {
	return joinSymbol(symbol, "_")
}

func (g *GateIOClient) TradeURL(symbol string) string {
	return "https://www.gate.io/trade/" + joinSymbol(symbol, "_")
}

func (g *GateIOClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload []struct {
		CurrencyPair string `json:"currency_pair"`
		HighestBid   number `json:"highest_bid"`
		LowestAsk    number `json:"lowest_ask"`
	}
	if err := g.getJSON(ctx, "tickers", "/api/v4/spot/tickers", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload))
	for _, t := range payload {
		if q, ok := quote(g.name, t.CurrencyPair, t.HighestBid, t.LowestAsk); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// FetchPriceSeries reads hourly candlesticks. Rows are [ts, quote volume, close, high, low, open, ...].
func (g *GateIOClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("currency_pair", g.NormalizeSymbol(symbol))
	q.Set("interval", "1h")
	q.Set("from", strconv.FormatInt(g.historyStart().Unix(), 10))
	q.Set("to", strconv.FormatInt(g.now().Unix(), 10))

	var rows [][]number
	if err := g.getJSON(ctx, "candlesticks", "/api/v4/spot/candlesticks", q, &rows); err != nil {
		return model.PriceSeries{}, err
	}
	return model.PriceSeries{Exchange: g.name, Symbol: symbol, Closes: closes(rows, 0, 2)}, nil
}

func (g *GateIOClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("currency_pair", g.NormalizeSymbol(symbol))
	q.Set("limit", "200")

	var payload struct {
		Bids [][]number `json:"bids"`
		Asks [][]number `json:"asks"`
	}
	if err := g.getJSON(ctx, "order_book", "/api/v4/spot/order_book", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return bookSnapshot(g.name, symbol, payload.Bids, payload.Asks), nil
}
