package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"arbscout/internal/model"
)

// OKXClient talks to the OKX v5 public market API. Native symbols look like "BTC-USDT".
type OKXClient struct {
	*restClient
}

func NewOKXClient(logger *slog.Logger, opts ClientOptions) *OKXClient {
	return &OKXClient{restClient: newRESTClient("okx", logger, opts)}
}

func (o *OKXClient) NormalizeSymbol(symbol string) string {
	return joinSymbol(symbol, "-")
}

func (o *OKXClient) TradeURL(symbol string) string {
	return "https://www.okx.com/trade-spot/" + strings.ToLower(joinSymbol(symbol, "-"))
}

func (o *OKXClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload struct {
		Data []struct {
			InstID string `json:"instId"`
			BidPx  number `json:"bidPx"`
			AskPx  number `json:"askPx"`
		} `json:"data"`
	}
	q := url.Values{"instType": {"SPOT"}}
	if err := o.getJSON(ctx, "tickers", "/api/v5/market/tickers", q, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload.Data))
	for _, t := range payload.Data {
		if q, ok := quote(o.name, t.InstID, t.BidPx, t.AskPx); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// FetchPriceSeries reads hourly candles; OKX returns them newest first.
func (o *OKXClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("instId", o.NormalizeSymbol(symbol))
	q.Set("bar", "1H")
	q.Set("limit", "300")

	var payload struct {
		Data [][]number `json:"data"`
	}
	if err := o.getJSON(ctx, "candles", "/api/v5/market/candles", q, &payload); err != nil {
		return model.PriceSeries{}, err
	}
	rows := payload.Data
	if limit := o.historyLimit(); len(rows) > limit {
		rows = rows[:limit]
	}
	return model.PriceSeries{Exchange: o.name, Symbol: symbol, Closes: closes(rows, 0, 4)}, nil
}

func (o *OKXClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("instId", o.NormalizeSymbol(symbol))
	q.Set("sz", "400")

	var payload struct {
		Data []struct {
			Bids [][]number `json:"bids"`
			Asks [][]number `json:"asks"`
		} `json:"data"`
	}
	if err := o.getJSON(ctx, "books", "/api/v5/market/books", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	if len(payload.Data) == 0 {
		return model.OrderBookSnapshot{}, shapeErr(o.name, "books", errEmptyBook)
	}
	return bookSnapshot(o.name, symbol, payload.Data[0].Bids, payload.Data[0].Asks), nil
}
