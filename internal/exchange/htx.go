package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"arbscout/internal/model"
)

// HTXClient uses the HTX (formerly Huobi) market API. Native symbols are lower case.
type HTXClient struct {
	*restClient
}

func NewHTXClient(logger *slog.Logger, opts ClientOptions) *HTXClient {
	return &HTXClient{restClient: newRESTClient("htx", logger, opts)}
}

func (h *HTXClient) NormalizeSymbol(symbol string) string {
	return strings.ToLower(Canonical(symbol))
}

func (h *HTXClient) TradeURL(symbol string) string {
	return "https://www.htx.com/trade/" + strings.ToLower(joinSymbol(symbol, "_")) + "?type=spot"
}

func (h *HTXClient) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	var payload struct {
		Data []struct {
			Symbol string `json:"symbol"`
			Bid    number `json:"bid"`
			Ask    number `json:"ask"`
		} `json:"data"`
	}
	if err := h.getJSON(ctx, "tickers", "/market/tickers", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.TickerQuote, 0, len(payload.Data))
	for _, t := range payload.Data {
		if q, ok := quote(h.name, t.Symbol, t.Bid, t.Ask); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// FetchPriceSeries reads hourly klines, which HTX returns newest first.
func (h *HTXClient) FetchPriceSeries(ctx context.Context, symbol string) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("symbol", h.NormalizeSymbol(symbol))
	q.Set("period", "60min")
	q.Set("size", strconv.Itoa(h.historyLimit()))

	var payload struct {
		Data []struct {
			ID    int64  `json:"id"`
			Close number `json:"close"`
		} `json:"data"`
	}
	if err := h.getJSON(ctx, "kline", "/market/history/kline", q, &payload); err != nil {
		return model.PriceSeries{}, err
	}
	candles := payload.Data
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].ID < candles[j].ID })
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		if c.Close > 0 {
			out = append(out, float64(c.Close))
		}
	}
	return model.PriceSeries{Exchange: h.name, Symbol: symbol, Closes: out}, nil
}

func (h *HTXClient) FetchOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", h.NormalizeSymbol(symbol))
	q.Set("type", "step0")

	var payload struct {
		Tick struct {
			Bids [][]number `json:"bids"`
			Asks [][]number `json:"asks"`
		} `json:"tick"`
	}
	if err := h.getJSON(ctx, "depth", "/market/depth", q, &payload); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	return bookSnapshot(h.name, symbol, payload.Tick.Bids, payload.Tick.Asks), nil
}
