package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbscout/internal/model"
)

type stubAdapter struct {
	name    string
	tickers []model.TickerQuote
}

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) NormalizeSymbol(sym string) string { return sym }
func (s stubAdapter) FetchTickers(context.Context) ([]model.TickerQuote, error) {
	return s.tickers, nil
}
func (s stubAdapter) FetchPriceSeries(context.Context, string) (model.PriceSeries, error) {
	return model.PriceSeries{}, nil
}
func (s stubAdapter) FetchOrderBook(context.Context, string) (model.OrderBookSnapshot, error) {
	return model.OrderBookSnapshot{}, nil
}

func TestBookTickerStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{
			`{"u":1,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`,
			`not json`,
			`{"u":2,"s":"BADUSDT","b":"0","B":"1","a":"0","A":"1"}`,
			`{"u":3,"s":"BTCUSDT","b":"100","B":"1","a":"101","A":"1"}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// keep the connection open until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	stream := NewBookTickerStream(testLogger(), "binance", "ws"+strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Start(ctx) }()

	require.Eventually(t, func() bool {
		quotes, ok := stream.Snapshot(time.Minute)
		return ok && len(quotes) == 2
	}, 5*time.Second, 10*time.Millisecond)

	quotes, _ := stream.Snapshot(time.Minute)
	bySymbol := map[string]model.TickerQuote{}
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	assert.Equal(t, 25.35, bySymbol["BNBUSDT"].Bid)
	assert.Equal(t, 25.36, bySymbol["BNBUSDT"].Ask)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamingAdapter(t *testing.T) {
	now := time.Now()
	stream := NewBookTickerStream(testLogger(), "binance", "ws://unused")
	stream.now = func() time.Time { return now }
	rest := stubAdapter{name: "binance", tickers: []model.TickerQuote{{Exchange: "binance", Symbol: "RESTUSDT", Bid: 1, Ask: 2}}}
	adapter := NewStreamingAdapter(rest, stream, 10*time.Second)

	t.Run("falls back to REST when the stream is empty", func(t *testing.T) {
		got, err := adapter.FetchTickers(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "RESTUSDT", got[0].Symbol)
	})

	stream.handle([]byte(`{"s":"BTCUSDT","b":"100","B":"1","a":"101","A":"1"}`))

	t.Run("serves fresh stream quotes", func(t *testing.T) {
		got, err := adapter.FetchTickers(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "BTCUSDT", got[0].Symbol)
	})

	t.Run("stale stream falls back", func(t *testing.T) {
		now = now.Add(time.Minute)
		got, err := adapter.FetchTickers(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "RESTUSDT", got[0].Symbol)
	})

	assert.Empty(t, adapter.TradeURL("BTCUSDT"))
}
