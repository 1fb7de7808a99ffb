package arbitrage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"arbscout/internal/config"
	"arbscout/internal/metrics"
	"arbscout/internal/model"
	"arbscout/internal/orderbook"
	"arbscout/internal/risk"
	"arbscout/internal/screener"
	"arbscout/internal/volatility"
)

type MockMarket struct {
	mock.Mock
}

func (m *MockMarket) Names() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockMarket) FetchTickers(ctx context.Context, exchange string) ([]model.TickerQuote, error) {
	args := m.Called(ctx, exchange)
	tickers, _ := args.Get(0).([]model.TickerQuote)
	return tickers, args.Error(1)
}

func (m *MockMarket) FetchPriceSeries(ctx context.Context, exchange, symbol string) (model.PriceSeries, error) {
	args := m.Called(ctx, exchange, symbol)
	return args.Get(0).(model.PriceSeries), args.Error(1)
}

func (m *MockMarket) FetchOrderBook(ctx context.Context, exchange, symbol string) (model.OrderBookSnapshot, error) {
	args := m.Called(ctx, exchange, symbol)
	return args.Get(0).(model.OrderBookSnapshot), args.Error(1)
}

func (m *MockMarket) TradeURL(exchange, symbol string) string {
	return "https://" + exchange + ".example/trade/" + symbol
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Record(ctx context.Context, cycleID uuid.UUID, opps []model.Opportunity) error {
	args := m.Called(ctx, cycleID, opps)
	return args.Error(0)
}

func calmSeries(exchange, symbol string) model.PriceSeries {
	closes := make([]float64, 240)
	for i := range closes {
		closes[i] = 1 + 0.01*math.Sin(float64(i)*0.7)
	}
	return model.PriceSeries{Exchange: exchange, Symbol: symbol, Closes: closes}
}

func book(exchange string, bids, asks []model.PriceLevel) model.OrderBookSnapshot {
	return model.OrderBookSnapshot{Exchange: exchange, Symbol: "XUSDT", Bids: bids, Asks: asks}
}

func testConfig() *config.Config {
	return &config.Config{
		Arbitrage: config.ArbitrageConfig{
			MinProfitPercentage: 0.5,
			MaxTradeVolume:      1000,
			TargetVolume:        100,
			PollIntervalSeconds: 1,
			OpportunityTimeout:  5 * time.Second,
			OrderBookTimeout:    2 * time.Second,
		},
		Concurrency: config.ConcurrencyConfig{Tickers: 2, PriceHistory: 2, OrderBooks: 2},
	}
}

func newTestEngine(cfg *config.Config, market *MockMarket, riskCfg risk.Config, sinks ...Sink) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	filter := volatility.New(logger, market, metrics.NewEngine(metrics.DefaultOptions()),
		volatility.Config{CoinTimeout: 5 * time.Second}, semaphore.NewWeighted(cfg.Concurrency.PriceHistory))
	return NewEngine(logger, cfg, market, Components{
		Screener:  screener.New(logger, screener.DefaultConfig()),
		Filter:    filter,
		Simulator: orderbook.NewSimulator(orderbook.DefaultConfig()),
		Risk:      risk.NewManager(riskCfg),
		Sinks:     sinks,
	})
}

// marketWithSpread quotes XUSDT at 100/100.5 on binance and 108/109 on bybit.
func marketWithSpread(binanceAsks []model.PriceLevel) *MockMarket {
	market := new(MockMarket)
	market.On("Names").Return([]string{"binance", "bybit"})
	market.On("FetchTickers", mock.Anything, "binance").Return([]model.TickerQuote{
		{Exchange: "binance", Symbol: "XUSDT", Bid: 100, Ask: 100.5},
		{Exchange: "binance", Symbol: "YUSDT", Bid: 10, Ask: 10.1},
		{Exchange: "binance", Symbol: "ONLYUSDT", Bid: 1, Ask: 1.1},
	}, nil)
	market.On("FetchTickers", mock.Anything, "bybit").Return([]model.TickerQuote{
		{Exchange: "bybit", Symbol: "XUSDT", Bid: 108, Ask: 109},
		{Exchange: "bybit", Symbol: "YUSDT", Bid: 10.05, Ask: 10.2},
	}, nil)
	market.On("FetchPriceSeries", mock.Anything, "binance", "XUSDT").Return(calmSeries("binance", "XUSDT"), nil)
	market.On("FetchPriceSeries", mock.Anything, "bybit", "XUSDT").Return(calmSeries("bybit", "XUSDT"), nil)
	market.On("FetchOrderBook", mock.Anything, "binance", "XUSDT").Return(
		book("binance", []model.PriceLevel{{Price: 100, Quantity: 10}}, binanceAsks), nil)
	market.On("FetchOrderBook", mock.Anything, "bybit", "XUSDT").Return(
		book("bybit", []model.PriceLevel{{Price: 108, Quantity: 10}}, []model.PriceLevel{{Price: 109, Quantity: 10}}), nil)
	return market
}

func TestEngine_RunCycle(t *testing.T) {
	deepAsks := []model.PriceLevel{{Price: 100.5, Quantity: 10}}

	t.Run("profitable opportunity", func(t *testing.T) {
		market := marketWithSpread(deepAsks)
		sink := new(MockSink)
		sink.On("Record", mock.Anything, mock.Anything, mock.MatchedBy(func(opps []model.Opportunity) bool {
			return len(opps) == 1 && opps[0].Symbol == "XUSDT"
		})).Return(nil).Once()
		engine := newTestEngine(testConfig(), market, risk.DefaultConfig(), sink)

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		require.Len(t, opps, 1)

		opp := opps[0]
		assert.Equal(t, "binance", opp.BuyExchange)
		assert.Equal(t, "bybit", opp.SellExchange)
		assert.InDelta(t, 100.5, opp.BuyPrice.InexactFloat64(), 1e-9)
		assert.InDelta(t, 108.0, opp.SellPrice.InexactFloat64(), 1e-9)
		assert.InDelta(t, 100.2, opp.Cost.InexactFloat64(), 1e-6)
		assert.InDelta(t, 7.155, opp.Profit.InexactFloat64(), 1e-3)
		assert.InDelta(t, 7.141, opp.ProfitPercentage, 1e-3)
		// no history yet, so the performance factor sits at its floor of 0.5
		assert.InDelta(t, 0.4975, opp.Volume.InexactFloat64(), 1e-4)
		// the 2% loss cap is tighter than the volatility stop
		assert.InDelta(t, 98.49, opp.StopLoss.InexactFloat64(), 1e-6)
		assert.InDelta(t, 3.7313, opp.RiskRewardRatio, 1e-3)
		assert.Equal(t, "https://binance.example/trade/XUSDT", opp.BuyTradeURL)
		assert.Equal(t, "https://bybit.example/trade/XUSDT", opp.SellTradeURL)

		history := engine.Risk.History()
		require.Len(t, history, 1)
		assert.True(t, history[0].Profit.Equal(opp.Profit))
		assert.True(t, engine.Risk.Report().DailyPnL.Equal(opp.Profit))

		market.AssertNotCalled(t, "FetchPriceSeries", mock.Anything, mock.Anything, "YUSDT")
		market.AssertNotCalled(t, "FetchPriceSeries", mock.Anything, mock.Anything, "ONLYUSDT")
		sink.AssertExpectations(t)
	})

	t.Run("insufficient liquidity drops the candidate", func(t *testing.T) {
		market := marketWithSpread([]model.PriceLevel{{Price: 100.5, Quantity: 0.1}})
		sink := new(MockSink)
		engine := newTestEngine(testConfig(), market, risk.DefaultConfig(), sink)

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
		sink.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("below minimum profit", func(t *testing.T) {
		cfg := testConfig()
		cfg.Arbitrage.MinProfitPercentage = 10
		engine := newTestEngine(cfg, marketWithSpread(deepAsks), risk.DefaultConfig())

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
	})

	t.Run("rejected by risk manager", func(t *testing.T) {
		riskCfg := risk.DefaultConfig()
		riskCfg.MaxPositionSize = decimal.NewFromFloat(0.5)
		engine := newTestEngine(testConfig(), marketWithSpread(deepAsks), riskCfg)

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
		assert.Empty(t, engine.Risk.History())
	})

	t.Run("failing exchange is skipped", func(t *testing.T) {
		market := new(MockMarket)
		market.On("Names").Return([]string{"binance", "bybit"})
		market.On("FetchTickers", mock.Anything, "binance").Return([]model.TickerQuote{
			{Exchange: "binance", Symbol: "XUSDT", Bid: 100, Ask: 100.5},
		}, nil)
		market.On("FetchTickers", mock.Anything, "bybit").Return(nil, errors.New("connection reset"))
		engine := newTestEngine(testConfig(), market, risk.DefaultConfig())

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
		market.AssertNotCalled(t, "FetchOrderBook", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("order book failure drops the candidate", func(t *testing.T) {
		market := new(MockMarket)
		market.On("Names").Return([]string{"binance", "bybit"})
		market.On("FetchTickers", mock.Anything, "binance").Return([]model.TickerQuote{
			{Exchange: "binance", Symbol: "XUSDT", Bid: 100, Ask: 100.5},
		}, nil)
		market.On("FetchTickers", mock.Anything, "bybit").Return([]model.TickerQuote{
			{Exchange: "bybit", Symbol: "XUSDT", Bid: 108, Ask: 109},
		}, nil)
		market.On("FetchPriceSeries", mock.Anything, mock.Anything, "XUSDT").Return(calmSeries("", "XUSDT"), nil)
		market.On("FetchOrderBook", mock.Anything, "binance", "XUSDT").Return(model.OrderBookSnapshot{}, errors.New("503"))
		market.On("FetchOrderBook", mock.Anything, "bybit", "XUSDT").Return(model.OrderBookSnapshot{}, nil).Maybe()
		engine := newTestEngine(testConfig(), market, risk.DefaultConfig())

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, opps)
	})

	t.Run("sink failure does not fail the cycle", func(t *testing.T) {
		sink := new(MockSink)
		sink.On("Record", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))
		engine := newTestEngine(testConfig(), marketWithSpread(deepAsks), risk.DefaultConfig(), sink)

		opps, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Len(t, opps, 1)
	})

	t.Run("fewer than two exchanges", func(t *testing.T) {
		market := new(MockMarket)
		market.On("Names").Return([]string{"binance"})
		engine := newTestEngine(testConfig(), market, risk.DefaultConfig())

		_, err := engine.RunCycle(context.Background())
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestEngine_Run(t *testing.T) {
	engine := newTestEngine(testConfig(), marketWithSpread([]model.PriceLevel{{Price: 100.5, Quantity: 10}}), risk.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycles := 0
	err := engine.Run(ctx, func(opps []model.Opportunity) {
		cycles++
		assert.Len(t, opps, 1)
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cycles)
}

func TestRank(t *testing.T) {
	opps := []model.Opportunity{
		{Symbol: "LOW", ProfitPercentage: 1, RiskRewardRatio: 2},
		{Symbol: "NAN", ProfitPercentage: 0, RiskRewardRatio: math.Inf(1)},
		{Symbol: "INF", ProfitPercentage: 0.5, RiskRewardRatio: math.Inf(1)},
		{Symbol: "HIGH", ProfitPercentage: 3, RiskRewardRatio: 4},
	}
	Rank(opps)

	var got []string
	for _, o := range opps {
		got = append(got, o.Symbol)
	}
	assert.Equal(t, []string{"INF", "HIGH", "LOW", "NAN"}, got)
}
