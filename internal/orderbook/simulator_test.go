package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbscout/internal/model"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSimulate(t *testing.T) {
	asks := []model.PriceLevel{{Price: 100, Quantity: 1}, {Price: 101, Quantity: 2}}

	t.Run("buy stops exactly at the notional target", func(t *testing.T) {
		plan, err := Simulate(asks, d(150), Buy)
		require.NoError(t, err)
		require.Len(t, plan.Fills, 2)
		assert.True(t, plan.TotalCost.Equal(d(150)))
		assert.InDelta(t, 1.4950495, plan.TotalVolume.InexactFloat64(), 1e-6)
		assert.InDelta(t, 0.4950495, plan.Fills[1].Quantity.InexactFloat64(), 1e-6)
	})

	t.Run("buy beyond available depth", func(t *testing.T) {
		_, err := Simulate(asks, d(1000), Buy)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("sell accumulates base quantity", func(t *testing.T) {
		bids := []model.PriceLevel{{Price: 11, Quantity: 1}, {Price: 10.5, Quantity: 5}}
		plan, err := Simulate(bids, d(3), Sell)
		require.NoError(t, err)
		assert.True(t, plan.TotalVolume.Equal(d(3)))
		assert.True(t, plan.TotalCost.Equal(d(32)), plan.TotalCost.String())
	})

	t.Run("sell beyond available depth", func(t *testing.T) {
		_, err := Simulate([]model.PriceLevel{{Price: 11, Quantity: 1}}, d(2), Sell)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("invalid levels skipped", func(t *testing.T) {
		plan, err := Simulate([]model.PriceLevel{{Price: 0, Quantity: 10}, {Price: 50, Quantity: 0}, {Price: 100, Quantity: 2}}, d(100), Buy)
		require.NoError(t, err)
		assert.Len(t, plan.Fills, 1)
		assert.True(t, plan.TotalVolume.Equal(d(1)))
	})

	t.Run("non-positive target rejected", func(t *testing.T) {
		_, err := Simulate(asks, decimal.Zero, Buy)
		assert.Error(t, err)
	})
}

func TestMarketDepth(t *testing.T) {
	buyBook := model.OrderBookSnapshot{Asks: []model.PriceLevel{
		{Price: 100, Quantity: 2}, {Price: 100.5, Quantity: 3}, {Price: 102, Quantity: 50},
	}}
	sellBook := model.OrderBookSnapshot{Bids: []model.PriceLevel{
		{Price: 110, Quantity: 4}, {Price: 109, Quantity: 4}, {Price: 100, Quantity: 50},
	}}

	assert.True(t, MarketDepth(buyBook, sellBook, d(0.01)).Equal(d(5)))

	sellBook.Bids = sellBook.Bids[:1]
	assert.True(t, MarketDepth(buyBook, sellBook, d(0.01)).Equal(d(4)))

	assert.True(t, MarketDepth(model.OrderBookSnapshot{}, sellBook, d(0.01)).IsZero())
}

func TestSimulator_Evaluate(t *testing.T) {
	sim := NewSimulator(DefaultConfig())
	candidate := model.VolatilityCandidate{
		Symbol: "XUSDT", BuyExchange: "binance", SellExchange: "bybit",
		BuyVolatility: 0.2, SellVolatility: 0.4,
	}
	buyBook := model.OrderBookSnapshot{Exchange: "binance", Asks: []model.PriceLevel{{Price: 10, Quantity: 100}}}
	sellBook := model.OrderBookSnapshot{Exchange: "bybit", Bids: []model.PriceLevel{{Price: 11, Quantity: 100}}}

	t.Run("fees applied to both legs", func(t *testing.T) {
		opp, err := sim.Evaluate(candidate, buyBook, sellBook, d(150))
		require.NoError(t, err)

		assert.True(t, opp.Volume.Equal(d(15)))
		assert.True(t, opp.BuyPrice.Equal(d(10)))
		assert.True(t, opp.SellPrice.Equal(d(11)))
		assert.True(t, opp.Cost.Equal(d(150.3)), opp.Cost.String())
		assert.True(t, opp.Revenue.Equal(d(164.835)), opp.Revenue.String())
		assert.True(t, opp.Profit.Equal(d(14.535)), opp.Profit.String())
		assert.InDelta(t, 14.535/150.3*100, opp.ProfitPercentage, 1e-9)
		assert.InDelta(t, 0.3, opp.Volatility, 1e-12)
		assert.True(t, opp.MarketDepth.Equal(d(100)))
	})

	t.Run("per-exchange fee override", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ExchangeFees = map[string]Fees{"binance": {Taker: decimal.Zero, Maker: decimal.Zero}}
		opp, err := NewSimulator(cfg).Evaluate(candidate, buyBook, sellBook, d(150))
		require.NoError(t, err)
		assert.True(t, opp.Cost.Equal(d(150)))
	})

	t.Run("thin sell book", func(t *testing.T) {
		thin := model.OrderBookSnapshot{Bids: []model.PriceLevel{{Price: 11, Quantity: 1}}}
		_, err := sim.Evaluate(candidate, buyBook, thin, d(150))
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}
