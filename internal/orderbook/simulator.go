// Package orderbook simulates market orders against depth snapshots.
package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"arbscout/internal/model"
)

// ErrInsufficientLiquidity is returned when a book cannot fill the target.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

// Side selects which half of a book a fill walks.
type Side int

const (
	// Buy consumes asks until the quote-currency cost reaches the target.
	Buy Side = iota
	// Sell consumes bids until the base quantity sold reaches the target.
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Simulate walks levels best-price-first. Levels must already be ordered
// best-first for side. No partial plan is ever returned.
func Simulate(levels []model.PriceLevel, target decimal.Decimal, side Side) (model.FillPlan, error) {
	if !target.IsPositive() {
		return model.FillPlan{}, fmt.Errorf("simulate %s: target must be positive", side)
	}
	plan := model.FillPlan{TotalVolume: decimal.Zero, TotalCost: decimal.Zero}
	for _, lvl := range levels {
		if lvl.Price <= 0 || lvl.Quantity <= 0 {
			continue
		}
		price := decimal.NewFromFloat(lvl.Price)
		qty := decimal.NewFromFloat(lvl.Quantity)

		var take decimal.Decimal
		done := false
		switch side {
		case Buy:
			remaining := target.Sub(plan.TotalCost)
			if qty.Mul(price).GreaterThanOrEqual(remaining) {
				take = remaining.Div(price)
				plan.TotalCost = target
				done = true
			} else {
				take = qty
				plan.TotalCost = plan.TotalCost.Add(qty.Mul(price))
			}
		case Sell:
			remaining := target.Sub(plan.TotalVolume)
			take = decimal.Min(qty, remaining)
			plan.TotalCost = plan.TotalCost.Add(take.Mul(price))
			done = take.Equal(remaining)
		}
		plan.TotalVolume = plan.TotalVolume.Add(take)
		plan.Fills = append(plan.Fills, model.Fill{Price: price, Quantity: take})
		if done {
			return plan, nil
		}
	}
	return model.FillPlan{}, fmt.Errorf("simulate %s of %s: %w", side, target, ErrInsufficientLiquidity)
}

// MarketDepth is the smaller of the ask quantity within band above the best ask
// on the buy book and the bid quantity within band below the best bid on the sell book.
func MarketDepth(buyBook, sellBook model.OrderBookSnapshot, band decimal.Decimal) decimal.Decimal {
	asks := sortedAsks(buyBook.Asks)
	bids := sortedBids(sellBook.Bids)
	if len(asks) == 0 || len(bids) == 0 {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)

	askLimit := decimal.NewFromFloat(asks[0].Price).Mul(one.Add(band))
	buyDepth := decimal.Zero
	for _, l := range asks {
		if decimal.NewFromFloat(l.Price).GreaterThan(askLimit) {
			break
		}
		buyDepth = buyDepth.Add(decimal.NewFromFloat(l.Quantity))
	}

	bidLimit := decimal.NewFromFloat(bids[0].Price).Mul(one.Sub(band))
	sellDepth := decimal.Zero
	for _, l := range bids {
		if decimal.NewFromFloat(l.Price).LessThan(bidLimit) {
			break
		}
		sellDepth = sellDepth.Add(decimal.NewFromFloat(l.Quantity))
	}
	return decimal.Min(buyDepth, sellDepth)
}

func usable(levels []model.PriceLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Price > 0 && l.Quantity > 0 {
			out = append(out, l)
		}
	}
	return out
}

func sortedAsks(levels []model.PriceLevel) []model.PriceLevel {
	out := usable(levels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

func sortedBids(levels []model.PriceLevel) []model.PriceLevel {
	out := usable(levels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// Fees are fractional rates, e.g. 0.002 for 0.2%.
type Fees struct {
	Taker decimal.Decimal
	Maker decimal.Decimal
}

// Config holds trading fees and the depth band.
type Config struct {
	DefaultFees Fees
	// ExchangeFees overrides DefaultFees per exchange.
	ExchangeFees map[string]Fees
	DepthBand    decimal.Decimal
}

// DefaultConfig charges 0.2% taker and 0.1% maker with a 1% depth band.
func DefaultConfig() Config {
	return Config{
		DefaultFees: Fees{Taker: decimal.NewFromFloat(0.002), Maker: decimal.NewFromFloat(0.001)},
		DepthBand:   decimal.NewFromFloat(0.01),
	}
}

// Simulator prices a two-leg round trip against live books.
type Simulator struct {
	cfg Config
	now func() time.Time
}

// NewSimulator returns a Simulator.
func NewSimulator(cfg Config) *Simulator {
	return &Simulator{cfg: cfg, now: time.Now}
}

func (s *Simulator) fees(exchange string) Fees {
	if f, ok := s.cfg.ExchangeFees[exchange]; ok {
		return f
	}
	return s.cfg.DefaultFees
}

// Evaluate buys targetNotional worth of the symbol on the buy book, sells the
// acquired quantity on the sell book and returns the fee-adjusted outcome.
// Risk fields are left for the caller.
func (s *Simulator) Evaluate(c model.VolatilityCandidate, buyBook, sellBook model.OrderBookSnapshot, targetNotional decimal.Decimal) (model.Opportunity, error) {
	buyPlan, err := Simulate(sortedAsks(buyBook.Asks), targetNotional, Buy)
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("%s on %s: %w", c.Symbol, c.BuyExchange, err)
	}
	if buyPlan.TotalVolume.IsZero() {
		return model.Opportunity{}, fmt.Errorf("%s on %s: %w", c.Symbol, c.BuyExchange, ErrInsufficientLiquidity)
	}
	sellPlan, err := Simulate(sortedBids(sellBook.Bids), buyPlan.TotalVolume, Sell)
	if err != nil {
		return model.Opportunity{}, fmt.Errorf("%s on %s: %w", c.Symbol, c.SellExchange, err)
	}

	one := decimal.NewFromInt(1)
	cost := buyPlan.TotalCost.Mul(one.Add(s.fees(c.BuyExchange).Taker))
	revenue := sellPlan.TotalCost.Mul(one.Sub(s.fees(c.SellExchange).Maker))
	profit := revenue.Sub(cost)

	return model.Opportunity{
		Symbol:           c.Symbol,
		BuyExchange:      c.BuyExchange,
		SellExchange:     c.SellExchange,
		BuyPrice:         buyPlan.TotalCost.Div(buyPlan.TotalVolume),
		SellPrice:        sellPlan.TotalCost.Div(sellPlan.TotalVolume),
		Volume:           buyPlan.TotalVolume,
		Cost:             cost,
		Revenue:          revenue,
		Profit:           profit,
		ProfitPercentage: profit.Div(cost).Mul(decimal.NewFromInt(100)).InexactFloat64(),
		MarketDepth:      MarketDepth(buyBook, sellBook, s.cfg.DepthBand),
		Volatility:       c.AverageVolatility(),
		Timestamp:        s.now().UTC(),
	}, nil
}
