package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerQuote is the best bid/ask of one symbol on one exchange.
type TickerQuote struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
}

// Valid reports whether both sides of the quote are usable.
func (q TickerQuote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Quote is a bid/ask pair without its exchange.
type Quote struct {
	Bid float64
	Ask float64
}

// CommonCoin is a symbol listed on at least two exchanges.
type CommonCoin struct {
	Symbol string
	Quotes map[string]Quote
}

// SpreadCandidate survived the coarse spread screen.
type SpreadCandidate struct {
	Symbol        string   `json:"symbol"`
	BidExchanges  []string `json:"bid_exchanges"`
	AskExchanges  []string `json:"ask_exchanges"`
	MinBid        float64  `json:"min_bid"`
	MaxAsk        float64  `json:"max_ask"`
	SpreadPercent float64  `json:"spread_percent"`
}

// Exchanges returns the union of bid and ask exchanges.
func (c SpreadCandidate) Exchanges() []string {
	out := make([]string, 0, len(c.BidExchanges)+len(c.AskExchanges))
	out = append(out, c.BidExchanges...)
	return append(out, c.AskExchanges...)
}

// PriceSeries holds chronological closing prices.
type PriceSeries struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Closes   []float64 `json:"closes"`
}

// MetricSet maps metric names to finite values. Absent keys are unavailable, not zero.
type MetricSet map[string]float64

func (m MetricSet) Get(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// VolatilityCandidate is an exchange pair whose price histories passed every gate.
type VolatilityCandidate struct {
	Symbol         string  `json:"symbol"`
	BuyExchange    string  `json:"buy_exchange"`
	SellExchange   string  `json:"sell_exchange"`
	BuyVolatility  float64 `json:"buy_volatility"`
	SellVolatility float64 `json:"sell_volatility"`
}

// AverageVolatility is the mean of both legs' volatility.
func (c VolatilityCandidate) AverageVolatility() float64 {
	return (c.BuyVolatility + c.SellVolatility) / 2
}

type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot is a depth snapshot with bids descending and asks ascending.
type OrderBookSnapshot struct {
	Exchange string       `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}

// Fill is one order-book level consumed by a simulated order.
type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// FillPlan is a complete simulated execution against one side of a book.
type FillPlan struct {
	Fills       []Fill
	TotalVolume decimal.Decimal
	TotalCost   decimal.Decimal
}

// Opportunity is a fully analysed, risk-accepted arbitrage trade.
type Opportunity struct {
	Symbol           string          `json:"symbol" db:"symbol"`
	BuyExchange      string          `json:"buy_exchange" db:"buy_exchange"`
	SellExchange     string          `json:"sell_exchange" db:"sell_exchange"`
	BuyPrice         decimal.Decimal `json:"buy_price" db:"buy_price"`
	SellPrice        decimal.Decimal `json:"sell_price" db:"sell_price"`
	Volume           decimal.Decimal `json:"volume" db:"volume"`
	Cost             decimal.Decimal `json:"cost" db:"cost"`
	Revenue          decimal.Decimal `json:"revenue" db:"revenue"`
	Profit           decimal.Decimal `json:"profit" db:"profit"`
	ProfitPercentage float64         `json:"profit_percentage" db:"profit_percentage"`
	MarketDepth      decimal.Decimal `json:"market_depth" db:"market_depth"`
	Volatility       float64         `json:"volatility" db:"volatility"`
	StopLoss         decimal.Decimal `json:"stop_loss" db:"stop_loss"`
	RiskRewardRatio  float64         `json:"risk_reward_ratio" db:"risk_reward_ratio"`
	BuyTradeURL      string          `json:"buy_trade_url,omitempty" db:"-"`
	SellTradeURL     string          `json:"sell_trade_url,omitempty" db:"-"`
	Timestamp        time.Time       `json:"timestamp" db:"timestamp"`
}

// Score is the ranking key: profit percentage weighted by risk/reward.
func (o Opportunity) Score() float64 {
	return o.ProfitPercentage * o.RiskRewardRatio
}

// TradeRecord is an accepted trade kept in the risk manager's history.
type TradeRecord struct {
	Symbol       string
	BuyExchange  string
	SellExchange string
	Profit       decimal.Decimal
	Timestamp    time.Time
}

// RiskReport is a point-in-time copy of the risk manager's state.
type RiskReport struct {
	AccountBalance         decimal.Decimal
	DailyPnL               decimal.Decimal
	CurrentDrawdown        decimal.Decimal
	PeakBalance            decimal.Decimal
	WinRate                float64
	ProfitFactor           float64
	SharpeRatio            float64
	MaxConsecutiveLosses   int
	TradeCount             int
	TradingPaused          bool
	MaxPositionSize        decimal.Decimal
	MaxLossPercentage      decimal.Decimal
	MaxDailyLossPercentage decimal.Decimal
	MaxDrawdownPercentage  decimal.Decimal
}
