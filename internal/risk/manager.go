// Package risk sizes trades and enforces loss limits.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"arbscout/internal/metrics"
	"arbscout/internal/model"
)

// ErrTradeRejected matches every *RejectionError via errors.Is.
var ErrTradeRejected = errors.New("trade rejected by risk manager")

// RejectionError carries the reason a trade failed validation.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "trade rejected: " + e.Reason
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrTradeRejected
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

const (
	minPerformanceFactor = 0.5
	maxPerformanceFactor = 1.5
	tradeSharpeHurdle    = 0.02
)

// Config holds the position and loss limits.
type Config struct {
	MaxPositionSize   decimal.Decimal
	MaxLossPercentage decimal.Decimal
	MaxDailyLoss      decimal.Decimal
	MaxDrawdown       decimal.Decimal
	AccountBalance    decimal.Decimal
	HistoryCapacity   int
}

// DefaultConfig risks 2% per trade against a 10000 balance.
func DefaultConfig() Config {
	return Config{
		MaxPositionSize:   decimal.NewFromInt(1000),
		MaxLossPercentage: decimal.NewFromFloat(0.02),
		MaxDailyLoss:      decimal.NewFromFloat(0.05),
		MaxDrawdown:       decimal.NewFromFloat(0.1),
		AccountBalance:    decimal.NewFromInt(10000),
		HistoryCapacity:   1000,
	}
}

// Manager holds the mutable risk state. All methods are safe for concurrent use.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	accountBalance  decimal.Decimal
	dailyPnL        decimal.Decimal
	day             time.Time
	peakBalance     decimal.Decimal
	currentDrawdown decimal.Decimal

	history              []model.TradeRecord
	winRate              float64
	profitFactor         float64
	sharpeRatio          float64
	maxConsecutiveLosses int
}

// NewManager starts with the configured balance as the drawdown peak.
func NewManager(cfg Config) *Manager {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}
	m := &Manager{
		cfg:            cfg,
		now:            time.Now,
		accountBalance: cfg.AccountBalance,
		peakBalance:    cfg.AccountBalance,
		profitFactor:   1,
	}
	m.day = dayOf(m.now())
	return m
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// rollover resets the daily PnL when the UTC day changed. Caller holds mu.
func (m *Manager) rollover() {
	if today := dayOf(m.now()); !today.Equal(m.day) {
		m.day = today
		m.dailyPnL = decimal.Zero
	}
}

// CalculateOptimalStopLoss returns the tighter of a volatility stop (two
// standard deviations) and the configured maximum-loss stop.
func (m *Manager) CalculateOptimalStopLoss(entryPrice decimal.Decimal, volatility float64) decimal.Decimal {
	one := decimal.NewFromInt(1)
	volStop := entryPrice.Mul(one.Sub(decimal.NewFromFloat(2 * volatility)))
	lossStop := entryPrice.Mul(one.Sub(m.cfg.MaxLossPercentage))
	return decimal.Max(volStop, lossStop)
}

// ValidateTrade returns nil when the trade is acceptable, or a *RejectionError.
func (m *Manager) ValidateTrade(entryPrice, positionSize, stopLoss, accountBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if positionSize.GreaterThan(m.cfg.MaxPositionSize) {
		return reject("position size %s exceeds limit %s", positionSize, m.cfg.MaxPositionSize)
	}
	potentialLoss := entryPrice.Sub(stopLoss).Mul(positionSize)
	if limit := accountBalance.Mul(m.cfg.MaxLossPercentage); potentialLoss.GreaterThan(limit) {
		return reject("potential loss %s exceeds per-trade limit %s", potentialLoss.StringFixed(4), limit)
	}
	realizedLoss := decimal.Max(decimal.Zero, m.dailyPnL.Neg())
	if limit := accountBalance.Mul(m.cfg.MaxDailyLoss); realizedLoss.Add(potentialLoss).GreaterThan(limit) {
		return reject("daily loss limit %s would be exceeded", limit)
	}
	if m.shouldPause() {
		return reject("trading is paused")
	}
	return nil
}

// AdjustPositionSize scales size by recent performance and caps it.
func (m *Manager) AdjustPositionSize(size decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	factor := m.performanceFactor()
	m.mu.Unlock()
	return decimal.Min(size.Mul(decimal.NewFromFloat(factor)), m.cfg.MaxPositionSize)
}

// PerformanceFactor is the current sizing multiplier in [0.5, 1.5].
func (m *Manager) PerformanceFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.performanceFactor()
}

func (m *Manager) performanceFactor() float64 {
	score := m.winRate +
		0.3*math.Min(m.profitFactor, 2)/2 +
		0.3*math.Min(m.sharpeRatio, 3)/3 +
		0.2*(1-float64(m.maxConsecutiveLosses)/10)
	return math.Max(minPerformanceFactor, math.Min(maxPerformanceFactor, score/1.8))
}

// CalculateKellyCriterion returns the Kelly fraction, or 0 when avgLoss or avgWin is 0.
func (m *Manager) CalculateKellyCriterion(winRate, avgWin, avgLoss float64) float64 {
	return kellyFraction(winRate, avgWin, avgLoss).InexactFloat64()
}

func kellyFraction(winRate, avgWin, avgLoss float64) decimal.Decimal {
	if avgLoss == 0 || avgWin == 0 {
		return decimal.Zero
	}
	w := decimal.NewFromFloat(winRate)
	win := decimal.NewFromFloat(avgWin)
	loss := decimal.NewFromFloat(avgLoss)
	return w.Mul(win).Sub(decimal.NewFromInt(1).Sub(w).Mul(loss)).Div(win)
}

// CalculateOptimalPositionSize stakes the Kelly fraction of accountBalance,
// clamped to [0, MaxPositionSize].
func (m *Manager) CalculateOptimalPositionSize(accountBalance decimal.Decimal, winRate, avgWin, avgLoss float64) decimal.Decimal {
	size := accountBalance.Mul(kellyFraction(winRate, avgWin, avgLoss))
	return decimal.Max(decimal.Zero, decimal.Min(size, m.cfg.MaxPositionSize))
}

// CalculateValueAtRisk is the loss at the given confidence implied by historical returns.
func (m *Manager) CalculateValueAtRisk(positionSize, entryPrice decimal.Decimal, returns []float64, confidence float64) decimal.Decimal {
	q, ok := metrics.Percentile(returns, (1-confidence)*100)
	if !ok {
		return decimal.Zero
	}
	return positionSize.Mul(entryPrice).Mul(decimal.NewFromFloat(math.Abs(q)))
}

// CalculatePositionSize risks MaxLossPercentage of the balance over the
// entry-stop distance scaled by volatility, then applies the performance
// factor and caps the result. A zero distance or volatility yields zero.
func (m *Manager) CalculatePositionSize(accountBalance, entryPrice, stopLoss decimal.Decimal, volatility float64) decimal.Decimal {
	priceRisk := entryPrice.Sub(stopLoss).Abs()
	if priceRisk.IsZero() || volatility <= 0 || math.IsNaN(volatility) {
		return decimal.Zero
	}
	riskAmount := accountBalance.Mul(m.cfg.MaxLossPercentage)
	size := riskAmount.Div(priceRisk.Mul(decimal.NewFromFloat(volatility)))
	size = size.Mul(decimal.NewFromFloat(m.PerformanceFactor()))
	return decimal.Min(size, m.cfg.MaxPositionSize)
}

// ShouldClosePosition reports whether an open position hit its stop, its
// target, or the account-level pause.
func (m *Manager) ShouldClosePosition(currentPrice, stopLoss, takeProfit decimal.Decimal) bool {
	if currentPrice.LessThanOrEqual(stopLoss) {
		return true
	}
	if takeProfit.IsPositive() && currentPrice.GreaterThanOrEqual(takeProfit) {
		return true
	}
	return m.ShouldPauseTrading()
}

// RiskRewardRatio is the relative reward over the relative risk. A zero risk
// yields +Inf.
func RiskRewardRatio(entryPrice, stopLoss, takeProfit decimal.Decimal) float64 {
	if entryPrice.IsZero() {
		return 0
	}
	reward := takeProfit.Sub(entryPrice).Div(entryPrice)
	risk := entryPrice.Sub(stopLoss).Div(entryPrice)
	if risk.IsZero() {
		return math.Inf(1)
	}
	return reward.Div(risk).InexactFloat64()
}

// UpdateDailyPnL adds pnl to today's running total.
func (m *Manager) UpdateDailyPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	m.dailyPnL = m.dailyPnL.Add(pnl)
}

// ResetDailyPnL zeroes the daily total and restarts the day.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = decimal.Zero
	m.day = dayOf(m.now())
}

// UpdateDrawdown records the account value and reports whether the drawdown
// is still within limits.
func (m *Manager) UpdateDrawdown(accountValue decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountBalance = accountValue
	if accountValue.GreaterThan(m.peakBalance) {
		m.peakBalance = accountValue
	}
	if m.peakBalance.IsPositive() {
		m.currentDrawdown = m.peakBalance.Sub(accountValue).Div(m.peakBalance)
	}
	return m.currentDrawdown.LessThanOrEqual(m.cfg.MaxDrawdown)
}

// ShouldPauseTrading reports whether the daily loss or drawdown limit is breached.
func (m *Manager) ShouldPauseTrading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return m.shouldPause()
}

func (m *Manager) shouldPause() bool {
	dailyLimit := m.accountBalance.Mul(m.cfg.MaxDailyLoss)
	if m.dailyPnL.LessThanOrEqual(dailyLimit.Neg()) && dailyLimit.IsPositive() {
		return true
	}
	return m.currentDrawdown.GreaterThan(m.cfg.MaxDrawdown)
}

// AddTrade appends to the bounded history, evicting the oldest record.
func (m *Manager) AddTrade(rec model.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	if over := len(m.history) - m.cfg.HistoryCapacity; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.recompute()
}

func (m *Manager) recompute() {
	if len(m.history) == 0 {
		m.winRate, m.profitFactor, m.sharpeRatio, m.maxConsecutiveLosses = 0, 1, 0, 0
		return
	}
	var (
		wins        int
		grossProfit float64
		grossLoss   float64
		streak      int
		worst       int
	)
	profits := make([]float64, len(m.history))
	for i, t := range m.history {
		p := t.Profit.InexactFloat64()
		profits[i] = p
		switch {
		case p > 0:
			wins++
			grossProfit += p
			streak = 0
		case p < 0:
			grossLoss += -p
			streak++
			worst = max(worst, streak)
		default:
			streak = 0
		}
	}

	m.winRate = float64(wins) / float64(len(m.history))
	m.profitFactor = 1
	if grossLoss > 0 {
		m.profitFactor = grossProfit / grossLoss
	}
	m.sharpeRatio = 0
	mean, _ := stats.Mean(profits)
	if sd, err := stats.StandardDeviationPopulation(profits); err == nil && sd > 0 {
		m.sharpeRatio = (mean - tradeSharpeHurdle) / sd
	}
	m.maxConsecutiveLosses = worst
}

// History returns a copy of the retained trades, oldest first.
func (m *Manager) History() []model.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TradeRecord(nil), m.history...)
}

func (m *Manager) Report() model.RiskReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return model.RiskReport{
		AccountBalance:         m.accountBalance,
		DailyPnL:               m.dailyPnL,
		CurrentDrawdown:        m.currentDrawdown,
		PeakBalance:            m.peakBalance,
		WinRate:                m.winRate,
		ProfitFactor:           m.profitFactor,
		SharpeRatio:            m.sharpeRatio,
		MaxConsecutiveLosses:   m.maxConsecutiveLosses,
		TradeCount:             len(m.history),
		TradingPaused:          m.shouldPause(),
		MaxPositionSize:        m.cfg.MaxPositionSize,
		MaxLossPercentage:      m.cfg.MaxLossPercentage,
		MaxDailyLossPercentage: m.cfg.MaxDailyLoss,
		MaxDrawdownPercentage:  m.cfg.MaxDrawdown,
	}
}
