package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"arbscout/internal/config"
	"arbscout/internal/exchange"
	"arbscout/internal/model"
	"arbscout/internal/orderbook"
	"arbscout/internal/risk"
	"arbscout/internal/screener"
	"arbscout/internal/telemetry"
	"arbscout/internal/volatility"
)

// MarketData is the engine's view of the exchanges. *exchange.Registry implements it.
type MarketData interface {
	Names() []string
	FetchTickers(ctx context.Context, exchange string) ([]model.TickerQuote, error)
	FetchPriceSeries(ctx context.Context, exchange, symbol string) (model.PriceSeries, error)
	FetchOrderBook(ctx context.Context, exchange, symbol string) (model.OrderBookSnapshot, error)
	TradeURL(exchange, symbol string) string
}

// Sink receives the ranked opportunities of every cycle that produced any.
type Sink interface {
	Record(ctx context.Context, cycleID uuid.UUID, opps []model.Opportunity) error
}

// Components are the pipeline stages the engine drives.
type Components struct {
	Screener  *screener.Screener
	Filter    *volatility.Filter
	Simulator *orderbook.Simulator
	Risk      *risk.Manager
	Telemetry *telemetry.Collector
	Sinks     []Sink
}

// Engine runs the screening pipeline and ranks the surviving opportunities.
type Engine struct {
	logger *slog.Logger
	cfg    *config.Config
	market MarketData
	Components

	tickerSem *semaphore.Weighted
	bookSem   *semaphore.Weighted
}

// NewEngine creates a new instance of the Engine.
func NewEngine(logger *slog.Logger, cfg *config.Config, market MarketData, c Components) *Engine {
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		market:     market,
		Components: c,
		tickerSem:  semaphore.NewWeighted(max(cfg.Concurrency.Tickers, 1)),
		bookSem:    semaphore.NewWeighted(max(cfg.Concurrency.OrderBooks, 1)),
	}
}

// Run executes a cycle immediately and then every poll interval until ctx is
// cancelled. Failed cycles are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, onCycle func([]model.Opportunity)) error {
	ticker := time.NewTicker(e.cfg.Arbitrage.PollInterval())
	defer ticker.Stop()

	for {
		opps, err := e.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			e.logger.Error("Cycle failed", "error", err)
		case onCycle != nil:
			onCycle(opps)
		}

		e.logger.Info("Waiting for next cycle", "interval", e.cfg.Arbitrage.PollInterval())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one full pass over all exchanges and returns the accepted
// opportunities, best first. Per-exchange and per-candidate failures are
// logged and skipped; only cancellation and configuration errors are returned.
func (e *Engine) RunCycle(ctx context.Context) ([]model.Opportunity, error) {
	start := time.Now()
	cycleID := uuid.New()
	logger := e.logger.With("cycle", cycleID.String())
	logger.Info("Cycle started")

	opps, err := e.runCycle(ctx, logger)
	e.Telemetry.ObserveCycle(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	e.Telemetry.SetOpportunities(len(opps))

	if len(opps) > 0 {
		for _, sink := range e.Sinks {
			if err := sink.Record(ctx, cycleID, opps); err != nil {
				logger.Error("Failed to record opportunities", "sink", fmt.Sprintf("%T", sink), "error", err)
			}
		}
	}
	logger.Info("Cycle finished", "opportunities", len(opps), "duration", time.Since(start))
	return opps, nil
}

func (e *Engine) runCycle(ctx context.Context, logger *slog.Logger) ([]model.Opportunity, error) {
	names := e.market.Names()
	if len(names) < 2 {
		return nil, fmt.Errorf("%w: need at least two exchanges, have %d", config.ErrInvalidConfig, len(names))
	}

	quotes := e.fetchTickers(ctx, logger, names)
	coins := screener.BuildCommonCoins(quotes)
	e.Telemetry.SetStage("common_coins", len(coins))
	logger.Info("Common coins found", "exchanges", len(quotes), "coins", len(coins))

	spreads := e.Screener.ScreenAll(ctx, coins)
	e.Telemetry.SetStage("screened", len(spreads))

	pairs := e.Filter.FilterAll(ctx, spreads)
	if limit := e.cfg.Arbitrage.MaxCandidates; limit > 0 && len(pairs) > limit {
		logger.Info("Capping candidates", "pairs", len(pairs), "limit", limit)
		pairs = pairs[:limit]
	}
	e.Telemetry.SetStage("volatility", len(pairs))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	simulated := e.simulateAll(ctx, logger, pairs)
	e.Telemetry.SetStage("simulated", len(simulated))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accepted := e.applyRisk(logger, simulated)
	e.Telemetry.SetStage("accepted", len(accepted))
	Rank(accepted)
	return accepted, nil
}

func (e *Engine) fetchTickers(ctx context.Context, logger *slog.Logger, names []string) map[string][]model.TickerQuote {
	results := make([][]model.TickerQuote, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := e.tickerSem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer e.tickerSem.Release(1)

			tickers, err := e.market.FetchTickers(ctx, name)
			if err != nil {
				e.Telemetry.FetchFailed(name, "tickers")
				logFetchError(logger, "Failed to fetch tickers", err, "exchange", name)
				return nil
			}
			results[i] = tickers
			return nil
		})
	}
	_ = g.Wait()

	quotes := make(map[string][]model.TickerQuote, len(names))
	for i, name := range names {
		if len(results[i]) > 0 {
			quotes[name] = results[i]
		}
	}
	return quotes
}

// logFetchError logs malformed payloads at error level and everything else as a warning.
func logFetchError(logger *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	if errors.Is(err, exchange.ErrDataShape) {
		logger.Error(msg, args...)
		return
	}
	logger.Warn(msg, args...)
}

func (e *Engine) targetNotional() decimal.Decimal {
	target := e.cfg.Arbitrage.TargetVolume
	if limit := e.cfg.Arbitrage.MaxTradeVolume; limit > 0 && limit < target {
		target = limit
	}
	return decimal.NewFromFloat(target)
}

// simulateAll analyses every pair concurrently and returns the profitable
// ones in input order.
func (e *Engine) simulateAll(ctx context.Context, logger *slog.Logger, pairs []model.VolatilityCandidate) []model.Opportunity {
	target := e.targetNotional()
	results := make([]*model.Opportunity, len(pairs))

	var g errgroup.Group
	for i, c := range pairs {
		i, c := i, c
		g.Go(func() error {
			if opp, ok := e.analyse(ctx, logger, c, target); ok {
				results[i] = &opp
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Opportunity, 0, len(pairs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (e *Engine) analyse(ctx context.Context, logger *slog.Logger, c model.VolatilityCandidate, target decimal.Decimal) (model.Opportunity, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Arbitrage.OpportunityTimeout)
	defer cancel()

	logger = logger.With("symbol", c.Symbol, "buyExchange", c.BuyExchange, "sellExchange", c.SellExchange)

	buyBook, sellBook, err := e.fetchBooks(ctx, c)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.Telemetry.Dropped("timeout")
			logger.Warn("Timeout when fetching order books")
		} else {
			e.Telemetry.Dropped("orderbook")
			logFetchError(logger, "Failed to fetch order books", err)
		}
		return model.Opportunity{}, false
	}

	opp, err := e.Simulator.Evaluate(c, buyBook, sellBook, target)
	if err != nil {
		if errors.Is(err, orderbook.ErrInsufficientLiquidity) {
			e.Telemetry.Dropped("insufficient_liquidity")
			logger.Warn("Insufficient liquidity", "error", err)
		} else {
			e.Telemetry.Dropped("simulation")
			logger.Error("Order book simulation failed", "error", err)
		}
		return model.Opportunity{}, false
	}

	if opp.ProfitPercentage <= e.cfg.Arbitrage.MinProfitPercentage {
		e.Telemetry.Dropped("below_min_profit")
		logger.Debug("Opportunity below minimum profit", "profitPercentage", opp.ProfitPercentage)
		return model.Opportunity{}, false
	}
	return opp, true
}

// fetchBooks loads both legs' books under the order-book timeout. Either
// failure cancels the other request.
func (e *Engine) fetchBooks(ctx context.Context, c model.VolatilityCandidate) (buy, sell model.OrderBookSnapshot, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Arbitrage.OrderBookTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		buy, err = e.fetchBook(ctx, c.BuyExchange, c.Symbol)
		return err
	})
	g.Go(func() error {
		var err error
		sell, err = e.fetchBook(ctx, c.SellExchange, c.Symbol)
		return err
	})
	err = g.Wait()
	return buy, sell, err
}

func (e *Engine) fetchBook(ctx context.Context, exchangeName, symbol string) (model.OrderBookSnapshot, error) {
	if err := e.bookSem.Acquire(ctx, 1); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	defer e.bookSem.Release(1)

	book, err := e.market.FetchOrderBook(ctx, exchangeName, symbol)
	if err != nil {
		e.Telemetry.FetchFailed(exchangeName, "orderbook")
		return model.OrderBookSnapshot{}, fmt.Errorf("order book %s on %s: %w", symbol, exchangeName, err)
	}
	return book, nil
}

// applyRisk runs the risk gates over opps one at a time so that each accepted
// trade counts against the limits of the next.
func (e *Engine) applyRisk(logger *slog.Logger, opps []model.Opportunity) []model.Opportunity {
	accepted := make([]model.Opportunity, 0, len(opps))
	for _, opp := range opps {
		balance := e.Risk.Report().AccountBalance
		stop := e.Risk.CalculateOptimalStopLoss(opp.BuyPrice, opp.Volatility)
		if err := e.Risk.ValidateTrade(opp.BuyPrice, opp.Volume, stop, balance); err != nil {
			e.Telemetry.Dropped("risk")
			logger.Warn("Trade rejected by risk manager",
				"symbol", opp.Symbol,
				"buyExchange", opp.BuyExchange,
				"sellExchange", opp.SellExchange,
				"error", err,
			)
			continue
		}

		opp.Volume = e.Risk.AdjustPositionSize(opp.Volume)
		opp.StopLoss = stop
		opp.RiskRewardRatio = risk.RiskRewardRatio(opp.BuyPrice, stop, opp.SellPrice)
		opp.BuyTradeURL = e.market.TradeURL(opp.BuyExchange, opp.Symbol)
		opp.SellTradeURL = e.market.TradeURL(opp.SellExchange, opp.Symbol)

		e.Risk.AddTrade(model.TradeRecord{
			Symbol:       opp.Symbol,
			BuyExchange:  opp.BuyExchange,
			SellExchange: opp.SellExchange,
			Profit:       opp.Profit,
			Timestamp:    opp.Timestamp,
		})
		e.Risk.UpdateDailyPnL(opp.Profit)

		logger.Info("Profitable arbitrage opportunity found",
			"symbol", opp.Symbol,
			"buyExchange", opp.BuyExchange,
			"sellExchange", opp.SellExchange,
			"buyPrice", opp.BuyPrice,
			"sellPrice", opp.SellPrice,
			"netProfit", opp.Profit,
			"profitPercentage", opp.ProfitPercentage,
		)
		accepted = append(accepted, opp)
	}
	return accepted
}

// Rank orders opps by profit percentage times risk/reward ratio, highest first.
func Rank(opps []model.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return score(opps[i]) > score(opps[j])
	})
}

func score(o model.Opportunity) float64 {
	s := o.Score()
	if math.IsNaN(s) {
		return math.Inf(-1)
	}
	return s
}
