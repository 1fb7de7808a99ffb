// Package volatility keeps only the exchange pairs whose recent price history
// stays inside a fixed statistical envelope.
package volatility

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"arbscout/internal/metrics"
	"arbscout/internal/model"
)

// SeriesFetcher loads the recent closing prices of symbol on an exchange.
type SeriesFetcher interface {
	FetchPriceSeries(ctx context.Context, exchange, symbol string) (model.PriceSeries, error)
}

// Band is an inclusive admissible range. With CeilingOnly set only High applies.
type Band struct {
	Low         float64
	High        float64
	CeilingOnly bool
}

// Symmetric returns the band [-limit, limit].
func Symmetric(limit float64) Band {
	return Band{Low: -limit, High: limit}
}

// Contains reports whether v lies in the band.
func (b Band) Contains(v float64) bool {
	if b.CeilingOnly {
		return v <= b.High
	}
	return v >= b.Low && v <= b.High
}

// DefaultThresholds is the admissibility table applied to both legs of a pair.
func DefaultThresholds() map[string]Band {
	return map[string]Band{
		metrics.Volatility:       Symmetric(1.2),
		metrics.ADR:              Symmetric(5),
		metrics.MeanDeviation:    Symmetric(0.75),
		metrics.ROC:              Symmetric(0.4),
		metrics.MaxDrawdown:      Symmetric(0.6),
		metrics.Sharpe:           Symmetric(2),
		metrics.VaR:              Symmetric(0.05),
		metrics.CVaR:             Symmetric(0.07),
		metrics.Calmar:           Symmetric(5),
		metrics.Sortino:          Symmetric(4),
		metrics.Momentum:         Symmetric(50),
		metrics.CumulativeReturn: Symmetric(0.5),
		metrics.Omega:            Symmetric(2),
	}
}

// Config holds the threshold table and the per-coin deadline.
type Config struct {
	Thresholds  map[string]Band
	CoinTimeout time.Duration
}

// Filter keeps the exchange pairs whose price series pass every threshold.
type Filter struct {
	logger  *slog.Logger
	fetcher SeriesFetcher
	engine  metrics.Engine
	cfg     Config
	sem     *semaphore.Weighted
}

// New builds a Filter. sem bounds concurrent price-history requests across all coins.
func New(logger *slog.Logger, fetcher SeriesFetcher, engine metrics.Engine, cfg Config, sem *semaphore.Weighted) *Filter {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.CoinTimeout <= 0 {
		cfg.CoinTimeout = 30 * time.Second
	}
	return &Filter{logger: logger, fetcher: fetcher, engine: engine, cfg: cfg, sem: sem}
}

// Admissible reports whether every thresholded metric is present and within its band.
func (f *Filter) Admissible(set model.MetricSet) bool {
	if len(set) == 0 {
		return false
	}
	for name, band := range f.cfg.Thresholds {
		v, ok := set.Get(name)
		if !ok || !band.Contains(v) {
			return false
		}
	}
	return true
}

// Evaluate fetches price history for every exchange of candidate and returns
// the admissible (buy, sell) pairs.
func (f *Filter) Evaluate(ctx context.Context, candidate model.SpreadCandidate) ([]model.VolatilityCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.CoinTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		sets = make(map[string]model.MetricSet)
		g    errgroup.Group
	)
	for _, exchange := range candidate.Exchanges() {
		exchange := exchange
		g.Go(func() error {
			if err := f.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			series, err := f.fetcher.FetchPriceSeries(ctx, exchange, candidate.Symbol)
			f.sem.Release(1)
			if err != nil {
				f.logger.Warn("VolatilityFilter: price history unavailable",
					"symbol", candidate.Symbol, "exchange", exchange, "error", err)
				return nil
			}
			if len(series.Closes) < 2 {
				f.logger.Debug("VolatilityFilter: not enough price points",
					"symbol", candidate.Symbol, "exchange", exchange, "points", len(series.Closes))
				return nil
			}
			set := f.engine.Compute(series.Closes)
			mu.Lock()
			sets[exchange] = set
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("volatility check for %s: %w", candidate.Symbol, err)
	}

	var out []model.VolatilityCandidate
	for _, buy := range candidate.BidExchanges {
		buySet, ok := sets[buy]
		if !ok || !f.Admissible(buySet) {
			continue
		}
		for _, sell := range candidate.AskExchanges {
			sellSet, ok := sets[sell]
			if !ok || !f.Admissible(sellSet) {
				continue
			}
			out = append(out, model.VolatilityCandidate{
				Symbol:         candidate.Symbol,
				BuyExchange:    buy,
				SellExchange:   sell,
				BuyVolatility:  buySet[metrics.Volatility],
				SellVolatility: sellSet[metrics.Volatility],
			})
		}
	}
	return out, nil
}

// FilterAll evaluates candidates concurrently. A failing coin is logged and skipped.
func (f *Filter) FilterAll(ctx context.Context, candidates []model.SpreadCandidate) []model.VolatilityCandidate {
	results := make([][]model.VolatilityCandidate, len(candidates))

	var g errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			pairs, err := f.Evaluate(ctx, c)
			if err != nil {
				f.logger.Warn("VolatilityFilter: candidate skipped", "symbol", c.Symbol, "error", err)
				return nil
			}
			results[i] = pairs
			return nil
		})
	}
	_ = g.Wait()

	var out []model.VolatilityCandidate
	for _, r := range results {
		out = append(out, r...)
	}
	f.logger.Info("VolatilityFilter: filter finished", "candidates", len(candidates), "pairs", len(out))
	return out
}
