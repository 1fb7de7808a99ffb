// Package screener performs the coarse cross-exchange spread screen.
package screener

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"arbscout/internal/model"
)

// Config bounds the admissible spread, in percent.
type Config struct {
	SpreadLow  float64
	SpreadHigh float64
	// BidBandWidth widens the bid set to [min_bid, min_bid*BidBandWidth].
	BidBandWidth float64
	// AskBandWidth widens the ask set to [max_ask*AskBandWidth, max_ask].
	AskBandWidth float64
}

// DefaultConfig accepts spreads between 4% and 75% with no band widening.
func DefaultConfig() Config {
	return Config{SpreadLow: 4, SpreadHigh: 75, BidBandWidth: 1, AskBandWidth: 1}
}

// Screener turns common coins into spread candidates.
type Screener struct {
	logger *slog.Logger
	cfg    Config
}

// New returns a Screener.
func New(logger *slog.Logger, cfg Config) *Screener {
	return &Screener{logger: logger, cfg: cfg}
}

// BuildCommonCoins groups valid quotes by symbol and keeps symbols quoted on at
// least two exchanges, ordered by symbol.
func BuildCommonCoins(quotes map[string][]model.TickerQuote) []model.CommonCoin {
	bySymbol := make(map[string]map[string]model.Quote)
	for exchange, list := range quotes {
		for _, q := range list {
			if !q.Valid() || q.Symbol == "" {
				continue
			}
			m, ok := bySymbol[q.Symbol]
			if !ok {
				m = make(map[string]model.Quote)
				bySymbol[q.Symbol] = m
			}
			m[exchange] = model.Quote{Bid: q.Bid, Ask: q.Ask}
		}
	}

	coins := make([]model.CommonCoin, 0, len(bySymbol))
	for symbol, m := range bySymbol {
		if len(m) < 2 {
			continue
		}
		coins = append(coins, model.CommonCoin{Symbol: symbol, Quotes: m})
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].Symbol < coins[j].Symbol })
	return coins
}

// Screen returns the spread candidate for coin, or false when the coin shows no
// usable cross-exchange spread.
func (s *Screener) Screen(coin model.CommonCoin) (model.SpreadCandidate, bool) {
	minBid, maxAsk := math.Inf(1), math.Inf(-1)
	for _, q := range coin.Quotes {
		if q.Bid <= 0 || q.Ask <= 0 {
			continue
		}
		minBid = math.Min(minBid, q.Bid)
		maxAsk = math.Max(maxAsk, q.Ask)
	}
	if math.IsInf(minBid, 0) || math.IsInf(maxAsk, 0) || minBid >= maxAsk {
		return model.SpreadCandidate{}, false
	}

	bidCeil := minBid * s.cfg.BidBandWidth
	askFloor := maxAsk * s.cfg.AskBandWidth
	var bidSet, askSet []string
	for exchange, q := range coin.Quotes {
		if q.Bid <= 0 || q.Ask <= 0 {
			continue
		}
		inBid := q.Bid >= minBid && q.Bid <= bidCeil
		inAsk := q.Ask >= askFloor && q.Ask <= maxAsk
		if inBid && inAsk {
			// the same venue would be both legs; the whole coin is unusable
			s.logger.Debug("Screener: bid and ask sets overlap", "symbol", coin.Symbol, "exchange", exchange)
			return model.SpreadCandidate{}, false
		}
		if inBid {
			bidSet = append(bidSet, exchange)
		}
		if inAsk {
			askSet = append(askSet, exchange)
		}
	}
	if len(bidSet) == 0 || len(askSet) == 0 {
		return model.SpreadCandidate{}, false
	}

	spread := (maxAsk - minBid) / minBid * 100
	if spread < s.cfg.SpreadLow || spread > s.cfg.SpreadHigh {
		return model.SpreadCandidate{}, false
	}

	sort.Strings(bidSet)
	sort.Strings(askSet)
	return model.SpreadCandidate{
		Symbol:        coin.Symbol,
		BidExchanges:  bidSet,
		AskExchanges:  askSet,
		MinBid:        minBid,
		MaxAsk:        maxAsk,
		SpreadPercent: spread,
	}, true
}

// ScreenAll screens coins concurrently and returns the candidates in input order.
func (s *Screener) ScreenAll(ctx context.Context, coins []model.CommonCoin) []model.SpreadCandidate {
	results := make([]*model.SpreadCandidate, len(coins))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, coin := range coins {
		i, coin := i, coin
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if c, ok := s.Screen(coin); ok {
				results[i] = &c
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.SpreadCandidate, 0, len(coins))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	s.logger.Info("Screener: spread screen finished", "coins", len(coins), "candidates", len(out))
	return out
}
