package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"arbscout/internal/arbitrage"
	"arbscout/internal/cache"
	"arbscout/internal/config"
	"arbscout/internal/database"
	"arbscout/internal/exchange"
	"arbscout/internal/metrics"
	"arbscout/internal/model"
	"arbscout/internal/orderbook"
	"arbscout/internal/publisher"
	"arbscout/internal/report"
	"arbscout/internal/risk"
	"arbscout/internal/screener"
	"arbscout/internal/telemetry"
	"arbscout/internal/volatility"
)

// streamMaxAge is how long streamed quotes are served before falling back to REST.
const streamMaxAge = 10 * time.Second

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, out io.Writer) error {
	store, err := newStore(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := buildRegistry(ctx, logger, cfg, store)
	if err != nil {
		return err
	}
	logger.Info("Exchanges configured", "exchanges", registry.Names(), "cache", cfg.Cache.Backend)

	var collector *telemetry.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = telemetry.NewCollector(reg)
		shutdown := serveMetrics(logger, cfg.Metrics.Addr, reg)
		defer shutdown()
	}

	var sinks []arbitrage.Sink
	if cfg.Database.Enabled {
		repo, err := database.NewPostgresRepository(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, repo)
	}
	if cfg.Kafka.Enabled {
		pub := publisher.NewKafkaPublisher(publisher.NewKafkaWriter(cfg.Kafka), logger)
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	riskManager := risk.NewManager(riskConfig(cfg.Risk))
	filter := volatility.New(logger, registry,
		metrics.NewEngine(metrics.Options{
			RiskFreeRate: cfg.Volatility.RiskFreeRate,
			TargetReturn: cfg.Volatility.TargetReturn,
			ADRPeriod:    cfg.Volatility.ADRPeriod,
		}),
		volatility.Config{Thresholds: thresholds(cfg.Volatility.Thresholds), CoinTimeout: cfg.Volatility.CoinTimeout},
		semaphore.NewWeighted(cfg.Concurrency.PriceHistory),
	)
	engine := arbitrage.NewEngine(logger, cfg, registry, arbitrage.Components{
		Screener: screener.New(logger, screener.Config{
			SpreadLow:    cfg.Screener.SpreadLow,
			SpreadHigh:   cfg.Screener.SpreadHigh,
			BidBandWidth: cfg.Screener.BidBandWidth,
			AskBandWidth: cfg.Screener.AskBandWidth,
		}),
		Filter:    filter,
		Simulator: orderbook.NewSimulator(simulatorConfig(cfg)),
		Risk:      riskManager,
		Telemetry: collector,
		Sinks:     sinks,
	})

	show := func(opps []model.Opportunity) {
		if err := report.Print(out, opps); err != nil {
			logger.Error("Failed to print report", "error", err)
		}
		_ = report.PrintRisk(out, riskManager.Report())
	}

	if cfg.Arbitrage.Loop {
		return engine.Run(ctx, show)
	}
	opps, err := engine.RunCycle(ctx)
	if err != nil {
		return err
	}
	show(opps)
	return nil
}

func newStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "redis":
		store, err := cache.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return cache.NopStore{}, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

// buildRegistry creates one adapter per enabled exchange, wrapped in the
// cache and, where configured, a live ticker stream. Streams run until ctx ends.
func buildRegistry(ctx context.Context, logger *slog.Logger, cfg *config.Config, store cache.Store) (*exchange.Registry, error) {
	registry := exchange.NewRegistry()
	for _, name := range cfg.EnabledExchanges() {
		adapter, err := exchange.NewClient(name, logger, exchange.ClientOptionsFor(cfg, name))
		if err != nil {
			return nil, err
		}
		if cfg.Cache.Backend != "none" {
			adapter = exchange.NewCachedAdapter(adapter, store, cfg.Cache.TTL, cfg.Cache.OrderBooks, logger)
		}
		if ex := cfg.Exchanges[name]; ex.Stream && ex.StreamURL != "" {
			stream := exchange.NewBookTickerStream(logger, name, ex.StreamURL)
			go func() {
				_ = stream.Start(ctx)
			}()
			adapter = exchange.NewStreamingAdapter(adapter, stream, streamMaxAge)
		}
		registry.Register(adapter)
	}
	return registry, nil
}

func serveMetrics(logger *slog.Logger, addr string, g prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func riskConfig(r config.RiskConfig) risk.Config {
	return risk.Config{
		MaxPositionSize:   decimal.NewFromFloat(r.MaxPositionSize),
		MaxLossPercentage: decimal.NewFromFloat(r.MaxLossPercentage),
		MaxDailyLoss:      decimal.NewFromFloat(r.MaxDailyLoss),
		MaxDrawdown:       decimal.NewFromFloat(r.MaxDrawdown),
		AccountBalance:    decimal.NewFromFloat(r.AccountBalance),
		HistoryCapacity:   r.HistoryCapacity,
	}
}

// thresholds overlays configured bands on the default envelope.
func thresholds(overrides map[string]config.BandConfig) map[string]volatility.Band {
	out := volatility.DefaultThresholds()
	for name, b := range overrides {
		out[name] = volatility.Band{Low: b.Low, High: b.High, CeilingOnly: b.CeilingOnly}
	}
	return out
}

// simulatorConfig converts fee settings. Per-exchange fees are configured in
// percent, the global ones as fractions.
func simulatorConfig(cfg *config.Config) orderbook.Config {
	defaults := orderbook.Fees{
		Taker: decimal.NewFromFloat(cfg.Arbitrage.TakerFee),
		Maker: decimal.NewFromFloat(cfg.Arbitrage.MakerFee),
	}
	perExchange := make(map[string]orderbook.Fees)
	for name, ex := range cfg.Exchanges {
		if ex.TakerFeePercent == nil && ex.MakerFeePercent == nil {
			continue
		}
		fees := defaults
		if ex.TakerFeePercent != nil {
			fees.Taker = percent(*ex.TakerFeePercent)
		}
		if ex.MakerFeePercent != nil {
			fees.Maker = percent(*ex.MakerFeePercent)
		}
		perExchange[name] = fees
	}
	return orderbook.Config{
		DefaultFees:  defaults,
		ExchangeFees: perExchange,
		DepthBand:    decimal.NewFromFloat(cfg.Arbitrage.MarketDepthBand),
	}
}

func percent(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Div(decimal.NewFromInt(100))
}
