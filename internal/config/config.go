package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the configuration cannot be used to run a cycle.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config stores all configuration for the application.
// The values are read by viper from a config file, environment variables or flags.
type Config struct {
	Arbitrage   ArbitrageConfig           `mapstructure:"arbitrage"`
	Screener    ScreenerConfig            `mapstructure:"screener"`
	Volatility  VolatilityConfig          `mapstructure:"volatility"`
	Risk        RiskConfig                `mapstructure:"risk"`
	Concurrency ConcurrencyConfig         `mapstructure:"concurrency"`
	HTTP        HTTPConfig                `mapstructure:"http"`
	Exchanges   map[string]ExchangeConfig `mapstructure:"exchanges"`
	Cache       CacheConfig               `mapstructure:"cache"`
	Database    DatabaseConfig            `mapstructure:"database"`
	Kafka       KafkaConfig               `mapstructure:"kafka"`
	Metrics     MetricsConfig             `mapstructure:"metrics"`
	Log         LogConfig                 `mapstructure:"log"`
}

// ArbitrageConfig defines the pipeline settings.
type ArbitrageConfig struct {
	MinProfitPercentage float64       `mapstructure:"min_profit_percentage"`
	MaxTradeVolume      float64       `mapstructure:"max_trade_volume"`
	TargetVolume        float64       `mapstructure:"target_volume"`
	PollIntervalSeconds int           `mapstructure:"poll_interval_seconds"`
	Loop                bool          `mapstructure:"loop"`
	MaxCandidates       int           `mapstructure:"max_candidates"`
	OpportunityTimeout  time.Duration `mapstructure:"opportunity_timeout"`
	OrderBookTimeout    time.Duration `mapstructure:"orderbook_timeout"`
	TakerFee            float64       `mapstructure:"taker_fee"`
	MakerFee            float64       `mapstructure:"maker_fee"`
	MarketDepthBand     float64       `mapstructure:"market_depth_band"`
}

// PollInterval is the pause between pipeline runs.
func (a ArbitrageConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// ScreenerConfig defines the spread window.
type ScreenerConfig struct {
	SpreadLow    float64 `mapstructure:"spread_low"`
	SpreadHigh   float64 `mapstructure:"spread_high"`
	BidBandWidth float64 `mapstructure:"bid_band_width"`
	AskBandWidth float64 `mapstructure:"ask_band_width"`
}

// VolatilityConfig defines the metric thresholds.
type VolatilityConfig struct {
	RiskFreeRate float64               `mapstructure:"risk_free_rate"`
	TargetReturn float64               `mapstructure:"target_return"`
	ADRPeriod    int                   `mapstructure:"adr_period"`
	HistoryDays  int                   `mapstructure:"history_days"`
	CoinTimeout  time.Duration         `mapstructure:"coin_timeout"`
	Thresholds   map[string]BandConfig `mapstructure:"thresholds"`
}

// BandConfig is one threshold range.
type BandConfig struct {
	Low         float64 `mapstructure:"low"`
	High        float64 `mapstructure:"high"`
	CeilingOnly bool    `mapstructure:"ceiling_only"`
}

// RiskConfig percentages are fractions, e.g. 0.02 for 2%.
type RiskConfig struct {
	MaxPositionSize   float64 `mapstructure:"max_position_size"`
	MaxLossPercentage float64 `mapstructure:"max_loss_percentage"`
	MaxDailyLoss      float64 `mapstructure:"max_daily_loss"`
	MaxDrawdown       float64 `mapstructure:"max_drawdown"`
	AccountBalance    float64 `mapstructure:"account_balance"`
	HistoryCapacity   int     `mapstructure:"history_capacity"`
}

// ConcurrencyConfig bounds in-flight requests per dependency class.
type ConcurrencyConfig struct {
	Tickers      int64 `mapstructure:"tickers"`
	PriceHistory int64 `mapstructure:"price_history"`
	OrderBooks   int64 `mapstructure:"orderbooks"`
}

// HTTPConfig holds the defaults shared by every REST exchange adapter.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	BaseURL           string   `mapstructure:"base_url"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	TakerFeePercent   *float64 `mapstructure:"taker_fee_percent"`
	MakerFeePercent   *float64 `mapstructure:"maker_fee_percent"`
	Stream            bool     `mapstructure:"stream"`
	StreamURL         string   `mapstructure:"stream_url"`
}

// CacheConfig selects the market data cache backend.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	OrderBooks bool          `mapstructure:"orderbooks"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig defines the redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// ConnString returns the postgres URL for pgx.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// KafkaConfig defines where opportunities are published.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig defines the prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig defines the slog handler and lumberjack rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// KnownExchanges lists the exchange ids the adapters support.
var KnownExchanges = []string{"binance", "bitget", "htx", "okx", "kucoin", "bybit", "mexc", "gateio"}

var defaultBaseURLs = map[string]string{
	"binance": "https://api.binance.com",
	"bitget":  "https://api.bitget.com",
	"htx":     "https://api.huobi.pro",
	"okx":     "https://www.okx.com",
	"kucoin":  "https://api.kucoin.com",
	"bybit":   "https://api.bybit.com",
	"mexc":    "https://api.mexc.com",
	"gateio":  "https://api.gateio.ws",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arbitrage.min_profit_percentage", 0.5)
	v.SetDefault("arbitrage.max_trade_volume", 1000.0)
	v.SetDefault("arbitrage.target_volume", 150.0)
	v.SetDefault("arbitrage.poll_interval_seconds", 300)
	v.SetDefault("arbitrage.loop", false)
	v.SetDefault("arbitrage.max_candidates", 100)
	v.SetDefault("arbitrage.opportunity_timeout", "30s")
	v.SetDefault("arbitrage.orderbook_timeout", "20s")
	v.SetDefault("arbitrage.taker_fee", 0.002)
	v.SetDefault("arbitrage.maker_fee", 0.001)
	v.SetDefault("arbitrage.market_depth_band", 0.01)

	v.SetDefault("screener.spread_low", 4.0)
	v.SetDefault("screener.spread_high", 75.0)
	v.SetDefault("screener.bid_band_width", 1.0)
	v.SetDefault("screener.ask_band_width", 1.0)

	v.SetDefault("volatility.risk_free_rate", 0.0)
	v.SetDefault("volatility.target_return", 0.0)
	v.SetDefault("volatility.adr_period", 24)
	v.SetDefault("volatility.history_days", 10)
	v.SetDefault("volatility.coin_timeout", "30s")

	v.SetDefault("risk.max_position_size", 0.0)
	v.SetDefault("risk.max_loss_percentage", 0.02)
	v.SetDefault("risk.max_daily_loss", 0.05)
	v.SetDefault("risk.max_drawdown", 0.1)
	v.SetDefault("risk.account_balance", 10000.0)
	v.SetDefault("risk.history_capacity", 1000)

	v.SetDefault("concurrency.tickers", 10)
	v.SetDefault("concurrency.price_history", 10)
	v.SetDefault("concurrency.orderbooks", 5)

	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay", "1s")
	v.SetDefault("http.requests_per_second", 10.0)
	v.SetDefault("http.burst", 10)
	v.SetDefault("http.breaker_failures", 5)
	v.SetDefault("http.breaker_cooldown", "30s")

	for _, name := range KnownExchanges {
		v.SetDefault("exchanges."+name+".enabled", true)
		v.SetDefault("exchanges."+name+".base_url", defaultBaseURLs[name])
	}
	v.SetDefault("exchanges.binance.stream_url", "wss://stream.binance.com:9443/ws/!bookTicker")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("cache.orderbooks", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arbscout")
	v.SetDefault("database.dbname", "arbscout")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "arbscout.opportunities")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
}

// RegisterFlags adds the command-line overrides to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Float64("min-profit", 0.5, "minimum net profit percentage")
	fs.Float64("max-volume", 1000, "maximum trade volume in quote currency")
	fs.Float64("target-volume", 150, "notional to simulate per opportunity")
	fs.Int("interval", 300, "seconds between cycles in loop mode")
	fs.Bool("loop", false, "run continuously")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "rotating log file path")
}

var flagKeys = map[string]string{
	"min-profit":    "arbitrage.min_profit_percentage",
	"max-volume":    "arbitrage.max_trade_volume",
	"target-volume": "arbitrage.target_volume",
	"interval":      "arbitrage.poll_interval_seconds",
	"loop":          "arbitrage.loop",
	"log-level":     "log.level",
	"log-file":      "log.file",
}

// LoadConfig reads configuration from path/config.yaml, a .env file, environment
// variables prefixed with ARBSCOUT_ and any flags in fs. A missing config file is
// not an error. The result is validated.
func LoadConfig(path string, fs *pflag.FlagSet) (config Config, err error) {
	if err = godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("arbscout")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err = v.BindPFlag(key, f); err != nil {
					return config, err
				}
			}
		}
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	if config.Risk.MaxPositionSize <= 0 {
		config.Risk.MaxPositionSize = config.Arbitrage.MaxTradeVolume
	}
	err = config.Validate()
	return config, err
}

// EnabledExchanges returns the enabled exchange ids in a stable order.
func (c Config) EnabledExchanges() []string {
	var out []string
	for _, name := range KnownExchanges {
		if ex, ok := c.Exchanges[name]; ok && ex.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	a := c.Arbitrage
	check(a.MinProfitPercentage >= 0, "arbitrage.min_profit_percentage must not be negative")
	check(a.TargetVolume > 0, "arbitrage.target_volume must be positive")
	check(a.MaxTradeVolume > 0, "arbitrage.max_trade_volume must be positive")
	check(a.TargetVolume <= a.MaxTradeVolume, "arbitrage.target_volume %.2f exceeds max_trade_volume %.2f", a.TargetVolume, a.MaxTradeVolume)
	check(!a.Loop || a.PollIntervalSeconds > 0, "arbitrage.poll_interval_seconds must be positive in loop mode")
	check(a.MaxCandidates > 0, "arbitrage.max_candidates must be positive")
	check(a.OpportunityTimeout > 0 && a.OrderBookTimeout > 0, "arbitrage timeouts must be positive")
	check(a.TakerFee >= 0 && a.TakerFee < 1, "arbitrage.taker_fee must be in [0, 1)")
	check(a.MakerFee >= 0 && a.MakerFee < 1, "arbitrage.maker_fee must be in [0, 1)")
	check(a.MarketDepthBand > 0 && a.MarketDepthBand < 1, "arbitrage.market_depth_band must be in (0, 1)")

	s := c.Screener
	check(s.SpreadLow >= 0 && s.SpreadLow < s.SpreadHigh, "screener spread band [%.2f, %.2f] is empty", s.SpreadLow, s.SpreadHigh)
	check(s.BidBandWidth >= 1, "screener.bid_band_width must be >= 1")
	check(s.AskBandWidth > 0 && s.AskBandWidth <= 1, "screener.ask_band_width must be in (0, 1]")

	check(c.Volatility.ADRPeriod > 0, "volatility.adr_period must be positive")
	check(c.Volatility.HistoryDays > 0, "volatility.history_days must be positive")
	for name, b := range c.Volatility.Thresholds {
		check(b.CeilingOnly || b.Low <= b.High, "volatility.thresholds.%s has low > high", name)
	}

	r := c.Risk
	check(r.AccountBalance > 0, "risk.account_balance must be positive")
	check(r.MaxPositionSize > 0, "risk.max_position_size must be positive")
	for name, v := range map[string]float64{
		"max_loss_percentage": r.MaxLossPercentage,
		"max_daily_loss":      r.MaxDailyLoss,
		"max_drawdown":        r.MaxDrawdown,
	} {
		check(v > 0 && v <= 1, "risk.%s must be in (0, 1]", name)
	}

	check(c.Concurrency.Tickers > 0 && c.Concurrency.PriceHistory > 0 && c.Concurrency.OrderBooks > 0,
		"concurrency limits must be positive")
	check(c.HTTP.Timeout > 0, "http.timeout must be positive")
	check(c.HTTP.RequestsPerSecond > 0, "http.requests_per_second must be positive")

	for name := range c.Exchanges {
		check(isKnownExchange(name), "unknown exchange %q", name)
	}
	check(len(c.EnabledExchanges()) >= 2, "at least two exchanges must be enabled")

	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		check(false, "cache.backend %q must be memory, redis or none", c.Cache.Backend)
	}
	check(c.Cache.Backend == "none" || c.Cache.TTL > 0, "cache.ttl must be positive")
	check(!c.Kafka.Enabled || (len(c.Kafka.Brokers) > 0 && c.Kafka.Topic != ""), "kafka requires brokers and a topic")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func isKnownExchange(name string) bool {
	for _, n := range KnownExchanges {
		if n == name {
			return true
		}
	}
	return false
}
