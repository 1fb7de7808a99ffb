package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/time/rate"

	"arbscout/internal/model"
)

const maxBodyBytes = 32 << 20

// ClientOptions configures the HTTP behaviour of a REST adapter.
type ClientOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryDelay        time.Duration
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
	HistoryDays       int
	HTTPClient        *http.Client
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.HistoryDays <= 0 {
		o.HistoryDays = 10
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// restClient is the shared transport of every REST adapter: request pacing,
// circuit breaking, retries and JSON decoding.
type restClient struct {
	name    string
	logger  *slog.Logger
	opts    ClientOptions
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

func newRESTClient(name string, logger *slog.Logger, opts ClientOptions) *restClient {
	opts = opts.withDefaults()
	c := &restClient{
		name:    name,
		logger:  logger.With("exchange", name),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		now:     time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// only transport failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return c
}

func (c *restClient) Name() string { return c.name }

// historyLimit is the number of hourly candles covering HistoryDays.
func (c *restClient) historyLimit() int {
	return c.opts.HistoryDays * 24
}

func (c *restClient) historyStart() time.Time {
	return c.now().Add(-time.Duration(c.opts.HistoryDays) * 24 * time.Hour)
}

// getJSON performs a GET on path and decodes the body into out, retrying
// transient failures.
func (c *restClient) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(transientErr(c.name, op, err))
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.do(ctx, op, endpoint, out)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(transientErr(c.name, op, err))
		case errors.Is(err, ErrTransient):
			c.logger.Debug("Retrying request", "op", op, "error", err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(c.opts.MaxRetries)),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

func (c *restClient) do(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return shapeErr(c.name, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return transientErr(c.name, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transientErr(c.name, op, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transientErr(c.name, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return shapeErr(c.name, op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	if err := sonnet.Unmarshal(body, out); err != nil {
		return shapeErr(c.name, op, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// number decodes JSON numbers given either bare or as strings. Booleans and
// null decode to zero so that mixed-type candle rows can be read as []number.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch s {
	case "", "null", "true", "false":
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = number(f)
	return nil
}

// levels converts [price, quantity, ...] rows, dropping malformed entries.
func levels(rows [][]number) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 || r[0] <= 0 || r[1] <= 0 {
			continue
		}
		out = append(out, model.PriceLevel{Price: float64(r[0]), Quantity: float64(r[1])})
	}
	return out
}

// bookSnapshot orders bids descending and asks ascending.
func bookSnapshot(exchange, symbol string, bids, asks [][]number) model.OrderBookSnapshot {
	b, a := levels(bids), levels(asks)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price > b[j].Price })
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price < a[j].Price })
	return model.OrderBookSnapshot{Exchange: exchange, Symbol: symbol, Bids: b, Asks: a}
}

// closes extracts chronological close prices from candle rows.
func closes(rows [][]number, tsIdx, closeIdx int) []float64 {
	type candle struct{ ts, close float64 }
	cs := make([]candle, 0, len(rows))
	need := max(tsIdx, closeIdx)
	for _, r := range rows {
		if len(r) <= need || r[closeIdx] <= 0 {
			continue
		}
		cs = append(cs, candle{ts: float64(r[tsIdx]), close: float64(r[closeIdx])})
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].ts < cs[j].ts })
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.close
	}
	return out
}

// quote builds a ticker quote, reporting false for unusable prices.
func quote(exchange, nativeSymbol string, bid, ask number) (model.TickerQuote, bool) {
	q := model.TickerQuote{Exchange: exchange, Symbol: Canonical(nativeSymbol), Bid: float64(bid), Ask: float64(ask)}
	return q, q.Valid() && q.Symbol != ""
}
