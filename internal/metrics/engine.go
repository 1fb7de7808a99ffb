// Package metrics computes statistical indicators over a closing-price series.
package metrics

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"arbscout/internal/model"
)

// Metric names as stored in a model.MetricSet.
const (
	Volatility       = "volatility"
	ADR              = "adr"
	MeanDeviation    = "mean_deviation"
	ROC              = "roc"
	MaxDrawdown      = "max_drawdown"
	Sharpe           = "sharpe"
	VaR              = "var"
	CVaR             = "cvar"
	Calmar           = "calmar"
	Sortino          = "sortino"
	Momentum         = "momentum"
	CumulativeReturn = "cumulative_return"
	Omega            = "omega"
	Hurst            = "hurst"
	Autocorrelation  = "autocorrelation"
	Kurtosis         = "kurtosis"
	Skewness         = "skewness"
	FractalDimension = "fractal_dimension"
)

const (
	periodsPerYear = 240 // hourly samples over the ten-day window used for annualisation
	tradingDays    = 252
	momentumLag    = 14
	maxHurstLag    = 100
	epsilon        = 1e-8
	varPercentile  = 5
)

// Options tunes the return-based metrics.
type Options struct {
	RiskFreeRate float64
	TargetReturn float64
	ADRPeriod    int
}

// DefaultOptions uses a zero risk-free rate and target return with daily ADR windows.
func DefaultOptions() Options {
	return Options{ADRPeriod: 24}
}

// Engine is stateless; Compute is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine, filling in a missing ADR period.
func NewEngine(opts Options) Engine {
	if opts.ADRPeriod <= 0 {
		opts.ADRPeriod = DefaultOptions().ADRPeriod
	}
	return Engine{opts: opts}
}

// Compute returns every metric that can be derived from prices. It returns an
// empty set when fewer than two prices are given or any price is not positive.
func (e Engine) Compute(prices []float64) model.MetricSet {
	out := model.MetricSet{}
	if len(prices) < 2 {
		return out
	}
	for _, p := range prices {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return out
		}
	}

	logReturns := make([]float64, len(prices)-1)
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		logReturns[i-1] = math.Log(prices[i] / prices[i-1])
		returns[i-1] = prices[i]/prices[i-1] - 1
	}

	maxDD := maxDrawdown(prices)
	roc := (prices[len(prices)-1] - prices[0]) / prices[0]

	set := func(name string, v float64, ok bool) {
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	setFrom := func(name string, f func() (float64, bool)) {
		v, ok := f()
		set(name, v, ok)
	}

	setFrom(Volatility, func() (float64, bool) { return e.volatility(logReturns) })
	setFrom(ADR, func() (float64, bool) { return e.adr(prices) })
	setFrom(MeanDeviation, func() (float64, bool) { return meanDeviation(prices) })
	set(ROC, roc, true)
	set(CumulativeReturn, roc, true)
	set(MaxDrawdown, maxDD, true)
	setFrom(Sharpe, func() (float64, bool) { return e.sharpe(returns) })
	setFrom(Sortino, func() (float64, bool) { return e.sortino(returns) })
	setFrom(Calmar, func() (float64, bool) { return calmar(logReturns, maxDD) })
	setFrom(Momentum, func() (float64, bool) { return momentum(prices) })
	setFrom(Omega, func() (float64, bool) { return e.omega(returns) })
	setFrom(Hurst, func() (float64, bool) { return hurst(prices) })
	setFrom(Autocorrelation, func() (float64, bool) { return autocorrelation(prices) })
	setFrom(FractalDimension, func() (float64, bool) { return fractalDimension(len(prices)) })

	if v, ok := percentile(logReturns, varPercentile); ok {
		set(VaR, v, true)
		cvar, ok := tailMean(logReturns, v)
		set(CVaR, cvar, ok)
	}

	if shapeDefined(prices) {
		set(Kurtosis, kurtosis(prices), true)
		set(Skewness, skewness(prices), true)
	}
	return out
}

func (e Engine) volatility(logReturns []float64) (float64, bool) {
	if len(logReturns) < 2 {
		return 0, false
	}
	sd, err := stats.StandardDeviationSample(logReturns)
	if err != nil {
		return 0, false
	}
	return sd * math.Sqrt(periodsPerYear), true
}

// adr averages the absolute high-low range over non-overlapping windows of
// ADRPeriod prices. A trailing partial window is ignored.
func (e Engine) adr(prices []float64) (float64, bool) {
	period := e.opts.ADRPeriod
	var ranges []float64
	for i := 0; i+period <= len(prices); i += period {
		window := prices[i : i+period]
		hi, _ := stats.Max(window)
		lo, _ := stats.Min(window)
		ranges = append(ranges, hi-lo)
	}
	if len(ranges) == 0 {
		return 0, false
	}
	m, err := stats.Mean(ranges)
	return m, err == nil
}

func meanDeviation(prices []float64) (float64, bool) {
	mean, err := stats.Mean(prices)
	if err != nil {
		return 0, false
	}
	dev := make([]float64, len(prices))
	for i, p := range prices {
		dev[i] = math.Abs(p - mean)
	}
	m, err := stats.Mean(dev)
	return m, err == nil
}

func maxDrawdown(prices []float64) float64 {
	peak := prices[0]
	var worst float64
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if dd := (peak - p) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

func (e Engine) sharpe(returns []float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}
	mean, _ := stats.Mean(returns)
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 {
		return 0, false
	}
	return (mean - e.opts.RiskFreeRate/tradingDays) / sd * math.Sqrt(tradingDays), true
}

func (e Engine) sortino(returns []float64) (float64, bool) {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0, false
	}
	sd, err := stats.StandardDeviationSample(downside)
	if err != nil || sd == 0 {
		return 0, false
	}
	mean, _ := stats.Mean(returns)
	return (mean - e.opts.RiskFreeRate/tradingDays) / sd * math.Sqrt(tradingDays), true
}

func calmar(logReturns []float64, maxDD float64) (float64, bool) {
	if maxDD == 0 {
		return 0, false
	}
	mean, err := stats.Mean(logReturns)
	if err != nil {
		return 0, false
	}
	return mean * periodsPerYear / maxDD, true
}

func momentum(prices []float64) (float64, bool) {
	if len(prices) < momentumLag {
		return 0, false
	}
	return prices[len(prices)-1] - prices[len(prices)-momentumLag], true
}

// omega defaults the gain side to 0 and the loss side to 1 when either is empty.
func (e Engine) omega(returns []float64) (float64, bool) {
	var above, below []float64
	for _, r := range returns {
		switch {
		case r > e.opts.TargetReturn:
			above = append(above, r)
		case r < e.opts.TargetReturn:
			below = append(below, r)
		}
	}
	gain, loss := 0.0, 1.0
	if len(above) > 0 {
		gain, _ = stats.Mean(above)
	}
	if len(below) > 0 {
		m, _ := stats.Mean(below)
		loss = math.Abs(m)
	}
	if loss == 0 {
		return 0, false
	}
	return gain / loss, true
}

func hurst(prices []float64) (float64, bool) {
	upper := min(maxHurstLag, len(prices)/2)
	var xs, ys []float64
	for lag := 2; lag < upper; lag++ {
		diffs := make([]float64, len(prices)-lag)
		for i := range diffs {
			diffs[i] = prices[i+lag] - prices[i]
		}
		tau, err := stats.StandardDeviationPopulation(diffs)
		if err != nil {
			return 0, false
		}
		xs = append(xs, math.Log(float64(lag)+epsilon))
		ys = append(ys, math.Log(tau+epsilon))
	}
	slope, ok := linearSlope(xs, ys)
	if !ok {
		return 0, false
	}
	return slope * 2, true
}

func autocorrelation(prices []float64) (float64, bool) {
	if len(prices) < 3 {
		return 0, false
	}
	a, b := prices[:len(prices)-1], prices[1:]
	sa, _ := stats.StandardDeviationPopulation(a)
	sb, _ := stats.StandardDeviationPopulation(b)
	if sa == 0 || sb == 0 {
		return 0, false
	}
	r, err := stats.Correlation(a, b)
	return r, err == nil
}

// fractalDimension doubles a lag until it exceeds n and returns log(n)/log(lag/2).
func fractalDimension(n int) (float64, bool) {
	lag := 2
	for n >= lag {
		lag *= 2
	}
	if lag <= 2 {
		return 0, false
	}
	return math.Log(float64(n)) / math.Log(float64(lag)/2), true
}

func shapeDefined(prices []float64) bool {
	sd, err := stats.StandardDeviationPopulation(prices)
	if err != nil || sd <= epsilon {
		return false
	}
	hi, _ := stats.Max(prices)
	lo, _ := stats.Min(prices)
	return hi-lo > epsilon
}

// centralMoment is the biased k-th moment about the mean.
func centralMoment(xs []float64, k float64) float64 {
	mean, _ := stats.Mean(xs)
	var sum float64
	for _, x := range xs {
		sum += math.Pow(x-mean, k)
	}
	return sum / float64(len(xs))
}

// kurtosis is the biased Fisher (excess) kurtosis.
func kurtosis(xs []float64) float64 {
	m2 := centralMoment(xs, 2)
	return centralMoment(xs, 4)/(m2*m2) - 3
}

func skewness(xs []float64) float64 {
	m2 := centralMoment(xs, 2)
	return centralMoment(xs, 3) / math.Pow(m2, 1.5)
}

// percentile interpolates linearly between closest ranks.
func percentile(xs []float64, q float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo)), true
}

// Percentile exposes the interpolated percentile for other risk calculations.
func Percentile(xs []float64, q float64) (float64, bool) {
	return percentile(xs, q)
}

func tailMean(xs []float64, cutoff float64) (float64, bool) {
	var tail []float64
	for _, x := range xs {
		if x <= cutoff {
			tail = append(tail, x)
		}
	}
	if len(tail) == 0 {
		return 0, false
	}
	m, err := stats.Mean(tail)
	return m, err == nil
}

// linearSlope is the least-squares slope of ys over xs.
func linearSlope(xs, ys []float64) (float64, bool) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, false
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0, false
	}
	return beta, true
}
