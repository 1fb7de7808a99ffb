package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i) + 3*math.Sin(float64(i))
	}
	return out
}

func TestEngine_Compute(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	t.Run("too short or non-positive series yields nothing", func(t *testing.T) {
		assert.Empty(t, engine.Compute(nil))
		assert.Empty(t, engine.Compute([]float64{10}))
		assert.Empty(t, engine.Compute([]float64{10, 0, 12}))
		assert.Empty(t, engine.Compute([]float64{10, -1, 12}))
	})

	t.Run("all values finite", func(t *testing.T) {
		set := engine.Compute(risingSeries(240))
		require.NotEmpty(t, set)
		for name, v := range set {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), name)
		}
		for _, name := range []string{Volatility, ADR, MeanDeviation, ROC, MaxDrawdown, Sharpe, VaR, CVaR,
			Calmar, Sortino, Momentum, CumulativeReturn, Omega, Hurst, Autocorrelation, Kurtosis, Skewness, FractalDimension} {
			_, ok := set.Get(name)
			assert.True(t, ok, name)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		prices := risingSeries(120)
		assert.Equal(t, engine.Compute(prices), engine.Compute(prices))
	})

	t.Run("simple price metrics", func(t *testing.T) {
		prices := []float64{100, 120, 90, 110, 100, 100, 100, 100, 100, 100, 100, 100, 100, 130}
		set := engine.Compute(prices)

		assert.InDelta(t, 0.3, set[ROC], 1e-12)
		assert.Equal(t, set[ROC], set[CumulativeReturn])
		assert.InDelta(t, 0.25, set[MaxDrawdown], 1e-12)
		assert.InDelta(t, 30, set[Momentum], 1e-12)
		_, ok := set.Get(ADR)
		assert.False(t, ok, "no full 24-price window")
	})

	t.Run("adr is the mean absolute range per window", func(t *testing.T) {
		prices := make([]float64, 50)
		for i := range prices {
			prices[i] = 100 + 0.5*float64(i%24)
		}
		// two full windows spanning 100..111.5, the last two prices are ignored
		prices[48], prices[49] = 500, 1
		set := engine.Compute(prices)
		assert.InDelta(t, 11.5, set[ADR], 1e-12)

		short := NewEngine(Options{ADRPeriod: 2})
		assert.InDelta(t, 3, short.Compute([]float64{10, 12, 20, 16})[ADR], 1e-12)
	})

	t.Run("hurst slope regression", func(t *testing.T) {
		prices := risingSeries(240)
		slope, ok := linearSlope([]float64{1, 2, 3, 4}, []float64{3, 5, 7, 9})
		require.True(t, ok)
		assert.InDelta(t, 2, slope, 1e-12)
		_, ok = linearSlope([]float64{1, 1, 1}, []float64{1, 2, 3})
		assert.False(t, ok)
		assert.Contains(t, engine.Compute(prices), Hurst)
	})

	t.Run("constant series keeps hurst and fractal dimension", func(t *testing.T) {
		prices := make([]float64, 50)
		for i := range prices {
			prices[i] = 42
		}
		set := engine.Compute(prices)

		assert.InDelta(t, 0, set[Hurst], 1e-12)
		assert.InDelta(t, math.Log(50)/math.Log(32), set[FractalDimension], 1e-12)
		assert.InDelta(t, 0, set[Volatility], 1e-12)
		for _, name := range []string{Kurtosis, Skewness, Autocorrelation, Sharpe, Calmar} {
			_, ok := set.Get(name)
			assert.False(t, ok, name)
		}
	})

	t.Run("two prices", func(t *testing.T) {
		set := engine.Compute([]float64{10, 11})
		assert.InDelta(t, 0.1, set[ROC], 1e-12)
		assert.InDelta(t, 1, set[FractalDimension], 1e-12)
		_, ok := set.Get(Volatility)
		assert.False(t, ok)
	})
}

func TestPercentile(t *testing.T) {
	v, ok := Percentile([]float64{4, 1, 3, 2, 5}, 5)
	require.True(t, ok)
	assert.InDelta(t, 1.2, v, 1e-12)

	v, ok = Percentile([]float64{1, 2, 3, 4}, 50)
	require.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-12)

	_, ok = Percentile(nil, 5)
	assert.False(t, ok)
}

func TestOmegaDefaults(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	v, ok := engine.omega([]float64{0.01, 0.03})
	require.True(t, ok)
	assert.InDelta(t, 0.02, v, 1e-12)

	v, ok = engine.omega([]float64{-0.02, -0.04})
	require.True(t, ok)
	assert.InDelta(t, 0, v, 1e-12)
}
