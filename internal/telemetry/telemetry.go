// Package telemetry exports pipeline counters to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbscout"

// Collector records cycle statistics. A nil *Collector discards everything.
type Collector struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	stageSize     *prometheus.GaugeVec
	fetchErrors   *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	opportunities prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycles_total",
			Help:      "Completed pipeline cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a pipeline cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		stageSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_items",
			Help:      "Items that survived each stage in the last cycle.",
		}, []string{"stage"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "fetch_errors_total",
			Help:      "Failed exchange requests.",
		}, []string{"exchange", "op"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "candidates_dropped_total",
			Help:      "Candidates dropped during analysis by reason.",
		}, []string{"reason"}),
		opportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "opportunities",
			Help:      "Opportunities reported by the last cycle.",
		}),
	}
	reg.MustRegister(c.cycles, c.cycleDuration, c.stageSize, c.fetchErrors, c.dropped, c.opportunities)
	return c
}

func (c *Collector) ObserveCycle(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.cycles.WithLabelValues(result).Inc()
	c.cycleDuration.Observe(d.Seconds())
}

func (c *Collector) SetStage(stage string, n int) {
	if c == nil {
		return
	}
	c.stageSize.WithLabelValues(stage).Set(float64(n))
}

func (c *Collector) FetchFailed(exchange, op string) {
	if c == nil {
		return
	}
	c.fetchErrors.WithLabelValues(exchange, op).Inc()
}

func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) SetOpportunities(n int) {
	if c == nil {
		return
	}
	c.opportunities.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
