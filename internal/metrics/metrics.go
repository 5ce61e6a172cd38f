// Package metrics provides Prometheus instrumentation for the run controller.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/lehacf-git/castle-bot/internal/domain"
)

// Metrics implements runner.Observer.
type Metrics struct {
	// Decisions counts decisions by outcome and skip reason ("" for accepts).
	Decisions *prometheus.CounterVec
	// Trades counts trade records by executor and status.
	Trades *prometheus.CounterVec
	// Notional sums trade notional in USD by status.
	Notional *prometheus.CounterVec
	// TickDuration observes wall time per tick.
	TickDuration prometheus.Histogram
	// MarketsEvaluated is the number of markets in the last tick.
	MarketsEvaluated prometheus.Gauge
	// Exposure is the committed notional after the last tick.
	Exposure prometheus.Gauge
	// Ticks counts completed ticks.
	Ticks prometheus.Counter
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castle_decisions_total",
			Help: "Decisions by outcome and skip reason",
		}, []string{"outcome", "reason"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castle_trades_total",
			Help: "Trade records by executor and status",
		}, []string{"executor", "status"}),
		Notional: f.NewCounterVec(prometheus.CounterOpts{
			Name: "castle_trade_notional_usd_total",
			Help: "Cumulative trade notional in USD",
		}, []string{"status"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "castle_tick_duration_seconds",
			Help:    "Tick duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		MarketsEvaluated: f.NewGauge(prometheus.GaugeOpts{
			Name: "castle_markets_evaluated",
			Help: "Markets evaluated in the last tick",
		}),
		Exposure: f.NewGauge(prometheus.GaugeOpts{
			Name: "castle_exposure_usd",
			Help: "Committed notional after the last tick",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "castle_ticks_total",
			Help: "Completed ticks",
		}),
	}
}

func (m *Metrics) ObserveDecision(d domain.Decision) {
	m.Decisions.WithLabelValues(string(d.Outcome()), string(d.Reason())).Inc()
}

func (m *Metrics) ObserveTrade(t domain.Trade) {
	m.Trades.WithLabelValues(string(t.Executor), string(t.Status)).Inc()
	m.Notional.WithLabelValues(string(t.Status)).Add(t.Notional.InexactFloat64())
}

func (m *Metrics) ObserveTick(elapsed time.Duration, markets int) {
	m.Ticks.Inc()
	m.TickDuration.Observe(elapsed.Seconds())
	m.MarketsEvaluated.Set(float64(markets))
}

func (m *Metrics) ObserveExposure(total decimal.Decimal) {
	m.Exposure.Set(total.InexactFloat64())
}

// Handler returns the Prometheus metrics HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
