package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SignalFuse/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions      *prometheus.CounterVec
	confidence     *prometheus.HistogramVec
	orders         *prometheus.CounterVec
	closedTrades   *prometheus.CounterVec
	pnl            *prometheus.HistogramVec
	manipulation   *prometheus.CounterVec
	openTrades     prometheus.Gauge
	monitorFailure *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered with the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder's collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalfuse_decisions_total",
				Help: "Fused decisions by symbol and action",
			},
			[]string{"symbol", "action"},
		),
		confidence: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalfuse_decision_confidence",
				Help:    "Confidence of fused decisions",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"action"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalfuse_orders_total",
				Help: "Submitted orders by outcome",
			},
			[]string{"symbol", "side", "status"},
		),
		closedTrades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalfuse_closed_trades_total",
				Help: "Closed trades by exit reason",
			},
			[]string{"symbol", "reason"},
		),
		pnl: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalfuse_trade_pnl",
				Help:    "Realised P&L per closed trade",
				Buckets: []float64{-100, -10, -1, -0.1, 0, 0.1, 1, 10, 100},
			},
			[]string{"symbol"},
		),
		manipulation: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalfuse_manipulation_flags_total",
				Help: "Orders planned while volatility exceeded the manipulation threshold",
			},
			[]string{"symbol"},
		),
		openTrades: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalfuse_open_trades",
				Help: "Trades currently watched by a monitor",
			},
		),
		monitorFailure: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalfuse_monitor_failures_total",
				Help: "Monitors that exhausted their retries, by reconciliation policy",
			},
			[]string{"symbol", "policy"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalfuse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalfuse_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalfuse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordDecision(symbol string, action models.Action, confidence float64) {
	r.decisions.WithLabelValues(symbol, string(action)).Inc()
	r.confidence.WithLabelValues(string(action)).Observe(confidence)
}

func (r *Recorder) RecordOrder(symbol string, side models.Action, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	r.orders.WithLabelValues(symbol, string(side), status).Inc()
}

func (r *Recorder) RecordClosedTrade(symbol, reason string, pnl float64) {
	r.closedTrades.WithLabelValues(symbol, reason).Inc()
	r.pnl.WithLabelValues(symbol).Observe(pnl)
}

func (r *Recorder) RecordManipulation(symbol string) {
	r.manipulation.WithLabelValues(symbol).Inc()
}

func (r *Recorder) SetOpenTrades(n int) {
	r.openTrades.Set(float64(n))
}

func (r *Recorder) RecordMonitorFailure(symbol, policy string) {
	r.monitorFailure.WithLabelValues(symbol, policy).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
