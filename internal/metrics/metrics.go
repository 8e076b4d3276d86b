package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for the trading engine.
type Metrics struct {
	registry      *prometheus.Registry
	orderOpened   *prometheus.CounterVec
	orderRejected *prometheus.CounterVec
	orderClosed   *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	openLatency   prometheus.Histogram
	settleDelay   prometheus.Histogram
	queueDepth    prometheus.Gauge
}

// New creates a metrics registry and registers engine metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	orderOpened := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_order_opened_total",
		Help: "Total number of opened orders.",
	}, []string{"symbol", "product", "direction"})

	orderRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_order_rejected_total",
		Help: "Total number of rejected order requests.",
	}, []string{"reason"})

	orderClosed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_order_closed_total",
		Help: "Total number of closed orders.",
	}, []string{"status"})

	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "binary_settlement_total",
		Help: "Total number of binary option settlements.",
	}, []string{"outcome"})

	openLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trade_order_open_latency_seconds",
		Help:    "Latency for order opening in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	settleDelay := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "binary_settle_delay_seconds",
		Help:    "Delay between theoretical expiry and actual settlement.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settle_queue_depth",
		Help: "Current number of pending settlement jobs.",
	})

	registry.MustRegister(orderOpened, orderRejected, orderClosed, settlements, openLatency, settleDelay, queueDepth)

	return &Metrics{
		registry:      registry,
		orderOpened:   orderOpened,
		orderRejected: orderRejected,
		orderClosed:   orderClosed,
		settlements:   settlements,
		openLatency:   openLatency,
		settleDelay:   settleDelay,
		queueDepth:    queueDepth,
	}
}

// Handler exposes the metrics registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncOrderOpened increments the opened order counter.
func (m *Metrics) IncOrderOpened(symbol, product, direction string) {
	if m == nil {
		return
	}
	m.orderOpened.WithLabelValues(symbol, product, direction).Inc()
}

// IncOrderRejected increments the rejected order counter.
func (m *Metrics) IncOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.orderRejected.WithLabelValues(reason).Inc()
}

// IncOrderClosed increments the closed order counter.
func (m *Metrics) IncOrderClosed(status string) {
	if m == nil {
		return
	}
	m.orderClosed.WithLabelValues(status).Inc()
}

// IncSettlement increments the settlement counter.
func (m *Metrics) IncSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// ObserveOpenLatency records order open latency.
func (m *Metrics) ObserveOpenLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.openLatency.Observe(d.Seconds())
}

// ObserveSettleDelay records settlement delay past theoretical expiry.
func (m *Metrics) ObserveSettleDelay(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.settleDelay.Observe(d.Seconds())
}

// SetQueueDepth sets the pending settlement jobs gauge.
func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
