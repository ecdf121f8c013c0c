package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks ledger calls and order-book activity.
type MarketMetrics struct {
	calls           *prometheus.CounterVec
	callLatency     *prometheus.HistogramVec
	ordersListed    prometheus.Counter
	trades          *prometheus.CounterVec
	optionsExpired  prometheus.Counter
	clawbackFailed  prometheus.Counter
	sweepDuration   prometheus.Histogram
	marketPrice     prometheus.Gauge
	orderBookLength prometheus.Gauge
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hm",
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Ledger calls segmented by entry point and outcome.",
			}, []string{"method", "outcome"}),
			callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hm",
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Execution latency of ledger calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			ordersListed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "orders_listed_total",
				Help:      "Orders appended to the order book.",
			}),
			trades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "fills_total",
				Help:      "Order fills by kind (buy, option, consume, exercise).",
			}, []string{"kind"}),
			optionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "options_expired_total",
				Help:      "Options reverted to their seller by the expiry sweep.",
			}),
			clawbackFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "option_clawback_failures_total",
				Help:      "Expired options whose taker could not cover the claw-back.",
			}),
			sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "expiry_sweep_duration_seconds",
				Help:      "Time spent scanning the order book for expired options.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			}),
			marketPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "unit_price",
				Help:      "Last-trade unit price in native asset per HM token.",
			}),
			orderBookLength: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hm",
				Subsystem: "market",
				Name:      "order_book_length",
				Help:      "Number of orders ever listed.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.calls,
			marketRegistry.callLatency,
			marketRegistry.ordersListed,
			marketRegistry.trades,
			marketRegistry.optionsExpired,
			marketRegistry.clawbackFailed,
			marketRegistry.sweepDuration,
			marketRegistry.marketPrice,
			marketRegistry.orderBookLength,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveCall(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *MarketMetrics) ObserveListed(length uint64) {
	if m == nil {
		return
	}
	m.ordersListed.Inc()
	m.orderBookLength.Set(float64(length))
}

func (m *MarketMetrics) ObserveFill(kind string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(kind).Inc()
}

func (m *MarketMetrics) ObserveExpired() {
	if m == nil {
		return
	}
	m.optionsExpired.Inc()
}

func (m *MarketMetrics) ObserveClawbackFailed() {
	if m == nil {
		return
	}
	m.clawbackFailed.Inc()
}

func (m *MarketMetrics) ObserveSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
}

func (m *MarketMetrics) SetPrice(price uint64) {
	if m == nil {
		return
	}
	m.marketPrice.Set(float64(price))
}
