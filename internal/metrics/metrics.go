package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are nil-safe so tests can run without a registry.
type Metrics struct {
	Purchases   *prometheus.CounterVec
	Checkouts   *prometheus.CounterVec
	CASRetries  prometheus.Counter
	CASExhaust  prometheus.Counter
	Reclaimed   *prometheus.CounterVec
	Requests    *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
	Compensated *prometheus.CounterVec
}

func New(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: "checkout",
			Name: "purchases_total", Help: "Single item purchase confirmations by outcome.",
		}, []string{"outcome"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: "checkout",
			Name: "cart_checkouts_total", Help: "Cart checkout confirmations by outcome.",
		}, []string{"outcome"}),
		CASRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: "stockguard",
			Name: "cas_retries_total", Help: "Compare-and-swap attempts lost to a concurrent writer.",
		}),
		CASExhaust: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: "stockguard",
			Name: "cas_exhausted_total", Help: "Decrements abandoned after the retry ceiling.",
		}),
		Reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: "sweeper",
			Name: "reclaimed_total", Help: "Expired records reclaimed by the sweeper.",
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: service,
			Name: "http_requests_total", Help: "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookstore", Subsystem: service,
			Name:    "http_request_duration_ms",
			Help:    "HTTP request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Compensated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookstore", Subsystem: "checkout",
			Name: "compensations_total", Help: "Rollback steps executed after a failed commit.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Purchases, m.Checkouts, m.CASRetries, m.CASExhaust, m.Reclaimed,
		m.Requests, m.LatencyMS, m.Compensated)
	return m
}

func (m *Metrics) Purchase(outcome string) {
	if m != nil {
		m.Purchases.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Checkout(outcome string) {
	if m != nil {
		m.Checkouts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CASRetry() {
	if m != nil {
		m.CASRetries.Inc()
	}
}

func (m *Metrics) CASExhausted() {
	if m != nil {
		m.CASExhaust.Inc()
	}
}

func (m *Metrics) Reclaim(kind string, n int) {
	if m != nil && n > 0 {
		m.Reclaimed.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) Compensation(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Compensated.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(took.Milliseconds()))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
