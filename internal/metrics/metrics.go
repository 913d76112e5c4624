// Package metrics holds the Prometheus collectors of the payment service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names
const (
	MetricPaymentTransitionsTotal    = "payment_transitions_total"
	MetricPaymentProviderErrorsTotal = "payment_provider_errors_total"
	MetricSweeperExpiredTotal        = "payment_sweeper_expired_total"
	MetricSweeperPurgedTotal         = "payment_sweeper_purged_total"
	MetricHTTPRequestDuration        = "http_request_duration_seconds"
)

// Metrics contains the service's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions    *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	sweeperExpired prometheus.Counter
	sweeperPurged  prometheus.Counter
	httpDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentTransitionsTotal,
				Help: "Total number of payment status transitions by source and target status",
			},
			[]string{"from", "to"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentProviderErrorsTotal,
				Help: "Total number of provider errors by provider and category",
			},
			[]string{"provider", "category"},
		),
		sweeperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweeperExpiredTotal,
			Help: "Total number of payments expired by the sweeper",
		}),
		sweeperPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweeperPurgedTotal,
			Help: "Total number of expired payments purged",
		}),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "Histogram of HTTP request durations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Register registers all metrics with the given registry
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.transitions,
		m.providerErrors,
		m.sweeperExpired,
		m.sweeperPurged,
		m.httpDuration,
	}
}

// IncTransition counts a status change
func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncProviderError counts a categorized provider failure
func (m *Metrics) IncProviderError(provider, category string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, category).Inc()
}

// AddSweeperExpired adds to the expired-by-sweeper counter
func (m *Metrics) AddSweeperExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperExpired.Add(float64(n))
}

// AddSweeperPurged adds to the purged counter
func (m *Metrics) AddSweeperPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeperPurged.Add(float64(n))
}

// ObserveHTTPRequest records one request duration
func (m *Metrics) ObserveHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}
