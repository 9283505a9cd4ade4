// Package metrics holds the Prometheus collectors for the ledger. A nil
// *Metrics is valid and records nothing, so tests can leave it out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

// Metrics groups the service's collectors.
type Metrics struct {
	casRetries      *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	sessionWrites   *prometheus.CounterVec
	subscriptions   prometheus.Gauge
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		casRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_retries_total",
			Help:      "Optimistic writes retried after a version conflict.",
		}, []string{"target"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Per-player reconciliation outcomes.",
		}, []string{"status"}),
		sessionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_writes_total",
			Help:      "Successful session writes by operation.",
		}, []string{"op"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscriptions",
			Help:      "Live realtime session subscriptions.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.casRetries, m.reconciliations, m.sessionWrites, m.subscriptions, m.httpDuration)
	return m
}

// CASRetry counts one retried compare-and-swap on target ("session" or "membership").
func (m *Metrics) CASRetry(target string) {
	if m == nil {
		return
	}
	m.casRetries.WithLabelValues(target).Inc()
}

// Reconciled counts one player outcome.
func (m *Metrics) Reconciled(status string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
}

// SessionWrite counts one successful session write.
func (m *Metrics) SessionWrite(op string) {
	if m == nil {
		return
	}
	m.sessionWrites.WithLabelValues(op).Inc()
}

// SubscriptionOpened and SubscriptionClosed track live realtime subscriptions.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

// ObserveHTTP records one request's latency.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}
