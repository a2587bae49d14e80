// Package observability exposes Prometheus metrics for runs, probes and callbacks.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

type Metrics struct {
	runsTotal      *prometheus.CounterVec
	probesTotal    *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	callbacksTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg, or on the default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pact_runs_total", Help: "Total conformance runs by outcome"},
			[]string{"version", "status"},
		),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pact_probes_total", Help: "Total executed test cases"},
			[]string{"version", "test_key", "status"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pact_probe_duration_seconds",
				Help:    "Test case duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"version"},
		),
		callbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pact_callbacks_total", Help: "Total webhook callbacks by event kind and outcome"},
			[]string{"event", "status"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.probesTotal, m.probeDuration, m.callbacksTotal)
	return m
}

// Handler serves reg, or the default gatherer when reg is nil.
func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveProbe implements testcase.ProbeObserver.
func (m *Metrics) ObserveProbe(version pact.Version, testKey string, status testcase.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.probesTotal.WithLabelValues(string(version), testKey, string(status)).Inc()
	m.probeDuration.WithLabelValues(string(version)).Observe(elapsed.Seconds())
}

// ObserveRun counts a finished run; status is "pass", "fail" or "error".
func (m *Metrics) ObserveRun(version, status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(version, status).Inc()
}

// ObserveCallback counts a resolved webhook call; event is "fulfilled", "rejected",
// "ignored" or "unknown".
func (m *Metrics) ObserveCallback(event, status string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(event, status).Inc()
}
