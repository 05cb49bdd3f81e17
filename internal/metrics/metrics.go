// Package metrics exposes Prometheus collectors for claims, refreshes and
// polling. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callqueue"

// Metrics holds the registered collectors.
type Metrics struct {
	reg *prometheus.Registry

	claims       *prometheus.CounterVec
	operations   *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	refreshTime  prometheus.Histogram
	pollInterval prometheus.Gauge
	pollErrors   prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return NewWithRegistry(reg)
}

// NewWithRegistry registers collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by result.",
		}, []string{"result"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_operations_total",
			Help:      "Task operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Cache refreshes by trigger source, mode and outcome.",
		}, []string{"source", "mode", "outcome"}),
		refreshTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent loading the task list.",
			Buckets:   prometheus.DefBuckets,
		}),
		pollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Currently armed poll interval.",
		}),
		pollErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_consecutive_errors",
			Help:      "Consecutive failed polls driving back-off.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Record server requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(m.claims, m.operations, m.refreshes, m.refreshTime,
		m.pollInterval, m.pollErrors, m.httpRequests)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ClaimResult(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Refresh(source, mode string, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(source, mode, outcome).Inc()
	m.refreshTime.Observe(took.Seconds())
}

// PollState records the armed interval and the back-off error count.
func (m *Metrics) PollState(interval time.Duration, errorCount int) {
	if m == nil {
		return
	}
	m.pollInterval.Set(interval.Seconds())
	m.pollErrors.Set(float64(errorCount))
}

func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
