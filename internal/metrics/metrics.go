// Package metrics exposes Prometheus collectors for the auth service.
//
// All collectors live on a private registry so tests can build as many
// instances as they need without duplicate-registration panics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecozone/authcore/internal/audit"
)

const namespace = "ecozone_auth"

// Metrics holds the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuthEvents          *prometheus.CounterVec
	AccountLockouts     *prometheus.CounterVec
	RateLimited         *prometheus.CounterVec
	SessionsSwept       prometheus.Counter
	SweepErrors         prometheus.Counter
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Audited auth events by action, result and user type.",
		}, []string{"action", "result", "user_type"}),
		AccountLockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after repeated failed logins.",
		}, []string{"user_type"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter.",
		}, []string{"route"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Sessions deleted by the retention sweeper.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "sweep_errors_total",
			Help:      "Session sweeps that ended in error.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthEvents,
		m.AccountLockouts,
		m.RateLimited,
		m.SessionsSwept,
		m.SweepErrors,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveSweep matches the Sweeper OnSweep callback.
func (m *Metrics) ObserveSweep(removed int64, err error) {
	if err != nil {
		m.SweepErrors.Inc()
	}
	if removed > 0 {
		m.SessionsSwept.Add(float64(removed))
	}
}

// Name implements audit.Sink.
func (m *Metrics) Name() string { return "prometheus" }

// Handle implements audit.Sink by counting every audited event.
func (m *Metrics) Handle(_ context.Context, e *audit.Entry) error {
	userType := audit.UserType(e)
	m.AuthEvents.WithLabelValues(e.Action, string(e.Result), userType).Inc()
	if e.Action == audit.ActionAccountLocked {
		m.AccountLockouts.WithLabelValues(userType).Inc()
	}
	return nil
}
