package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Quota decision outcomes.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeExempt   = "exempt"
	OutcomeFailOpen = "fail_open"
)

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	quotaDecisions    *prometheus.CounterVec
	resizeDuration    *prometheus.HistogramVec
	limiterRejections *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixscaler",
			Name:      "quota_decisions_total",
			Help:      "Quota admission decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		resizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixscaler",
			Name:      "resize_duration_seconds",
			Help:      "Wall clock time spent resizing and encoding an image.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kernel", "format"}),
		limiterRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixscaler",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-IP limiters.",
		}, []string{"limiter"}),
	}
	registry.MustRegister(m.quotaDecisions, m.resizeDuration, m.limiterRejections)
	return m
}

func (m *Metrics) ObserveQuotaDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveResize(kernel, format string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resizeDuration.WithLabelValues(kernel, format).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveLimiterRejection(limiter string) {
	if m == nil {
		return
	}
	m.limiterRejections.WithLabelValues(limiter).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
