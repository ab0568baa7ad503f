package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
	outcomeNotFound  = "not_found"
	outcomeError     = "error"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer  prometheus.Gatherer
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	reactions *prometheus.CounterVec
	created   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessions_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "confessions_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessions_reactions_total",
			Help: "Reaction attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confessions_created_total",
			Help: "Confessions created.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.reactions, m.created)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// observeRequest counts a finished request and records its latency.
func (m *Metrics) observeRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// reaction counts a reaction attempt by kind and outcome.
func (m *Metrics) reaction(kind, outcome string) {
	if m == nil {
		return
	}
	// unknown kinds are client input, keep label cardinality bounded
	if _, err := ParseReactionKind(kind); err != nil {
		kind = "unknown"
	}
	m.reactions.WithLabelValues(kind, outcome).Inc()
}

// confessionCreated counts a stored confession.
func (m *Metrics) confessionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}
