// Package telemetry provides Prometheus instrumentation for the policy
// evaluator and the rule file provider. Metrics live on a private registry
// so embedding daemons can mount or scrape them however they like.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all evaluator and reload metrics.
type Metrics struct {
	evaluationsTotal *prometheus.CounterVec
	matchDepth       prometheus.Histogram
	reloadsTotal     *prometheus.CounterVec
	parseFailures    prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter

	registry *prometheus.Registry
}

// Verdict label values for evaluationsTotal. NoMatch covers both the empty
// rule set and a scan that exhausted all rules.
const (
	VerdictAllow   = "allow"
	VerdictDeny    = "deny"
	VerdictNoMatch = "no_match"
)

// NewMetrics creates a metrics instance backed by a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "updpolicy_evaluations_total",
				Help: "Total policy evaluations partitioned by verdict",
			},
			[]string{"verdict"},
		),

		matchDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "updpolicy_match_depth",
				Help:    "Number of rules scanned before the first match",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "updpolicy_reloads_total",
				Help: "Total policy file reload attempts by status",
			},
			[]string{"status"},
		),

		parseFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updpolicy_parse_failures_total",
				Help: "Total policy file loads rejected with a parse error",
			},
		),

		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updpolicy_cache_hits_total",
				Help: "Total verdict cache hits",
			},
		),

		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updpolicy_cache_misses_total",
				Help: "Total verdict cache misses",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.matchDepth,
		m.reloadsTotal,
		m.parseFailures,
		m.cacheHits,
		m.cacheMisses,
	)

	return m
}

// Registry exposes the private registry for scraping or test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordEvaluation counts one evaluation outcome. depth is the 1-based index
// of the matched rule; pass zero when no rule matched.
func (m *Metrics) RecordEvaluation(verdict string, depth int) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(verdict).Inc()
	if depth > 0 {
		m.matchDepth.Observe(float64(depth))
	}
}

// RecordReload counts one reload attempt.
func (m *Metrics) RecordReload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues("ok").Inc()
}

// RecordParseFailure counts a load rejected at parse time.
func (m *Metrics) RecordParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

// RecordCacheHit counts a verdict served from cache.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts an evaluation that had to scan the rules.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}
