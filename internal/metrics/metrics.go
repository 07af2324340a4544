// Package metrics exposes Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Kestrel metric on its own registry.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Analysis metrics
	analysesTotal    *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	riskScore        prometheus.Histogram
	signalsTotal     *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec

	// Subsystem metrics
	subsystemOutcomes *prometheus.CounterVec
	linksAnalyzed     prometheus.Counter
	quotaRejections   prometheus.Counter
}

// NewCollector creates a collector with Go runtime and process metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		analysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_analyses_total",
				Help: "Total number of completed analyses by risk level",
			},
			[]string{"risk_level"},
		),
		analysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kestrel_analysis_duration_seconds",
				Help:    "End-to-end analysis duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
		riskScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kestrel_risk_score",
				Help:    "Distribution of computed risk scores",
				Buckets: prometheus.LinearBuckets(0, 20, 6),
			},
		),
		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_signals_total",
				Help: "Total number of detected signals by category",
			},
			[]string{"category"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_cache_lookups_total",
				Help: "Analysis cache lookups by result",
			},
			[]string{"result"},
		),

		subsystemOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_subsystem_outcomes_total",
				Help: "Outcomes of the optional link and AI subsystems",
			},
			[]string{"subsystem", "outcome"},
		),
		linksAnalyzed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kestrel_links_analyzed_total",
				Help: "Total number of URLs analyzed",
			},
		),
		quotaRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kestrel_quota_rejections_total",
				Help: "Requests rejected by the daily usage quota",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveAnalysis records a completed analysis.
func (c *Collector) ObserveAnalysis(level string, score int, categories []string, d time.Duration) {
	c.analysesTotal.WithLabelValues(level).Inc()
	c.riskScore.Observe(float64(score))
	c.analysisDuration.Observe(d.Seconds())
	for _, cat := range categories {
		c.signalsTotal.WithLabelValues(cat).Inc()
	}
}

// CacheHit records an analysis cache hit.
func (c *Collector) CacheHit() { c.cacheLookups.WithLabelValues("hit").Inc() }

// CacheMiss records an analysis cache miss.
func (c *Collector) CacheMiss() { c.cacheLookups.WithLabelValues("miss").Inc() }

// SubsystemOutcome records whether the link or AI step ran: ok, failed or skipped.
func (c *Collector) SubsystemOutcome(subsystem, outcome string) {
	c.subsystemOutcomes.WithLabelValues(subsystem, outcome).Inc()
}

// LinksAnalyzed adds n analyzed URLs.
func (c *Collector) LinksAnalyzed(n int) { c.linksAnalyzed.Add(float64(n)) }

// QuotaRejected records a quota rejection.
func (c *Collector) QuotaRejected() { c.quotaRejections.Inc() }
