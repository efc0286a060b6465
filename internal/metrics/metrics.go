// Package metrics exposes gateway health in two shapes: a Prometheus
// registry for scraping and a JSON snapshot for the stats endpoint.
// Everything hangs off one private registry so tests and embedders can
// run multiple instances side by side.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptgate/internal/cache"
	"promptgate/internal/fanout"
	"promptgate/internal/jobs"
	"promptgate/internal/optimizer"
)

// Sources are the live services the collector samples at scrape time.
type Sources struct {
	Jobs    *jobs.Manager
	Cache   *cache.Service
	Hub     *fanout.Hub
	Backend optimizer.Optimizer
}

type Collector struct {
	reg     *prometheus.Registry
	sources Sources
	started time.Time

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewCollector(sources Sources) *Collector {
	c := &Collector{
		reg:     prometheus.NewRegistry(),
		sources: sources,
		started: time.Now(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_requests_total",
			Help: "API requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptgate_request_duration_seconds",
			Help:    "API request latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	c.reg.MustRegister(c.requestsTotal)
	c.reg.MustRegister(c.requestDuration)
	c.reg.MustRegister(&gatewayCollector{sources: sources})
	c.reg.MustRegister(collectors.NewGoCollector())
	c.reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return c
}

// ObserveRequest records one finished API request.
func (c *Collector) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(operation, outcome).Inc()
	c.requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler serves the Prometheus scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Snapshot is the JSON shape served by the stats endpoint.
type Snapshot struct {
	UptimeSeconds float64             `json:"uptime_seconds"`
	Jobs          jobs.Metrics        `json:"jobs"`
	Cache         cache.Stats         `json:"cache"`
	Fanout        fanout.Stats        `json:"fanout"`
	Optimizer     optimizer.CallStats `json:"optimizer"`
}

func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{UptimeSeconds: time.Since(c.started).Seconds()}
	if c.sources.Jobs != nil {
		s.Jobs = c.sources.Jobs.Metrics()
	}
	if c.sources.Cache != nil {
		s.Cache = c.sources.Cache.Stats()
	}
	if c.sources.Hub != nil {
		s.Fanout = c.sources.Hub.Stats()
	}
	if sr, ok := c.sources.Backend.(optimizer.StatsReporter); ok {
		s.Optimizer = sr.Stats()
	}
	return s
}

// gatewayCollector samples the services at scrape time and emits const
// metrics, so gauges never drift from the source of truth.
type gatewayCollector struct {
	sources Sources
}

var (
	jobsDesc = prometheus.NewDesc("promptgate_jobs",
		"Jobs in the tracking table by status.", []string{"status"}, nil)
	jobAvgDesc = prometheus.NewDesc("promptgate_job_completion_seconds_avg",
		"Mean wall time of completed jobs.", nil, nil)
	cacheHitsDesc = prometheus.NewDesc("promptgate_cache_hits_total",
		"Cache lookups that hit.", nil, nil)
	cacheMissesDesc = prometheus.NewDesc("promptgate_cache_misses_total",
		"Cache lookups that missed.", nil, nil)
	subscriptionsDesc = prometheus.NewDesc("promptgate_fanout_subscriptions",
		"Active realtime subscriptions.", nil, nil)
	upstreamCallsDesc = prometheus.NewDesc("promptgate_optimizer_calls_total",
		"Upstream optimizer calls.", nil, nil)
	upstreamFailsDesc = prometheus.NewDesc("promptgate_optimizer_failures_total",
		"Upstream optimizer call failures.", nil, nil)
)

func (g *gatewayCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsDesc
	ch <- jobAvgDesc
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- subscriptionsDesc
	ch <- upstreamCallsDesc
	ch <- upstreamFailsDesc
}

func (g *gatewayCollector) Collect(ch chan<- prometheus.Metric) {
	if g.sources.Jobs != nil {
		m := g.sources.Jobs.Metrics()
		for status, n := range m.ByStatus {
			ch <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(n), string(status))
		}
		ch <- prometheus.MustNewConstMetric(jobAvgDesc, prometheus.GaugeValue, m.AvgCompletionSeconds)
	}
	if g.sources.Cache != nil {
		st := g.sources.Cache.Stats()
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(st.Hits))
		ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(st.Misses))
	}
	if g.sources.Hub != nil {
		ch <- prometheus.MustNewConstMetric(subscriptionsDesc, prometheus.GaugeValue, float64(g.sources.Hub.Stats().Subscriptions))
	}
	if sr, ok := g.sources.Backend.(optimizer.StatsReporter); ok {
		st := sr.Stats()
		ch <- prometheus.MustNewConstMetric(upstreamCallsDesc, prometheus.CounterValue, float64(st.Calls))
		ch <- prometheus.MustNewConstMetric(upstreamFailsDesc, prometheus.CounterValue, float64(st.Failures))
	}
}
