package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kosher"

// Collector owns the gateway's Prometheus metrics. Metrics live in a
// dedicated registry so tests can create independent collectors.
type Collector struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	tierResolutions *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	approvalPolls   *prometheus.CounterVec
	transactions    *prometheus.CounterVec
	feedRequests    *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	wsClients       prometheus.Gauge
	goroutines      prometheus.Gauge
	uptimeSeconds   prometheus.Gauge

	startTime time.Time
}

// NewCollector creates and registers every metric.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
		tierResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_resolutions_total",
			Help:      "Access tier resolutions; degraded=true when the balance read failed.",
		}, []string{"tier", "degraded"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Route guard decisions by action.",
		}, []string{"action"}),
		approvalPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_polls_total",
			Help:      "Allowance polls by outcome (pending, confirmed, error).",
		}, []string{"result"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Submitted transactions by kind and result.",
		}, []string{"kind", "result"}),
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Third-party API requests by source and result (ok, cached, error).",
		}, []string{"source", "result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Connected wallet sessions.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected chat websocket clients.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutine_count",
			Help:      "Number of goroutines.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the gateway started in seconds.",
		}),
		startTime: time.Now(),
	}

	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.tierResolutions,
		c.guardDecisions,
		c.approvalPolls,
		c.transactions,
		c.feedRequests,
		c.activeSessions,
		c.wsClients,
		c.goroutines,
		c.uptimeSeconds,
	)
	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordHTTP(route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (c *Collector) TierResolved(tier string, degraded bool) {
	c.tierResolutions.WithLabelValues(tier, strconv.FormatBool(degraded)).Inc()
}

func (c *Collector) GuardDecision(action string) {
	c.guardDecisions.WithLabelValues(action).Inc()
}

func (c *Collector) ApprovalPoll(result string) {
	c.approvalPolls.WithLabelValues(result).Inc()
}

func (c *Collector) Transaction(kind, result string) {
	c.transactions.WithLabelValues(kind, result).Inc()
}

func (c *Collector) FeedRequest(source, result string) {
	c.feedRequests.WithLabelValues(source, result).Inc()
}

func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

func (c *Collector) IncWSClients() { c.wsClients.Inc() }
func (c *Collector) DecWSClients() { c.wsClients.Dec() }

// Handler serves the registry in the Prometheus text format, refreshing
// runtime gauges before each scrape.
func (c *Collector) Handler() http.Handler {
	inner := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.goroutines.Set(float64(runtime.NumGoroutine()))
		c.uptimeSeconds.Set(time.Since(c.startTime).Seconds())
		inner.ServeHTTP(w, r)
	})
}
