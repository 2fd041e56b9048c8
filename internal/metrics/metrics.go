package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the Prometheus registry and the gateway's metric series.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	denialsTotal   *prometheus.CounterVec
	bansTotal      prometheus.Counter
	upstreamHealth *prometheus.GaugeVec
	upstreamConns  *prometheus.GaugeVec
}

// NewCollector creates a collector with all series registered on a
// dedicated registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_requests_total",
			Help: "Total number of requests",
		}, []string{"method", "endpoint", "http_status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "app_request_latency_seconds",
			Help:    "Request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		denialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_denials_total",
			Help: "Requests denied by the admission pipeline, by reason",
		}, []string{"reason"}),
		bansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_rate_limit_bans_total",
			Help: "Temporary bans installed by the rate limiter",
		}),
		upstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_upstream_healthy",
			Help: "Upstream health (0=unhealthy, 1=healthy)",
		}, []string{"upstream"}),
		upstreamConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_upstream_active_connections",
			Help: "Active connections per upstream",
		}, []string{"upstream"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsTotal,
		c.requestLatency,
		c.denialsTotal,
		c.bansTotal,
		c.upstreamHealth,
		c.upstreamConns,
	)

	return c
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	c.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDenial records a pipeline denial by reason
// (rate_limited, ip_blocked, ip_not_allowed, waf, lb_disabled,
// no_upstream, upstream_error, invalid_token, invalid_session, other).
func (c *Collector) RecordDenial(reason string) {
	c.denialsTotal.WithLabelValues(reason).Inc()
}

// RecordBan records an installed rate-limit ban.
func (c *Collector) RecordBan() {
	c.bansTotal.Inc()
}

// SetUpstreamHealth sets the health gauge for an upstream address.
func (c *Collector) SetUpstreamHealth(upstream string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.upstreamHealth.WithLabelValues(upstream).Set(v)
}

// SetUpstreamConnections sets the active connection gauge for an upstream.
func (c *Collector) SetUpstreamConnections(upstream string, n int64) {
	c.upstreamConns.WithLabelValues(upstream).Set(float64(n))
}

// Handler returns the /metrics exposition handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
