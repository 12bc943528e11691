package ghcache

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a RequestCache.
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	RateLimitRejects   *prometheus.CounterVec
	RateLimitRemaining prometheus.Gauge
	UpstreamErrors     *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghcache",
			Name:      "cache_hits_total",
			Help:      "Total API responses served from cache.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghcache",
			Name:      "cache_misses_total",
			Help:      "Total API lookups that required a network call.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghcache",
			Name:      "ratelimit_rejects_total",
			Help:      "Total requests refused for lack of quota.",
		}, []string{"stage"}),

		RateLimitRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghcache",
			Name:      "ratelimit_remaining",
			Help:      "Remaining upstream quota from the last response.",
		}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghcache",
			Name:      "upstream_errors_total",
			Help:      "Total non-success responses from the upstream API.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.RateLimitRemaining,
		m.UpstreamErrors,
	)

	return m
}

// the methods below accept a nil receiver so callers never branch on it

func (m *Metrics) hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) reject(stage string) {
	if m != nil {
		m.RateLimitRejects.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) remaining(n int) {
	if m != nil {
		m.RateLimitRemaining.Set(float64(n))
	}
}

func (m *Metrics) upstreamError(status int) {
	if m != nil {
		m.UpstreamErrors.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}
