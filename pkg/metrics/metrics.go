package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightearth_upstream_requests_total",
			Help: "Requests made to Home Assistant by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightearth_upstream_request_duration_seconds",
			Help:    "Latency of Home Assistant requests including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"endpoint"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightearth_response_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)
	rejectedSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightearth_rejected_samples_total",
			Help: "History samples dropped during normalization",
		},
		[]string{"signal", "reason"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightearth_rate_limited_requests_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)
)

// Collectors returns every collector the proxy exports.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		upstreamRequests,
		upstreamDuration,
		cacheLookups,
		rejectedSamples,
		rateLimited,
	}
}

// NewRegistry builds a registry with the proxy collectors plus the go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range Collectors() {
		registry.MustRegister(c)
	}
	return registry
}

// Handler exposes the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records one logical upstream call.
func ObserveUpstream(endpoint, outcome string, d time.Duration) {
	upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// CacheLookup records a response cache hit or miss.
func CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RejectedSamples records n dropped samples.
func RejectedSamples(signal, reason string, n int) {
	if n <= 0 {
		return
	}
	rejectedSamples.WithLabelValues(signal, reason).Add(float64(n))
}

// RateLimited records a rejected request.
func RateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}
