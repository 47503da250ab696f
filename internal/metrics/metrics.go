// Package metrics defines the proxy's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram the proxy records. It is
// constructed once at startup and passed by reference to the components
// that record against it.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheErrors prometheus.Counter

	SingleFlightLeaders   prometheus.Counter
	SingleFlightFollowers prometheus.Counter

	FetchDuration *prometheus.HistogramVec // labeled by outcome
	FetchBytes    prometheus.Histogram

	ResizeDuration *prometheus.HistogramVec // labeled by outcome
	ResizeJobs     *prometheus.CounterVec   // labeled by outcome

	RequestDuration *prometheus.HistogramVec // labeled by outcome
}

// New registers and returns the proxy's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgproxy_cache_hits_total",
			Help: "Cache lookups that found a fresh entry.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgproxy_cache_misses_total",
			Help: "Cache lookups that found no usable entry.",
		}),
		CacheErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgproxy_cache_errors_total",
			Help: "Cache store I/O errors.",
		}),
		SingleFlightLeaders: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgproxy_singleflight_leaders_total",
			Help: "Requests that became the leader for a fingerprint's in-flight fetch.",
		}),
		SingleFlightFollowers: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgproxy_singleflight_followers_total",
			Help: "Requests that joined an already in-flight fetch as a follower.",
		}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgproxy_fetch_duration_seconds",
			Help:    "Upstream fetch duration by terminal outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		FetchBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgproxy_fetch_bytes",
			Help:    "Size in bytes of successfully fetched payloads.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		ResizeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgproxy_resize_duration_seconds",
			Help:    "Resize job duration by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		ResizeJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgproxy_resize_jobs_total",
			Help: "Resize jobs processed by outcome.",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imgproxy_request_duration_seconds",
			Help:    "End-to-end request duration by dispatcher outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}
