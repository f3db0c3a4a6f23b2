package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsPrefix is the prefix used for all metrics
const MetricsPrefix = "price_proxy_"

var (
	// UpstreamRequestsTotal counts upstream HTTP requests by outcome.
	// Cardinality: 3 upstreams x 4 statuses
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "upstream_requests_total",
			Help: "Total number of HTTP requests per upstream oracle",
		},
		[]string{"upstream", "status"},
	)

	// UpstreamRetriesTotal counts retry attempts per upstream
	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "upstream_retries_total",
			Help: "Total number of retry attempts per upstream oracle",
		},
		[]string{"upstream"},
	)

	// FetchCycleDuration tracks how long fetch operations take
	FetchCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: MetricsPrefix + "fetch_cycle_duration_seconds",
			Help: "Time taken to complete a fetch operation",
		},
		[]string{"operation"},
	)

	// CacheReadsTotal counts cache reads split by hit/miss
	CacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "cache_reads_total",
			Help: "Total number of cache reads by result",
		},
		[]string{"result"},
	)

	// CacheSetsTotal counts cache writes
	CacheSetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "cache_sets_total",
			Help: "Total number of cache writes",
		},
	)

	// CacheSizeGauge tracks the number of cached entries
	CacheSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricsPrefix + "cache_size",
			Help: "Number of entries in the price cache",
		},
	)

	// QuotaDeniedTotal counts admissions refused by the sliding window
	QuotaDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricsPrefix + "quota_denied_total",
			Help: "Total number of requests refused by the per-upstream quota",
		},
		[]string{"upstream"},
	)
)

// RecordCacheHit records a fresh cache read
func RecordCacheHit() {
	CacheReadsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache read that found no fresh entry
func RecordCacheMiss() {
	CacheReadsTotal.WithLabelValues("miss").Inc()
}

// RecordCacheSet records a cache write and the resulting size
func RecordCacheSet(size int) {
	CacheSetsTotal.Inc()
	CacheSizeGauge.Set(float64(size))
}

// RecordQuotaDenied records a quota refusal for an upstream
func RecordQuotaDenied(upstream string) {
	QuotaDeniedTotal.WithLabelValues(upstream).Inc()
}

// RecordFetchCycle records the duration of a fetch operation
func RecordFetchCycle(operation string, start time.Time) {
	FetchCycleDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// MetricsWriter provides a unified interface for recording per-upstream
// request metrics. It satisfies the upstream client's status handler.
type MetricsWriter struct {
	upstream string
}

// NewMetricsWriter creates a MetricsWriter for the given upstream
func NewMetricsWriter(upstream string) *MetricsWriter {
	return &MetricsWriter{upstream: upstream}
}

// OnRequest records an HTTP request with its outcome status
func (mw *MetricsWriter) OnRequest(status string) {
	UpstreamRequestsTotal.WithLabelValues(mw.upstream, status).Inc()
}

// OnRetry records a retry attempt
func (mw *MetricsWriter) OnRetry() {
	UpstreamRetriesTotal.WithLabelValues(mw.upstream).Inc()
}
