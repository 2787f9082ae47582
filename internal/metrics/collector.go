// Package metrics provides the gateway's Prometheus instrumentation.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every metric vector the gateway exports.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	selectionsTotal   *prometheus.CounterVec
	selectionDuration *prometheus.HistogramVec
	providerLockWait  *prometheus.HistogramVec

	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	streamChunksTotal *prometheus.CounterVec

	storeErrorsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector builds every metric vector under namespace and registers
// them with the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_selections_total",
			Help:      "Total number of provider-selection strategy invocations",
		},
		[]string{"strategy", "model", "outcome"},
	)

	c.selectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_selection_duration_seconds",
			Help:      "Time spent inside Strategy.Choose",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"strategy"},
	)

	c.providerLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_lock_wait_seconds",
			Help:      "Observed TTL assigned to a just-acquired store lock",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	c.upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream provider calls",
		},
		[]string{"provider_id", "model", "status"},
	)

	c.upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider_id", "model"},
	)

	c.streamChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of streaming chunks relayed to clients",
		},
		[]string{"provider_id", "dialect"},
	)

	c.storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of coordination-store errors observed",
		},
		[]string{"op"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSelection records one Strategy.Choose invocation.
func (c *Collector) RecordSelection(strategyName, model, outcome string, duration time.Duration) {
	c.selectionsTotal.WithLabelValues(strategyName, model, outcome).Inc()
	c.selectionDuration.WithLabelValues(strategyName).Observe(duration.Seconds())
}

// RecordLockTTL records the TTL assigned to a just-acquired store lock.
func (c *Collector) RecordLockTTL(strategyName string, ttl time.Duration) {
	c.providerLockWait.WithLabelValues(strategyName).Observe(ttl.Seconds())
}

// RecordUpstreamRequest records one buffered or streaming upstream call.
func (c *Collector) RecordUpstreamRequest(providerID, model, status string, duration time.Duration) {
	c.upstreamRequestsTotal.WithLabelValues(providerID, model, status).Inc()
	c.upstreamRequestDuration.WithLabelValues(providerID, model).Observe(duration.Seconds())
}

// RecordStreamChunk records one relayed streaming chunk.
func (c *Collector) RecordStreamChunk(providerID, dialect string) {
	c.streamChunksTotal.WithLabelValues(providerID, dialect).Inc()
}

// RecordStoreError records one coordination-store failure, keyed by the
// store operation that failed (e.g. "setnx", "hgetall").
func (c *Collector) RecordStoreError(op string) {
	c.storeErrorsTotal.WithLabelValues(op).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
