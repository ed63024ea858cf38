package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	tileRenderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_render_total",
			Help: "Tile renders by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	tileRenderSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_render_seconds",
			Help:    "Time spent rendering a tile against the data store.",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 14),
		},
		[]string{"source"},
	)

	tileBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_bytes",
			Help:    "Size of rendered tiles in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9), // 256B to ~16MB
		},
		[]string{"source"},
	)

	planCompileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_compile_total",
			Help: "Query plan compilations by result.",
		},
		[]string{"source", "result"},
	)

	planCompileSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plan_compile_seconds",
			Help:    "Time spent compiling a query plan.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis cache operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Tile cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events processed by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedTiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_tiles_total",
			Help: "Cached tiles removed by invalidation events.",
		},
		[]string{"source"},
	)

	invalidationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_processing_seconds",
			Help:    "End-to-end processing time for one invalidation event.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		tileRenderTotal, tileRenderSeconds, tileBytes,
		planCompileTotal, planCompileSeconds,
		cacheOpTotal, redisOpSeconds, cacheResults,
		invalidationsTotal, invalidatedTiles, invalidationSeconds,
		kafkaConsumerErrors,
	}
}

// Init registers the service metrics with reg. With enabled=false nothing is
// registered and observations are only kept in memory.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled {
		return
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

// ObserveTileRender records one render; outcome is ok, empty or error.
func ObserveTileRender(source, outcome string, size int, durationSeconds float64) {
	tileRenderTotal.WithLabelValues(source, outcome).Inc()
	tileRenderSeconds.WithLabelValues(source).Observe(durationSeconds)
	if outcome == "ok" {
		tileBytes.WithLabelValues(source).Observe(float64(size))
	}
}

func ObservePlanCompile(source string, durationSeconds float64, err error) {
	planCompileTotal.WithLabelValues(source, result(err)).Inc()
	planCompileSeconds.Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, result(err)).Inc()
	redisOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func ObserveInvalidation(op, source string, tiles int, durationSeconds float64, err error) {
	invalidationsTotal.WithLabelValues(op, result(err)).Inc()
	invalidationSeconds.Observe(durationSeconds)
	if err == nil && tiles > 0 {
		invalidatedTiles.WithLabelValues(source).Add(float64(tiles))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
