package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etxea",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "etxea",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "etxea",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Listing map metrics
	ListingsIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "etxea",
		Subsystem: "store",
		Name:      "listings_indexed",
		Help:      "Listings currently held in the spatial index",
	})

	StoreVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "etxea",
		Subsystem: "store",
		Name:      "version",
		Help:      "Number of catalog mutations applied to the store",
	})

	CatalogEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etxea",
		Subsystem: "catalog",
		Name:      "events_total",
		Help:      "Catalog events consumed from the broker",
	}, []string{"kind", "outcome"})

	Computations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etxea",
		Subsystem: "coordinator",
		Name:      "computations_total",
		Help:      "Map view computations by outcome (delivered, superseded, failed)",
	}, []string{"outcome"})

	ComputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "etxea",
		Subsystem: "coordinator",
		Name:      "compute_duration_seconds",
		Help:      "Duration of one filter, index and cluster computation",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"outcome"})

	MarkersRendered = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "etxea",
		Subsystem: "map",
		Name:      "markers_rendered",
		Help:      "Markers per delivered render set",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	ActiveMapSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "etxea",
		Subsystem: "ws",
		Name:      "active_map_sessions",
		Help:      "Current number of interactive map sessions",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etxea",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etxea",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "etxea",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "etxea",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "etxea",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// The stat is taken as an interface so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}

// ObserveComputation records one coordinator computation.
func ObserveComputation(outcome string, took time.Duration) {
	Computations.WithLabelValues(outcome).Inc()
	ComputeDuration.WithLabelValues(outcome).Observe(took.Seconds())
}
