package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	contactSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_submissions_total",
			Help: "Total number of accepted contact form submissions",
		},
		[]string{"priority"},
	)

	contactDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contact_duplicate_submissions_total",
			Help: "Total number of submissions rejected as duplicates",
		},
	)

	contactUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_updates_total",
			Help: "Total number of administrative contact changes",
		},
		[]string{"operation"}, // update, assign, delete
	)

	statsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_stats_cache_total",
			Help: "Stats cache reads by outcome",
		},
		[]string{"outcome"}, // hit, miss
	)
)

// Middleware records request counters and latency. The route template is
// used as label so path parameters do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordContactSubmission(priority string) {
	contactSubmissionsTotal.WithLabelValues(priority).Inc()
}

func RecordDuplicateSubmission() {
	contactDuplicatesTotal.Inc()
}

func RecordContactChange(operation string) {
	contactUpdatesTotal.WithLabelValues(operation).Inc()
}

func RecordStatsCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	statsCacheTotal.WithLabelValues(outcome).Inc()
}
