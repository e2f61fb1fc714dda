// Package telemetry provides application-level observability for the
// credential vault.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<CV_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds.  It is
// NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Credential resolution counters (labelled by provider and winning tier)
//   - Credential validation counters (labelled by provider and result code)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/apikeys/:provider)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// The path label holds the Gin route template (e.g. /api/apikeys/:provider),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Credential metrics — recorded by the resolver and validator.
//
// CredentialResolutionsTotal is a CounterVec with labels {provider, tier}
// incremented once per successful resolution, where tier is the precedence
// level that supplied the credential (user, pool, or default).  A sudden
// shift of traffic from the user tier to the default tier is a useful signal
// that stored credentials have expired or been deleted.
//
// Example PromQL queries:
//   - Resolution mix by tier:     sum by (tier) (rate(credential_resolutions_total[1h]))
//   - Default-tier share (%):     sum(rate(credential_resolutions_total{tier="default"}[1h])) / sum(rate(credential_resolutions_total[1h])) * 100
//
// CredentialValidationsTotal is a CounterVec with labels {provider, result}
// where result is one of valid, invalid_format, provider_rejected, or
// liveness_unknown.  A rising liveness_unknown rate usually indicates an
// upstream provider outage rather than bad keys.
//
// Example PromQL queries:
//   - Rejection rate by provider:  sum by (provider) (rate(credential_validations_total{result="provider_rejected"}[1h]))
//   - Provider reachability:       rate(credential_validations_total{result="liveness_unknown"}[15m])
var (
	CredentialResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_resolutions_total",
			Help: "Total number of credential resolutions, by provider and winning tier.",
		},
		[]string{"provider", "tier"},
	)

	CredentialValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_validations_total",
			Help: "Total number of credential validations, by provider and result code.",
		},
		[]string{"provider", "result"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool.  It is sampled every 30
// seconds by StartDBStatsCollector rather than per-request to avoid the
// overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge.  The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
