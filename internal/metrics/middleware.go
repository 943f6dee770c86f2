// Package metrics provides Prometheus metrics middleware for Gin
package metrics

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routeOperations names the pipeline operation behind each API route. Routes
// not listed here are grouped under "other" or "unmatched".
var routeOperations = map[string]string{
	"/api/analyze-requirements":      "classify",
	"/api/analyze-requirements-full": "classify_full",
	"/api/generate-code":             "generate_backend",
	"/api/generate-ui":               "generate_ui",
	"/api/integrate-project":         "integrate",
	"/api/deploy-project":            "deploy",
	"/api/stop-deployment":           "teardown",
	"/api/generate-full-project":     "run_full_pipeline",
	"/api/deployments":               "list_deployments",
	"/api/runs/:id":                  "get_run",
	"/api/runs/:id/events":           "stream_run_events",
	"/api/extract-document":          "extract_document",
}

// OperationMiddleware records request count, latency and in-flight gauge
// labelled by pipeline operation rather than by raw path.
func OperationMiddleware() gin.HandlerFunc {
	m := Get()

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		op := operationFor(c.FullPath())
		start := time.Now()

		m.HTTPRequestsInFlight.WithLabelValues(op).Inc()
		defer m.HTTPRequestsInFlight.WithLabelValues(op).Dec()

		c.Next()

		m.RecordHTTPRequest(op, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// PrometheusHandler returns the Prometheus HTTP handler
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// operationFor maps a gin route template to its operation label
func operationFor(route string) string {
	if route == "" {
		return "unmatched"
	}
	if op, ok := routeOperations[route]; ok {
		return op
	}
	if route == "/" || route == "/health" {
		return "health"
	}
	if strings.HasPrefix(route, "/api/") {
		return "other"
	}
	return "unmatched"
}
