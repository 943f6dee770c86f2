// Package metrics provides Prometheus metrics for botforge monitoring
// Exports HTTP, synthesis, pipeline, and deployment metrics
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for botforge
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Pipeline Metrics
	PipelineRunsTotal *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageOutcomes     *prometheus.CounterVec

	// Synthesis Metrics
	SynthesisRequestsTotal  *prometheus.CounterVec
	SynthesisDuration       *prometheus.HistogramVec
	SynthesisTokens         *prometheus.CounterVec
	SynthesisFallbacksTotal *prometheus.CounterVec
	GenerationAttempts      *prometheus.CounterVec

	// Deployment Metrics
	DeploymentsActive   prometheus.Gauge
	DeploymentsTotal    *prometheus.CounterVec
	ReconcileActions    *prometheus.CounterVec
	BundlesCreatedTotal prometheus.Counter
	BundleArchiveTotal  *prometheus.CounterVec

	// Cache Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// System Metrics
	GoroutineNum prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by pipeline operation, method, and status code",
		},
		[]string{"operation", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds by pipeline operation",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
		},
		[]string{"operation", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botforge",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed by pipeline operation",
		},
		[]string{"operation"},
	)

	m.PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final outcome",
		},
		[]string{"outcome"},
	)

	m.StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botforge",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{.01, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	m.StageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "pipeline",
			Name:      "stage_outcomes_total",
			Help:      "Pipeline stage outcomes (succeeded, skipped, failed, failed_continued)",
		},
		[]string{"stage", "status"},
	)

	m.SynthesisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "synthesis",
			Name:      "requests_total",
			Help:      "Calls to the code synthesis service by provider and status",
		},
		[]string{"provider", "status"},
	)

	m.SynthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botforge",
			Subsystem: "synthesis",
			Name:      "request_duration_seconds",
			Help:      "Synthesis call latency",
			Buckets:   []float64{.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	m.SynthesisTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "synthesis",
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider and direction",
		},
		[]string{"provider", "type"},
	)

	m.SynthesisFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "synthesis",
			Name:      "fallbacks_total",
			Help:      "Provider fallbacks",
		},
		[]string{"from_provider", "to_provider"},
	)

	m.GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "codegen",
			Name:      "attempts_total",
			Help:      "Generation attempts by artifact kind and outcome (complete, incomplete, error)",
		},
		[]string{"kind", "outcome"},
	)

	m.DeploymentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botforge",
			Subsystem: "deploy",
			Name:      "active",
			Help:      "Deployments currently registered",
		},
	)

	m.DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "deploy",
			Name:      "deployments_total",
			Help:      "Deploy calls by result",
		},
		[]string{"status"},
	)

	m.ReconcileActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "deploy",
			Name:      "reconcile_actions_total",
			Help:      "Port reconciliation decisions per listener (killed, skipped_self, skipped_parent, skipped_signature, kill_failed)",
		},
		[]string{"port", "action"},
	)

	m.BundlesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "bundle",
			Name:      "created_total",
			Help:      "Project bundles written to disk",
		},
	)

	m.BundleArchiveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "bundle",
			Name:      "archives_total",
			Help:      "Bundle archive uploads by status",
		},
		[]string{"status"},
	)

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by tier",
		},
		[]string{"tier"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botforge",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by tier",
		},
		[]string{"tier"},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botforge",
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(operation, method string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(operation, method, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(operation, method).Observe(duration.Seconds())
}

// RecordSynthesis records one call to a synthesis provider
func (m *Metrics) RecordSynthesis(provider, status string, duration time.Duration, promptTokens, completionTokens int) {
	m.SynthesisRequestsTotal.WithLabelValues(provider, status).Inc()
	m.SynthesisDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.SynthesisTokens.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.SynthesisTokens.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordFallback records a provider fallback
func (m *Metrics) RecordFallback(from, to string) {
	m.SynthesisFallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordGenerationAttempt records the outcome of one generation attempt
func (m *Metrics) RecordGenerationAttempt(kind, outcome string) {
	m.GenerationAttempts.WithLabelValues(kind, outcome).Inc()
}

// RecordStage records a pipeline stage outcome and its duration
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	m.StageOutcomes.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPipelineRun records the final outcome of a pipeline run
func (m *Metrics) RecordPipelineRun(outcome string) {
	m.PipelineRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordDeployment records a deploy call result
func (m *Metrics) RecordDeployment(status string) {
	m.DeploymentsTotal.WithLabelValues(status).Inc()
}

// SetActiveDeployments sets the active deployment gauge
func (m *Metrics) SetActiveDeployments(n int) {
	m.DeploymentsActive.Set(float64(n))
}

// RecordReconcile records one reconciliation decision
func (m *Metrics) RecordReconcile(port int, action string) {
	m.ReconcileActions.WithLabelValues(strconv.Itoa(port), action).Inc()
}

// RecordCacheOperation records a cache hit or miss
func (m *Metrics) RecordCacheOperation(tier string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(tier).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}
