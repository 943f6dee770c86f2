package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetIsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestOperationFor(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"", "unmatched"},
		{"/api/generate-full-project", "run_full_pipeline"},
		{"/api/deploy-project", "deploy"},
		{"/api/stop-deployment", "teardown"},
		{"/api/runs/:id", "get_run"},
		{"/api/runs/:id/events", "stream_run_events"},
		{"/api/something-new", "other"},
		{"/health", "health"},
		{"/favicon.ico", "unmatched"},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			assert.Equal(t, tt.want, operationFor(tt.route))
		})
	}
}

func TestOperationMiddlewareLabelsByOperation(t *testing.T) {
	m := Get()
	router := gin.New()
	router.Use(OperationMiddleware())
	router.GET("/api/runs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.POST("/api/generate-full-project", func(c *gin.Context) {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsInFlight.WithLabelValues("run_full_pipeline")))
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", PrometheusHandler())

	getRun := m.HTTPRequestsTotal.WithLabelValues("get_run", http.MethodGet, "404")
	fullRun := m.HTTPRequestsTotal.WithLabelValues("run_full_pipeline", http.MethodPost, "200")
	g0, f0 := testutil.ToFloat64(getRun), testutil.ToFloat64(fullRun)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, g0+1, testutil.ToFloat64(getRun))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/generate-full-project", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f0+1, testutil.ToFloat64(fullRun))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight.WithLabelValues("run_full_pipeline")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "botforge_http_requests_total")
}

func TestRecordHelpers(t *testing.T) {
	m := Get()

	stage := m.StageOutcomes.WithLabelValues("deploy", "failed_fatal")
	before := testutil.ToFloat64(stage)
	m.RecordStage("deploy", "failed_fatal", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(stage))

	hits := m.CacheHitsTotal.WithLabelValues("memory")
	misses := m.CacheMissesTotal.WithLabelValues("memory")
	h0, m0 := testutil.ToFloat64(hits), testutil.ToFloat64(misses)
	m.RecordCacheOperation("memory", true)
	m.RecordCacheOperation("memory", false)
	assert.Equal(t, h0+1, testutil.ToFloat64(hits))
	assert.Equal(t, m0+1, testutil.ToFloat64(misses))

	reconcile := m.ReconcileActions.WithLabelValues("8001", "killed")
	r0 := testutil.ToFloat64(reconcile)
	m.RecordReconcile(8001, "killed")
	assert.Equal(t, r0+1, testutil.ToFloat64(reconcile))
}

func TestRuntimeCollectorSetsActiveDeployments(t *testing.T) {
	rc := NewRuntimeCollector(time.Hour, func() int { return 3 })
	rc.Start(context.Background())
	defer rc.Stop()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(Get().DeploymentsActive) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Positive(t, testutil.ToFloat64(Get().GoroutineNum))
}
