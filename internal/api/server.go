// Package api exposes the pipeline operations over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"botforge/internal/docs"
	"botforge/internal/metrics"
	"botforge/internal/middleware"
	"botforge/internal/pipeline"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// ServiceInfo describes the synthesis backend for health reporting
type ServiceInfo struct {
	Provider string
	Endpoint string
	Model    string
}

// EventStream serves the per-run websocket
type EventStream interface {
	HandleWebSocket(c *gin.Context)
}

// Options wires a Server. Events and RateLimiter may be nil.
type Options struct {
	Pipeline       *pipeline.Orchestrator
	Extractor      *docs.Registry
	Events         EventStream
	Info           ServiceInfo
	RateLimiter    *middleware.IPRateLimiter
	AllowedOrigins []string
}

// Server represents the API server
type Server struct {
	pipeline  *pipeline.Orchestrator
	extractor *docs.Registry
	events    EventStream
	info      ServiceInfo
	limiter   *middleware.IPRateLimiter
	origins   []string
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Extractor == nil {
		opts.Extractor = docs.NewRegistry(50<<20, 100000)
	}
	return &Server{
		pipeline:  opts.Pipeline,
		extractor: opts.Extractor,
		events:    opts.Events,
		info:      opts.Info,
		limiter:   opts.RateLimiter,
		origins:   opts.AllowedOrigins,
	}
}

// Router builds the gin engine with middleware and routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger("/health", "/metrics"),
		middleware.Recovery(),
		middleware.CORS(s.origins),
		middleware.SecurityHeaders(),
		metrics.OperationMiddleware(),
	)

	r.GET("/", s.Root)
	r.GET("/health", s.Health)
	r.GET("/metrics", metrics.PrometheusHandler())

	api := r.Group("/api")
	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	{
		api.POST("/analyze-requirements", s.AnalyzeRequirements)
		api.POST("/analyze-requirements-full", s.AnalyzeRequirementsFull)
		api.POST("/generate-code", s.GenerateCode)
		api.POST("/generate-ui", s.GenerateUI)
		api.POST("/integrate-project", s.IntegrateProject)
		api.POST("/deploy-project", s.DeployProject)
		api.POST("/stop-deployment", s.StopDeployment)
		api.POST("/generate-full-project", s.GenerateFullProject)
		api.GET("/deployments", s.ListDeployments)
		api.GET("/runs/:id", s.GetRun)
		api.GET("/runs/:id/events", s.RunEvents)
		api.POST("/extract-document", middleware.BodyLimit(s.extractor.MaxBytes()+1<<20), s.ExtractDocument)
	}
	return r
}
