package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/codegen"
	"botforge/internal/logging"
	"botforge/internal/middleware"
	"botforge/internal/pipeline"
	"botforge/internal/requirements"
)

type requirementsRequest struct {
	Message      string `json:"message"`
	OutputFormat string `json:"output_format"`
}

type generationRequest struct {
	Requirements json.RawMessage `json:"requirements"`
}

type integrationRequest struct {
	BackendCode  string          `json:"backend_code"`
	UICode       string          `json:"ui_code"`
	Requirements json.RawMessage `json:"requirements"`
}

type deploymentRequest struct {
	ProjectDir string `json:"project_dir"`
}

type stopRequest struct {
	DeploymentID string `json:"deployment_id"`
}

type fullProjectRequest struct {
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

// bind decodes the JSON body into req. An empty body leaves req zeroed.
func bind(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && err != io.EOF {
		middleware.AbortWithError(c, apperr.Errorf(apperr.BadRequest, "api.bind", "invalid request body: %v", err))
		return false
	}
	return true
}

func badRequest(c *gin.Context, op, msg string) {
	middleware.AbortWithError(c, apperr.Errorf(apperr.BadRequest, op, "%s", msg))
}

// Root is a liveness probe
func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "botforge",
		"version": Version,
	})
}

// Health reports the synthesis configuration and deployment count
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"provider":           s.info.Provider,
		"provider_url":       s.info.Endpoint,
		"model":              s.info.Model,
		"active_deployments": len(s.pipeline.Deployments()),
		"version":            Version,
	})
}

// AnalyzeRequirements handles POST /api/analyze-requirements
func (s *Server) AnalyzeRequirements(c *gin.Context) {
	var req requirementsRequest
	if !bind(c, &req) {
		return
	}
	format := requirements.FormatText
	if strings.EqualFold(req.OutputFormat, string(requirements.FormatJSON)) {
		format = requirements.FormatJSON
	}

	res, err := s.pipeline.AnalyzeRequirements(c.Request.Context(), req.Message, format)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	var result any = res.Text
	if res.Format == requirements.FormatJSON {
		result = res.Structured
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"result":        result,
		"format":        res.Format,
		"specification": res.Specification,
	})
}

// AnalyzeRequirementsFull handles POST /api/analyze-requirements-full
func (s *Server) AnalyzeRequirementsFull(c *gin.Context) {
	var req requirementsRequest
	if !bind(c, &req) {
		return
	}
	full, err := s.pipeline.AnalyzeRequirementsFull(c.Request.Context(), req.Message)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"text_analysis": full.Text,
		"json_analysis": full.Structured,
		"specification": full.Specification,
		"degraded":      full.Degraded,
	})
}

// GenerateCode handles POST /api/generate-code
func (s *Server) GenerateCode(c *gin.Context) {
	var req generationRequest
	if !bind(c, &req) {
		return
	}
	spec, err := s.specification("api.generate_code", req.Requirements, true)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	art, err := s.pipeline.GenerateBackend(c.Request.Context(), spec)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"code":        art.Text,
		"length":      len(art.Text),
		"is_complete": art.IsComplete,
		"attempt":     art.Attempt,
		"archetype":   spec.Archetype,
	})
}

// GenerateUI handles POST /api/generate-ui
func (s *Server) GenerateUI(c *gin.Context) {
	var req generationRequest
	if !bind(c, &req) {
		return
	}
	spec, err := s.specification("api.generate_ui", req.Requirements, true)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	art, err := s.pipeline.GenerateUI(c.Request.Context(), spec)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"ui_code":     art.Text,
		"length":      len(art.Text),
		"is_complete": art.IsComplete,
		"attempt":     art.Attempt,
		"archetype":   spec.Archetype,
	})
}

// IntegrateProject handles POST /api/integrate-project
func (s *Server) IntegrateProject(c *gin.Context) {
	var req integrationRequest
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.BackendCode) == "" {
		badRequest(c, "api.integrate", "backend_code is required")
		return
	}

	var spec *requirements.Specification
	if hasValue(req.Requirements) {
		sp, err := s.specification("api.integrate", req.Requirements, false)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		spec = &sp
	}

	backend := artifactFrom(codegen.KindBackend, req.BackendCode)
	var ui *codegen.CodeArtifact
	if strings.TrimSpace(req.UICode) != "" {
		ui = artifactFrom(codegen.KindUI, req.UICode)
	}

	b, err := s.pipeline.IntegrateProject(c.Request.Context(), backend, ui, spec)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	_, statErr := os.Stat(b.RootPath)
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"project_dir":  b.RootPath,
		"exists":       statErr == nil,
		"project_id":   b.ID,
		"has_frontend": b.HasFrontend,
		"archive_url":  b.ArchiveURL,
	})
}

// DeployProject handles POST /api/deploy-project
func (s *Server) DeployProject(c *gin.Context) {
	var req deploymentRequest
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectDir) == "" {
		badRequest(c, "api.deploy", "project_dir is required")
		return
	}

	rec, err := s.pipeline.DeployProject(c.Request.Context(), req.ProjectDir)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"deployment_id": rec.DeploymentID,
		"backend_url":   rec.Backend.URL,
		"frontend_url":  rec.Frontend.URL,
		"deployment":    rec,
	})
}

// StopDeployment handles POST /api/stop-deployment. An omitted id stops all.
func (s *Server) StopDeployment(c *gin.Context) {
	var req stopRequest
	if !bind(c, &req) {
		return
	}
	stopped, err := s.pipeline.StopDeployment(c.Request.Context(), strings.TrimSpace(req.DeploymentID))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if stopped == nil {
		stopped = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"stopped": stopped,
	})
}

// GenerateFullProject handles POST /api/generate-full-project
func (s *Server) GenerateFullProject(c *gin.Context) {
	var req fullProjectRequest
	if !bind(c, &req) {
		return
	}
	runID := req.RunID
	if _, err := uuid.Parse(runID); err != nil {
		runID = uuid.New().String()
	}

	res, err := s.pipeline.RunFullPipelineWithID(c.Request.Context(), runID, req.Message)
	kind := apperr.KindOf(err)
	c.JSON(apperr.HTTPStatus(kind), struct {
		Code string `json:"code"`
		*pipeline.Result
	}{
		Code:   apperr.ResponseCode(kind),
		Result: res,
	})
}

// ListDeployments handles GET /api/deployments
func (s *Server) ListDeployments(c *gin.Context) {
	records := s.pipeline.Deployments()
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"count":       len(records),
		"deployments": records,
	})
}

// GetRun handles GET /api/runs/:id
func (s *Server) GetRun(c *gin.Context) {
	run, err := s.pipeline.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// RunEvents handles GET /api/runs/:id/events
func (s *Server) RunEvents(c *gin.Context) {
	if s.events == nil {
		middleware.AbortWithStatus(c, http.StatusServiceUnavailable, middleware.ErrorResponse{
			Error: "progress events are disabled",
			Code:  "unavailable",
		})
		return
	}
	s.events.HandleWebSocket(c)
}

// ExtractDocument handles POST /api/extract-document
func (s *Server) ExtractDocument(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "api.extract_document", "multipart field \"file\" is required")
		return
	}
	if limit := s.extractor.MaxBytes(); limit > 0 && fh.Size > limit {
		badRequest(c, "api.extract_document", "file too large")
		return
	}

	f, err := fh.Open()
	if err != nil {
		middleware.AbortWithError(c, apperr.New(apperr.BadRequest, "api.extract_document", err))
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		middleware.AbortWithError(c, apperr.New(apperr.BadRequest, "api.extract_document", err))
		return
	}

	res, err := s.extractor.Extract(fh.Filename, buf.Bytes(), fh.Header.Get("Content-Type"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	logging.L().Info("document extracted",
		zap.String("filename", res.Filename),
		zap.String("mime_type", res.MimeType),
		zap.Int("chars", res.OriginalLength),
		zap.Bool("truncated", res.Truncated))
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"document": res,
	})
}
