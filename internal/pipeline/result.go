package pipeline

import (
	"botforge/internal/apperr"
	"botforge/internal/bundle"
	"botforge/internal/codegen"
	"botforge/internal/deploy"
	"botforge/internal/requirements"
)

// Stage names a pipeline step
type Stage string

const (
	StageAnalyze         Stage = "analyze"
	StageGenerateBackend Stage = "generate_backend"
	StageGenerateUI      Stage = "generate_ui"
	StageIntegrate       Stage = "integrate"
	StageDeploy          Stage = "deploy"
)

// StageStatus is how a step ended
type StageStatus string

const (
	StatusSucceeded       StageStatus = "succeeded"
	StatusSkipped         StageStatus = "skipped"
	StatusFailedContinued StageStatus = "failed_continued"
	StatusFailed          StageStatus = "failed"
)

// Outcome summarizes a whole run for the caller
type Outcome string

const (
	OutcomeDeployed             Outcome = "deployed"
	OutcomeGeneratedNotDeployed Outcome = "generated_not_deployed"
	OutcomeGenerationIncomplete Outcome = "generation_incomplete"
	OutcomeFailed               Outcome = "failed"
)

// StageReport records one step of a run
type StageReport struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Detail     string      `json:"detail,omitempty"`
	Warning    apperr.Kind `json:"warning,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// AnalysisSection carries both analysis forms
type AnalysisSection struct {
	Text     string                `json:"text"`
	JSON     requirements.Analysis `json:"json,omitempty"`
	Degraded bool                  `json:"degraded"`
}

// GeneratedCode carries the artifacts of a run
type GeneratedCode struct {
	Backend       *codegen.CodeArtifact `json:"backend"`
	UI            *codegen.CodeArtifact `json:"ui,omitempty"`
	BackendLength int                   `json:"backend_length"`
	UILength      int                   `json:"ui_length"`
}

// ProjectSection describes the bundle on disk
type ProjectSection struct {
	Directory  string `json:"directory"`
	Exists     bool   `json:"exists"`
	ID         string `json:"id"`
	HasUI      bool   `json:"has_frontend"`
	ArchiveURL string `json:"archive_url,omitempty"`
}

// DeploymentSection reports the deploy outcome
type DeploymentSection struct {
	Status       string            `json:"status"`
	DeploymentID string            `json:"deployment_id,omitempty"`
	URLs         map[string]string `json:"urls,omitempty"`
	ErrorKind    apperr.Kind       `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Result is the consolidated output of RunFullPipeline
type Result struct {
	RunID         string                     `json:"run_id"`
	Status        string                     `json:"status"`
	Outcome       Outcome                    `json:"outcome"`
	Request       requirements.Truncation    `json:"request"`
	Specification requirements.Specification `json:"specification"`
	Analysis      AnalysisSection            `json:"requirements_analysis"`
	Code          GeneratedCode              `json:"generated_code"`
	Project       *ProjectSection            `json:"project,omitempty"`
	Deployment    *DeploymentSection         `json:"deployment,omitempty"`
	Stages        []StageReport              `json:"stages"`
	ErrorKind     apperr.Kind                `json:"error_kind,omitempty"`
	Error         string                     `json:"error,omitempty"`

	Bundle *bundle.ProjectBundle   `json:"-"`
	Record *deploy.DeploymentRecord `json:"-"`
}

// StageReport returns the report for s, if the run reached it
func (r *Result) StageReport(s Stage) (StageReport, bool) {
	for _, rep := range r.Stages {
		if rep.Stage == s {
			return rep, true
		}
	}
	return StageReport{}, false
}

func (r *Result) outcome() Outcome {
	if r.ErrorKind != "" {
		return OutcomeFailed
	}
	for _, rep := range r.Stages {
		if rep.Warning == apperr.IncompleteArtifact || (rep.Stage == StageGenerateUI && rep.Status == StatusFailedContinued) {
			return OutcomeGenerationIncomplete
		}
	}
	if rep, ok := r.StageReport(StageDeploy); ok && rep.Status == StatusSucceeded {
		return OutcomeDeployed
	}
	return OutcomeGeneratedNotDeployed
}
