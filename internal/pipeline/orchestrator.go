// Package pipeline sequences analysis, code generation, integration and
// deployment into a single run and applies the partial-failure policy.
package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/bundle"
	"botforge/internal/codegen"
	"botforge/internal/deploy"
	"botforge/internal/events"
	"botforge/internal/logging"
	"botforge/internal/metrics"
	"botforge/internal/requirements"
	"botforge/internal/store"
)

const storeWriteTimeout = 5 * time.Second

// Analyzer produces requirement analyses
type Analyzer interface {
	Analyze(ctx context.Context, message string, format requirements.Format) (*requirements.AnalysisResult, error)
	AnalyzeFull(ctx context.Context, message string) *requirements.FullAnalysis
	Classifier() *requirements.Classifier
}

// Generator produces one kind of code artifact
type Generator interface {
	Generate(ctx context.Context, spec requirements.Specification) (*codegen.CodeArtifact, error)
}

// Integrator writes project bundles
type Integrator interface {
	Integrate(ctx context.Context, backend, ui *codegen.CodeArtifact, spec *requirements.Specification) (*bundle.ProjectBundle, error)
}

// Deployer runs bundles as local services
type Deployer interface {
	Deploy(ctx context.Context, bundlePath string) (*deploy.DeploymentRecord, error)
	Stop(ctx context.Context, id string) error
	StopAll(ctx context.Context) ([]string, error)
	List() []*deploy.DeploymentRecord
}

// Options wires an Orchestrator. Deployer, Store and Events may be nil.
type Options struct {
	Analyzer         Analyzer
	Backend          Generator
	UI               Generator
	Integrator       Integrator
	Deployer         Deployer
	Store            *store.Store
	Events           events.Publisher
	MaxMessageLength int
	RequestTimeout   time.Duration
}

// Orchestrator implements the public pipeline operations
type Orchestrator struct {
	analyzer   Analyzer
	backend    Generator
	ui         Generator
	integrator Integrator
	deployer   Deployer
	store      *store.Store
	events     events.Publisher
	maxLength  int
	timeout    time.Duration
}

// New creates an orchestrator
func New(opts Options) *Orchestrator {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 15000
	}
	return &Orchestrator{
		analyzer:   opts.Analyzer,
		backend:    opts.Backend,
		ui:         opts.UI,
		integrator: opts.Integrator,
		deployer:   opts.Deployer,
		store:      opts.Store,
		events:     opts.Events,
		maxLength:  opts.MaxMessageLength,
		timeout:    opts.RequestTimeout,
	}
}

func (o *Orchestrator) normalize(op, message string) (string, requirements.Truncation, error) {
	if strings.TrimSpace(message) == "" {
		return "", requirements.Truncation{}, apperr.Errorf(apperr.BadRequest, op, "message is required")
	}
	text, tr := requirements.GenerationRequest{RawText: message, MaxLength: o.maxLength}.Normalize()
	if tr.Truncated {
		logging.L().Warn("request message truncated",
			zap.Int("original_length", tr.OriginalLength),
			zap.Int("truncated_length", tr.TruncatedLength))
	}
	return text, tr, nil
}

// AnalyzeRequirements returns a structured or narrative analysis. On a
// synthesis failure the degraded classifier-only result comes back with the error.
func (o *Orchestrator) AnalyzeRequirements(ctx context.Context, message string, format requirements.Format) (*requirements.AnalysisResult, error) {
	text, _, err := o.normalize("pipeline.analyze", message)
	if err != nil {
		return nil, err
	}
	return o.analyzer.Analyze(ctx, text, format)
}

// AnalyzeRequirementsFull returns both analysis forms and never fails on
// synthesis trouble.
func (o *Orchestrator) AnalyzeRequirementsFull(ctx context.Context, message string) (*requirements.FullAnalysis, error) {
	text, _, err := o.normalize("pipeline.analyze_full", message)
	if err != nil {
		return nil, err
	}
	return o.analyzer.AnalyzeFull(ctx, text), nil
}

// Classify turns free text into a Specification
func (o *Orchestrator) Classify(text string) requirements.Specification {
	return o.analyzer.Classifier().Classify(text)
}

// GenerateBackend runs the backend generation stage
func (o *Orchestrator) GenerateBackend(ctx context.Context, spec requirements.Specification) (*codegen.CodeArtifact, error) {
	return o.backend.Generate(ctx, spec)
}

// GenerateUI runs the UI generation stage
func (o *Orchestrator) GenerateUI(ctx context.Context, spec requirements.Specification) (*codegen.CodeArtifact, error) {
	return o.ui.Generate(ctx, spec)
}

// IntegrateProject writes a bundle from the given artifacts
func (o *Orchestrator) IntegrateProject(ctx context.Context, backend, ui *codegen.CodeArtifact, spec *requirements.Specification) (*bundle.ProjectBundle, error) {
	return o.integrator.Integrate(ctx, backend, ui, spec)
}

// DeployProject launches a bundle and records it in the history
func (o *Orchestrator) DeployProject(ctx context.Context, bundlePath string) (*deploy.DeploymentRecord, error) {
	return o.deploy(ctx, "", bundlePath)
}

func (o *Orchestrator) deploy(ctx context.Context, runID, bundlePath string) (*deploy.DeploymentRecord, error) {
	if o.deployer == nil {
		return nil, apperr.Errorf(apperr.Internal, "pipeline.deploy", "deployment is disabled")
	}
	rec, err := o.deployer.Deploy(ctx, bundlePath)
	if err != nil {
		return nil, err
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	err = o.store.RecordDeployment(sctx, &store.Deployment{
		ID:          rec.DeploymentID,
		RunID:       runID,
		BundleID:    rec.BundleID,
		BundlePath:  rec.BundlePath,
		BackendPID:  rec.Backend.PID,
		FrontendPID: rec.Frontend.PID,
		BackendURL:  rec.Backend.URL,
		FrontendURL: rec.Frontend.URL,
	})
	if err != nil {
		logging.L().Warn("failed to record deployment", zap.String("deployment_id", rec.DeploymentID), zap.Error(err))
	}
	return rec, nil
}

// StopDeployment stops one deployment, or every deployment when id is
// empty, and returns the ids stopped.
func (o *Orchestrator) StopDeployment(ctx context.Context, id string) ([]string, error) {
	if o.deployer == nil {
		return nil, apperr.Errorf(apperr.Internal, "pipeline.stop", "deployment is disabled")
	}
	var stopped []string
	var err error
	if id == "" {
		stopped, err = o.deployer.StopAll(ctx)
	} else if err = o.deployer.Stop(ctx, id); err == nil {
		stopped = []string{id}
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	for _, sid := range stopped {
		if serr := o.store.MarkDeploymentStopped(sctx, sid); serr != nil {
			logging.L().Warn("failed to record deployment stop", zap.String("deployment_id", sid), zap.Error(serr))
		}
	}
	return stopped, err
}

// Deployments lists the registered deployments
func (o *Orchestrator) Deployments() []*deploy.DeploymentRecord {
	if o.deployer == nil {
		return nil
	}
	return o.deployer.List()
}

// Run loads a persisted run summary
func (o *Orchestrator) Run(ctx context.Context, id string) (*store.Run, error) {
	return o.store.GetRun(ctx, id)
}

// RunFullPipeline runs every stage for one message. The Result is always
// returned; the error is set only when a fatal stage aborted the run.
func (o *Orchestrator) RunFullPipeline(ctx context.Context, message string) (*Result, error) {
	return o.RunFullPipelineWithID(ctx, uuid.New().String(), message)
}

// RunFullPipelineWithID is RunFullPipeline with a caller-chosen run id, so a
// client can subscribe to progress events before the run starts.
func (o *Orchestrator) RunFullPipelineWithID(ctx context.Context, runID, message string) (*Result, error) {
	res := &Result{RunID: runID, Status: "success"}
	text, tr, err := o.normalize("pipeline.run", message)
	if err != nil {
		return o.fail(ctx, res, nil, err)
	}
	res.Request = tr

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	r := &run{o: o, res: res, message: text, log: logging.WithContext(zap.String("run_id", runID))}
	r.persist(ctx, "running")
	o.events.Publish(&events.Event{Type: events.TypeRunStarted, RunID: runID})
	r.log.Info("pipeline run started", zap.Int("message_length", tr.OriginalLength), zap.Bool("truncated", tr.Truncated))

	// 1. Analyze. Never fatal.
	var analysis *requirements.FullAnalysis
	r.stage(ctx, StageAnalyze, func() (StageStatus, string, error) {
		analysis = o.analyzer.AnalyzeFull(ctx, text)
		if analysis.Degraded {
			return StatusFailedContinued, "synthesis unavailable; classifier result used", nil
		}
		return StatusSucceeded, string(analysis.Specification.Archetype), nil
	})
	spec := analysis.Specification
	res.Specification = spec
	res.Analysis = AnalysisSection{Text: analysis.Text, JSON: analysis.Structured, Degraded: analysis.Degraded}

	// 2. Backend. Fatal on total failure.
	var backend *codegen.CodeArtifact
	var fatal error
	r.stage(ctx, StageGenerateBackend, func() (StageStatus, string, error) {
		backend, fatal = o.backend.Generate(ctx, spec)
		if fatal != nil {
			return StatusFailed, fatal.Error(), fatal
		}
		return StatusSucceeded, attemptDetail(backend), nil
	})
	res.Code.Backend = backend
	if backend != nil {
		res.Code.BackendLength = len(backend.Text)
	}
	if fatal != nil {
		return o.fail(ctx, res, r, fatal)
	}
	if !backend.IsComplete {
		r.warn(StageGenerateBackend, apperr.IncompleteArtifact)
	}

	// 3. UI. Optional and non-fatal.
	var ui *codegen.CodeArtifact
	if !NeedsUI(text, analysis) {
		r.skip(ctx, StageGenerateUI, "request does not call for a user interface")
	} else {
		r.stage(ctx, StageGenerateUI, func() (StageStatus, string, error) {
			art, err := o.ui.Generate(ctx, spec)
			if err != nil {
				res.Code.UI = art
				return StatusFailedContinued, err.Error(), nil
			}
			if strings.TrimSpace(art.Text) == "" {
				res.Code.UI = art
				return StatusSkipped, "empty UI artifact", nil
			}
			ui = art
			res.Code.UI = art
			res.Code.UILength = len(art.Text)
			return StatusSucceeded, attemptDetail(art), nil
		})
		if ui != nil && !ui.IsComplete {
			r.warn(StageGenerateUI, apperr.IncompleteArtifact)
		}
	}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, res, r, apperr.New(apperr.Timeout, "pipeline.run", err))
	}

	// 4. Integrate. Fatal.
	var b *bundle.ProjectBundle
	r.stage(ctx, StageIntegrate, func() (StageStatus, string, error) {
		b, fatal = o.integrator.Integrate(ctx, backend, ui, &spec)
		if fatal != nil {
			return StatusFailed, fatal.Error(), fatal
		}
		return StatusSucceeded, b.RootPath, nil
	})
	if fatal != nil {
		return o.fail(ctx, res, r, fatal)
	}
	res.Bundle = b
	res.Project = &ProjectSection{Directory: b.RootPath, Exists: true, ID: b.ID, HasUI: b.HasFrontend, ArchiveURL: b.ArchiveURL}

	// 5. Deploy. Non-fatal.
	if o.deployer == nil {
		r.skip(ctx, StageDeploy, "deployment is disabled")
		res.Deployment = &DeploymentSection{Status: "skipped"}
	} else {
		r.stage(ctx, StageDeploy, func() (StageStatus, string, error) {
			rec, err := o.deploy(ctx, runID, b.RootPath)
			if err != nil {
				res.Deployment = &DeploymentSection{Status: "failed", ErrorKind: apperr.KindOf(err), Error: err.Error()}
				return StatusFailedContinued, err.Error(), nil
			}
			res.Record = rec
			res.Deployment = &DeploymentSection{Status: "deployed", DeploymentID: rec.DeploymentID, URLs: rec.URLs()}
			return StatusSucceeded, rec.DeploymentID, nil
		})
		if err := ctx.Err(); err != nil && res.Record == nil {
			return o.fail(ctx, res, r, apperr.New(apperr.Timeout, "pipeline.run", err))
		}
	}

	res.Outcome = res.outcome()
	metrics.Get().RecordPipelineRun(string(res.Outcome))
	r.persist(ctx, string(res.Outcome))
	o.events.Publish(&events.Event{Type: events.TypeRunCompleted, RunID: runID, Status: string(res.Outcome)})
	r.log.Info("pipeline run finished", zap.String("outcome", string(res.Outcome)))
	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, res *Result, r *run, err error) (*Result, error) {
	res.Status = "error"
	res.ErrorKind = apperr.KindOf(err)
	res.Error = err.Error()
	res.Outcome = OutcomeFailed
	metrics.Get().RecordPipelineRun(string(OutcomeFailed))
	if r != nil {
		r.log.Error("pipeline run failed", zap.String("error_kind", string(res.ErrorKind)), zap.Error(err))
		r.persist(ctx, string(OutcomeFailed))
		o.events.Publish(&events.Event{
			Type:   events.TypeRunCompleted,
			RunID:  res.RunID,
			Status: string(OutcomeFailed),
			Data:   map[string]any{"error": res.Error, "error_kind": res.ErrorKind},
		})
	}
	return res, err
}

// storeContext detaches history writes from the request so a fired deadline
// still lets the final status land.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

func attemptDetail(a *codegen.CodeArtifact) string {
	if a == nil {
		return ""
	}
	if a.IsComplete {
		return "complete on attempt " + strconv.Itoa(a.Attempt)
	}
	return "incomplete after attempt " + strconv.Itoa(a.Attempt)
}
