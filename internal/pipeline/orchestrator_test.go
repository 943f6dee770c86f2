package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/apperr"
	"botforge/internal/bundle"
	"botforge/internal/codegen"
	"botforge/internal/deploy"
	"botforge/internal/events"
	"botforge/internal/requirements"
	"botforge/internal/store"
	"botforge/internal/synthesis"
)

const chatbotBackend = "```python\nimport os\nfrom fastapi import FastAPI\n\napp = FastAPI()\n\n@app.post(\"/chat\")\ndef chat(message: dict):\n    return {\"reply\": message.get(\"message\", \"\")}\n```"

const crudBackend = "import sqlite3\nfrom fastapi import FastAPI, HTTPException\n\napp = FastAPI()\n\n@app.get(\"/employees\")\ndef list_employees():\n    return []\n\n@app.post(\"/employees\")\ndef add_employee(e: dict):\n    return e\n"

const chatbotUI = `function App() {
  const [messages, setMessages] = React.useState([]);
  const send = async (text) => {
    const res = await fetch(API_BASE_URL + "/chat", { method: "POST", body: JSON.stringify({ message: text }) });
    setMessages([...messages, await res.json()]);
  };
  return null;
}`

// promptClient answers by prompt type. A nil reply for a type means the
// service is down for that type.
type promptClient struct {
	mu       sync.Mutex
	json     *string
	text     *string
	backend  *string
	ui       *string
	requests map[string]int
}

func str(s string) *string { return &s }

func (c *promptClient) Complete(_ context.Context, req *synthesis.Request) (*synthesis.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requests == nil {
		c.requests = make(map[string]int)
	}

	var kind string
	var reply *string
	switch {
	case strings.Contains(req.Prompt, "requirements analyst") && strings.Contains(req.Prompt, "valid JSON object"):
		kind, reply = "json", c.json
	case strings.Contains(req.Prompt, "requirements analyst"):
		kind, reply = "text", c.text
	case strings.Contains(req.Prompt, "frontend engineer expert in React"):
		kind, reply = "ui", c.ui
	default:
		kind, reply = "backend", c.backend
	}
	c.requests[kind]++
	if reply == nil {
		return nil, apperr.Errorf(apperr.SynthesisUnavailable, "test", "connection refused")
	}
	return &synthesis.Response{Text: *reply}, nil
}

func (c *promptClient) Health(context.Context) error { return nil }
func (c *promptClient) Provider() synthesis.Provider { return "prompt" }
func (c *promptClient) Model() string                { return "prompt" }
func (c *promptClient) Endpoint() string             { return "" }

func (c *promptClient) calls(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[kind]
}

// slowClient never answers before the caller's deadline
type slowClient struct{ promptClient }

func (c *slowClient) Complete(ctx context.Context, _ *synthesis.Request) (*synthesis.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeDeployer struct {
	mu       sync.Mutex
	err      error
	hang     bool
	deployed []string
	stopped  []string
	records  []*deploy.DeploymentRecord
}

func (d *fakeDeployer) Deploy(ctx context.Context, path string) (*deploy.DeploymentRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployed = append(d.deployed, path)
	if d.hang {
		<-ctx.Done()
		return nil, apperr.New(apperr.Timeout, "test.deploy", ctx.Err())
	}
	if d.err != nil {
		return nil, d.err
	}
	rec := &deploy.DeploymentRecord{
		DeploymentID: "dep-" + filepath.Base(path),
		BundlePath:   path,
		Backend:      &deploy.ServiceProcess{Kind: deploy.KindBackend, PID: 1001, Port: 8001, URL: "http://127.0.0.1:8001"},
		Frontend:     &deploy.ServiceProcess{Kind: deploy.KindFrontend, PID: 1002, Port: 3000, URL: "http://127.0.0.1:3000"},
		CreatedAt:    time.Now(),
	}
	d.records = append(d.records, rec)
	return rec, nil
}

func (d *fakeDeployer) Stop(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.records {
		if rec.DeploymentID == id {
			d.stopped = append(d.stopped, id)
			return nil
		}
	}
	return apperr.Errorf(apperr.NotFound, "test.stop", "deployment %s not found", id)
}

func (d *fakeDeployer) StopAll(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, rec := range d.records {
		ids = append(ids, rec.DeploymentID)
	}
	d.stopped = append(d.stopped, ids...)
	return ids, nil
}

func (d *fakeDeployer) List() []*deploy.DeploymentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*deploy.DeploymentRecord(nil), d.records...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(e *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	client   *promptClient
	deployer *fakeDeployer
	store    *store.Store
	events   *recordingPublisher
	root     string
}

func newHarness(t *testing.T, client *promptClient, withDeployer bool) *harness {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(store.Config{SQLitePath: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{client: client, store: st, events: &recordingPublisher{}, root: root}
	opts := Options{
		Analyzer:   requirements.NewAnalyzer(client, requirements.NewClassifier(), nil),
		Backend:    codegen.NewStage(codegen.KindBackend, client),
		UI:         codegen.NewStage(codegen.KindUI, client),
		Integrator: bundle.NewIntegrator(bundle.Options{Root: root}),
		Store:      st,
		Events:     h.events,
	}
	if withDeployer {
		h.deployer = &fakeDeployer{}
		opts.Deployer = h.deployer
	}
	h.orch = New(opts)
	return h
}

func chatbotClient() *promptClient {
	return &promptClient{
		json:    str(`{"purpose": ["explain Python"], "constraints": ["max 2 sentences per reply"]}`),
		text:    str("1. Purpose/goal: explain Python\n- short answers"),
		backend: str(chatbotBackend),
		ui:      str(chatbotUI),
	}
}

func statuses(res *Result) map[Stage]StageStatus {
	out := make(map[Stage]StageStatus)
	for _, s := range res.Stages {
		out[s.Stage] = s.Status
	}
	return out
}

func nonEmptyDir(t *testing.T, dir string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func TestRunFullPipelineChatbot(t *testing.T) {
	h := newHarness(t, chatbotClient(), true)

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python, max 2 sentences per reply")
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	require.True(t, res.Specification.IsChatbot())
	assert.Equal(t, 2, res.Specification.Chatbot.MaxSentences)

	require.NotNil(t, res.Code.Backend)
	assert.True(t, res.Code.Backend.IsComplete)
	assert.Contains(t, res.Code.Backend.Text, "/chat")
	require.NotNil(t, res.Code.UI)
	assert.True(t, res.Code.UI.IsComplete)
	assert.Equal(t, len(res.Code.UI.Text), res.Code.UILength)

	require.NotNil(t, res.Project)
	assert.True(t, res.Project.Exists)
	assert.True(t, res.Project.HasUI)
	assert.True(t, nonEmptyDir(t, filepath.Join(res.Project.Directory, bundle.BackendDir)))
	assert.True(t, nonEmptyDir(t, filepath.Join(res.Project.Directory, bundle.FrontendDir)))

	require.NotNil(t, res.Deployment)
	assert.Equal(t, "deployed", res.Deployment.Status)
	assert.NotEqual(t, res.Deployment.URLs["backend"], res.Deployment.URLs["frontend"])
	assert.Equal(t, []string{res.Project.Directory}, h.deployer.deployed)

	assert.Equal(t, map[Stage]StageStatus{
		StageAnalyze:         StatusSucceeded,
		StageGenerateBackend: StatusSucceeded,
		StageGenerateUI:      StatusSucceeded,
		StageIntegrate:       StatusSucceeded,
		StageDeploy:          StatusSucceeded,
	}, statuses(res))

	types := h.events.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeRunStarted, types[0])
	assert.Equal(t, events.TypeRunCompleted, types[len(types)-1])

	saved, err := h.orch.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeDeployed), saved.Status)
	assert.Equal(t, "chatbot", saved.Archetype)
	assert.Equal(t, "http://127.0.0.1:8001", saved.BackendURL)
	assert.Len(t, saved.Stages, 5)
	assert.NotNil(t, saved.CompletedAt)

	deps, err := h.store.ListDeployments(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, res.RunID, deps[0].RunID)
}

func TestRunFullPipelineSkipsUIForPlainCRUD(t *testing.T) {
	client := &promptClient{
		json:    str(`{"purpose": ["track employees"], "domain": ["salary records"]}`),
		text:    str("PURPOSE\n- track employees\n- store salary records"),
		backend: str(crudBackend),
	}
	h := newHarness(t, client, false)

	res, err := h.orch.RunFullPipeline(context.Background(), "Store records of employees with a UNIQUE constraint failed error handler")
	require.NoError(t, err)

	assert.Equal(t, requirements.ArchetypeCRUD, res.Specification.Archetype)
	assert.Equal(t, StatusSkipped, statuses(res)[StageGenerateUI])
	assert.Equal(t, StatusSkipped, statuses(res)[StageDeploy])
	assert.Zero(t, client.calls("ui"))
	assert.Nil(t, res.Code.UI)
	assert.Equal(t, OutcomeGeneratedNotDeployed, res.Outcome)

	require.NotNil(t, res.Project)
	assert.False(t, res.Project.HasUI)
	assert.True(t, nonEmptyDir(t, filepath.Join(res.Project.Directory, bundle.BackendDir)))
}

func TestRunFullPipelineTotalOutage(t *testing.T) {
	h := newHarness(t, &promptClient{}, true)

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.SynthesisUnavailable)

	assert.Equal(t, "error", res.Status)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apperr.SynthesisUnavailable, res.ErrorKind)
	assert.Nil(t, res.Project)
	assert.Empty(t, h.deployer.deployed)
	assert.True(t, res.Analysis.Degraded)
	assert.Equal(t, StatusFailedContinued, statuses(res)[StageAnalyze])
	assert.Equal(t, StatusFailed, statuses(res)[StageGenerateBackend])
	assert.Equal(t, 3, h.client.calls("backend"))

	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no bundle is written")

	saved, err := h.orch.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeFailed), saved.Status)
	assert.Equal(t, string(apperr.SynthesisUnavailable), saved.ErrorKind)
}

func TestRunFullPipelineUIFailureContinues(t *testing.T) {
	client := chatbotClient()
	client.ui = nil
	h := newHarness(t, client, true)

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.NoError(t, err)

	assert.Equal(t, StatusFailedContinued, statuses(res)[StageGenerateUI])
	assert.Equal(t, OutcomeGenerationIncomplete, res.Outcome)
	require.NotNil(t, res.Project)
	assert.False(t, res.Project.HasUI)
	require.NotNil(t, res.Code.UI)
	assert.NotEmpty(t, res.Code.UI.Error)
	assert.Zero(t, res.Code.UILength)
}

func TestRunFullPipelineEmptyUIIsSkipped(t *testing.T) {
	client := chatbotClient()
	client.ui = str("")
	h := newHarness(t, client, true)

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.NoError(t, err)

	rep, ok := res.StageReport(StageGenerateUI)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, rep.Status)
	assert.Equal(t, "empty UI artifact", rep.Detail)
	assert.Equal(t, 3, client.calls("ui"))
	assert.Equal(t, OutcomeDeployed, res.Outcome)
	require.NotNil(t, res.Project)
	assert.False(t, res.Project.HasUI)
	assert.Zero(t, res.Code.UILength)
}

func TestRunFullPipelineTimeoutIsPersisted(t *testing.T) {
	client := &slowClient{}
	h := newHarness(t, &client.promptClient, true)
	h.orch = New(Options{
		Analyzer:       requirements.NewAnalyzer(client, requirements.NewClassifier(), nil),
		Backend:        codegen.NewStage(codegen.KindBackend, client),
		UI:             codegen.NewStage(codegen.KindUI, client),
		Integrator:     bundle.NewIntegrator(bundle.Options{Root: h.root}),
		Deployer:       h.deployer,
		Store:          h.store,
		RequestTimeout: 200 * time.Millisecond,
	})

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.Timeout)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Nil(t, res.Project)

	saved, err := h.orch.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeFailed), saved.Status)
	assert.Equal(t, string(apperr.Timeout), saved.ErrorKind)
	assert.NotNil(t, saved.CompletedAt)
}

func TestRunFullPipelineTimeoutDuringDeploy(t *testing.T) {
	h := newHarness(t, chatbotClient(), true)
	h.deployer.hang = true
	h.orch.timeout = time.Second

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.Timeout)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StatusFailedContinued, statuses(res)[StageDeploy])
	require.NotNil(t, res.Project, "the generated bundle is still reported")

	saved, err := h.orch.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeFailed), saved.Status)
	assert.Equal(t, string(apperr.Timeout), saved.ErrorKind)
}

func TestRunFullPipelineIncompleteBackendWarns(t *testing.T) {
	client := chatbotClient()
	client.backend = str("print('hello')")
	h := newHarness(t, client, true)

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.NoError(t, err)

	rep, ok := res.StageReport(StageGenerateBackend)
	require.True(t, ok)
	assert.Equal(t, apperr.IncompleteArtifact, rep.Warning)
	assert.Equal(t, OutcomeGenerationIncomplete, res.Outcome)
	assert.NotNil(t, res.Project)
}

func TestRunFullPipelineDeployFailure(t *testing.T) {
	h := newHarness(t, chatbotClient(), true)
	h.deployer.err = apperr.Errorf(apperr.ProcessCrashedOnStartup, "test.deploy", "backend exited")

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot that explains Python")
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, OutcomeGeneratedNotDeployed, res.Outcome)
	assert.Equal(t, StatusFailedContinued, statuses(res)[StageDeploy])
	require.NotNil(t, res.Deployment)
	assert.Equal(t, "failed", res.Deployment.Status)
	assert.Equal(t, apperr.ProcessCrashedOnStartup, res.Deployment.ErrorKind)
	require.NotNil(t, res.Project)
	assert.True(t, res.Project.Exists)
}

func TestRunFullPipelineRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, chatbotClient(), true)

	for _, msg := range []string{"", "   \n\t"} {
		res, err := h.orch.RunFullPipeline(context.Background(), msg)
		assert.ErrorIs(t, err, apperr.BadRequest)
		assert.Equal(t, apperr.BadRequest, res.ErrorKind)
	}
	assert.Zero(t, h.client.calls("json"))
	assert.Empty(t, h.events.types())
}

func TestRunFullPipelineTruncatesLongMessages(t *testing.T) {
	h := newHarness(t, chatbotClient(), false)
	h.orch.maxLength = 100

	res, err := h.orch.RunFullPipeline(context.Background(), "Build a chatbot "+strings.Repeat("that explains Python ", 20))
	require.NoError(t, err)
	assert.True(t, res.Request.Truncated)
	assert.Greater(t, res.Request.OriginalLength, 100)
}

func TestStopDeployment(t *testing.T) {
	h := newHarness(t, chatbotClient(), true)
	ctx := context.Background()

	res, err := h.orch.RunFullPipeline(ctx, "Build a chatbot that explains Python")
	require.NoError(t, err)
	id := res.Deployment.DeploymentID

	stopped, err := h.orch.StopDeployment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, stopped)

	deps, err := h.store.ListDeployments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, store.DeploymentStopped, deps[0].Status)

	_, err = h.orch.StopDeployment(ctx, "missing")
	assert.ErrorIs(t, err, apperr.NotFound)

	stopped, err = h.orch.StopDeployment(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, stopped)
}

func TestDeploymentDisabled(t *testing.T) {
	h := newHarness(t, chatbotClient(), false)

	_, err := h.orch.DeployProject(context.Background(), "/tmp/x")
	assert.Error(t, err)
	_, err = h.orch.StopDeployment(context.Background(), "")
	assert.Error(t, err)
	assert.Nil(t, h.orch.Deployments())
}

func TestAnalyzeRequirementsDegraded(t *testing.T) {
	h := newHarness(t, &promptClient{}, false)

	full, err := h.orch.AnalyzeRequirementsFull(context.Background(), "Build a chatbot that explains Python")
	require.NoError(t, err)
	assert.True(t, full.Degraded)
	assert.True(t, full.Specification.IsChatbot())

	res, err := h.orch.AnalyzeRequirements(context.Background(), "Build a chatbot", requirements.FormatJSON)
	assert.True(t, errors.Is(err, apperr.SynthesisUnavailable))
	require.NotNil(t, res)
	assert.True(t, res.Degraded)
}

func TestNeedsUI(t *testing.T) {
	crud := requirements.NewClassifier().Classify("Store employee records with a salary field")

	tests := []struct {
		name     string
		message  string
		analysis *requirements.FullAnalysis
		want     bool
	}{
		{
			name:     "chatbot always",
			message:  "answer questions about tax law",
			analysis: &requirements.FullAnalysis{Specification: requirements.NewClassifier().Classify("a chatbot for tax questions")},
			want:     true,
		},
		{
			name:    "keyword in message",
			message: "a dashboard for inventory",
			want:    true,
		},
		{
			name:     "keyword in narrative",
			message:  "store employee records",
			analysis: &requirements.FullAnalysis{Text: "Needs a web page for HR staff", Specification: crud},
			want:     true,
		},
		{
			name:    "keyword in structured analysis",
			message: "store employee records",
			analysis: &requirements.FullAnalysis{
				Structured:    requirements.Analysis{"integration": {"React"}},
				Specification: crud,
			},
			want: true,
		},
		{
			name:     "substring match",
			message:  "store records and rebuild the index nightly",
			analysis: &requirements.FullAnalysis{Specification: crud},
			want:     true,
		},
		{
			name:     "assistant",
			message:  "an assistant for scheduling shifts",
			analysis: &requirements.FullAnalysis{Specification: crud},
			want:     true,
		},
		{
			name:     "no keyword",
			message:  "store employee records",
			analysis: &requirements.FullAnalysis{Text: "PURPOSE\n- payroll", Specification: crud},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsUI(tt.message, tt.analysis))
		})
	}
}
