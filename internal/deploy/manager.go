package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"botforge/internal/apperr"
	"botforge/internal/bundle"
	"botforge/internal/logging"
	"botforge/internal/metrics"
)

const (
	DefaultBackendCommand  = "python -m uvicorn app:app --host 0.0.0.0 --port {port}"
	DefaultFrontendCommand = "python -m http.server {port}"
)

// Installer prepares a backend directory before launch
type Installer interface {
	Install(ctx context.Context, backendDir string) error
}

// PipInstaller runs pip against the backend's requirements.txt
type PipInstaller struct {
	Python  string
	Timeout time.Duration
}

func (p PipInstaller) Install(ctx context.Context, backendDir string) error {
	python := p.Python
	if python == "" {
		python = "python"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, python, "-m", "pip", "install", "-q", "-r", bundle.RequirementsTxt)
	cmd.Dir = backendDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pip install: %w: %s", err, lastLines(string(out), 10))
	}
	return nil
}

// Options configures a Manager
type Options struct {
	Host            string
	BackendPort     int
	FrontendPort    int
	BackendCommand  string
	FrontendCommand string
	GracePeriod     time.Duration
	StopTimeout     time.Duration

	Launcher   Launcher
	Reconciler *Reconciler
	Installer  Installer // nil skips dependency installation
}

// Manager deploys bundles as local processes and tracks them in a Registry
type Manager struct {
	opts     Options
	registry *Registry
}

// NewManager creates a manager, filling unset options with defaults
func NewManager(opts Options) *Manager {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.BackendPort == 0 {
		opts.BackendPort = 8001
	}
	if opts.FrontendPort == 0 {
		opts.FrontendPort = 3000
	}
	if opts.BackendCommand == "" {
		opts.BackendCommand = DefaultBackendCommand
	}
	if opts.FrontendCommand == "" {
		opts.FrontendCommand = DefaultFrontendCommand
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 2 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.Launcher == nil {
		opts.Launcher = NewExecLauncher()
	}
	if opts.Reconciler == nil {
		opts.Reconciler = NewReconciler(NewSystemProcessTable(), "")
	}
	return &Manager{opts: opts, registry: NewRegistry()}
}

// Registry exposes the deployment registry
func (m *Manager) Registry() *Registry { return m.registry }

// List returns all registered deployments
func (m *Manager) List() []*DeploymentRecord { return m.registry.List() }

// Get looks up one deployment
func (m *Manager) Get(id string) (*DeploymentRecord, bool) { return m.registry.Get(id) }

// ActiveCount reports how many deployments still have a live service
func (m *Manager) ActiveCount() int { return m.registry.ActiveCount() }

// Deploy launches the bundle at bundlePath. Either both services are running
// and registered on return, or neither is left running.
func (m *Manager) Deploy(ctx context.Context, bundlePath string) (*DeploymentRecord, error) {
	const op = "deploy.deploy"
	if m.opts.BackendPort == m.opts.FrontendPort {
		return nil, apperr.Errorf(apperr.Internal, op, "backend and frontend ports must differ (both %d)", m.opts.BackendPort)
	}

	b, err := m.prepare(ctx, bundlePath)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	log := logging.WithContext(zap.String("deployment_id", id), zap.String("bundle_path", b.RootPath))
	log.Info("deploying bundle")

	for _, port := range []int{m.opts.BackendPort, m.opts.FrontendPort} {
		if _, err := m.opts.Reconciler.Reconcile(ctx, port); err != nil {
			metrics.Get().RecordDeployment("port_conflict")
			log.Error("port reconciliation failed", zap.Error(err))
			return nil, err
		}
	}

	rec := &DeploymentRecord{
		DeploymentID: id,
		BundleID:     b.ID,
		BundlePath:   b.RootPath,
		Backend:      newServiceProcess(KindBackend, m.opts.BackendPort, m.url(m.opts.BackendPort)),
		Frontend:     newServiceProcess(KindFrontend, m.opts.FrontendPort, m.url(m.opts.FrontendPort)),
		CreatedAt:    time.Now().UTC(),
	}

	launches := []struct {
		svc     *ServiceProcess
		dir     string
		command string
	}{
		{rec.Backend, b.BackendPath, m.opts.BackendCommand},
		{rec.Frontend, b.FrontendPath, m.opts.FrontendCommand},
	}
	for _, l := range launches {
		if err := m.launch(ctx, l.svc, l.dir, l.command); err != nil {
			log.Error("service failed to start", zap.String("kind", string(l.svc.Kind)), zap.Error(err))
			m.teardown(rec)
			metrics.Get().RecordDeployment("failed")
			return nil, apperr.New(apperr.ProcessCrashedOnStartup, op, err)
		}
	}

	if err := m.awaitGrace(ctx, rec); err != nil {
		log.Error("deployment did not survive startup", zap.Error(err))
		m.teardown(rec)
		if apperr.KindOf(err) == apperr.Timeout {
			metrics.Get().RecordDeployment("cancelled")
			return nil, apperr.New(apperr.Timeout, op, err)
		}
		metrics.Get().RecordDeployment("failed")
		return nil, apperr.New(apperr.ProcessCrashedOnStartup, op, err)
	}

	for _, svc := range []*ServiceProcess{rec.Backend, rec.Frontend} {
		svc.transition(StateRunning)
		go m.monitor(svc)
	}
	m.registry.Put(rec)
	metrics.Get().RecordDeployment("success")
	metrics.Get().SetActiveDeployments(m.registry.ActiveCount())
	log.Info("deployment running",
		zap.Int("backend_pid", rec.Backend.PID),
		zap.Int("frontend_pid", rec.Frontend.PID),
		zap.String("backend_url", rec.Backend.URL),
		zap.String("frontend_url", rec.Frontend.URL))
	return rec, nil
}

func (m *Manager) url(port int) string {
	return fmt.Sprintf("http://%s:%d", m.opts.Host, port)
}

// prepare checks the bundle layout and installs backend dependencies
func (m *Manager) prepare(ctx context.Context, bundlePath string) (*bundle.ProjectBundle, error) {
	const op = "deploy.prepare"
	if bundlePath == "" {
		return nil, apperr.Errorf(apperr.BadRequest, op, "project directory is required")
	}
	b, err := bundle.Load(bundlePath)
	if err != nil {
		return nil, apperr.Errorf(apperr.BadRequest, op, "project directory %s: %v", bundlePath, err)
	}
	if _, err := os.Stat(filepath.Join(b.BackendPath, bundle.BackendEntry)); err != nil {
		return nil, apperr.Errorf(apperr.BadRequest, op, "backend entry %s not found in %s", bundle.BackendEntry, b.BackendPath)
	}
	if err := os.MkdirAll(b.FrontendPath, 0o755); err != nil {
		return nil, apperr.New(apperr.Internal, op, err)
	}

	reqs := filepath.Join(b.BackendPath, bundle.RequirementsTxt)
	if _, err := os.Stat(reqs); errors.Is(err, os.ErrNotExist) {
		manifest := bundle.Manifest{Dependencies: bundle.BaselineDependencies}
		if err := os.WriteFile(reqs, []byte(manifest.RequirementsTxt()), 0o644); err != nil {
			return nil, apperr.New(apperr.Internal, op, err)
		}
	}

	if m.opts.Installer != nil {
		if err := m.opts.Installer.Install(ctx, b.BackendPath); err != nil {
			logging.L().Warn("dependency installation failed; continuing", zap.String("bundle_path", b.RootPath), zap.Error(err))
		}
	}
	return b, nil
}

func (m *Manager) launch(ctx context.Context, svc *ServiceProcess, dir, command string) error {
	p, err := m.opts.Launcher.Launch(ctx, LaunchSpec{
		Kind:    svc.Kind,
		Dir:     dir,
		Command: expandCommand(command, svc.Port),
		Port:    svc.Port,
	})
	if err != nil {
		svc.transition(StateFailed)
		return err
	}
	svc.proc = p
	svc.PID = p.PID()
	svc.StartedAt = time.Now().UTC()
	logging.L().Info("service started",
		zap.String("kind", string(svc.Kind)), zap.Int("pid", svc.PID), zap.Int("port", svc.Port))
	return nil
}

// awaitGrace waits out the grace period and fails if either process exits first
func (m *Manager) awaitGrace(ctx context.Context, rec *DeploymentRecord) error {
	timer := time.NewTimer(m.opts.GracePeriod)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rec.Backend.proc.Done():
		return crashed(rec.Backend)
	case <-rec.Frontend.proc.Done():
		return crashed(rec.Frontend)
	case <-timer.C:
		return nil
	}
}

func crashed(svc *ServiceProcess) error {
	svc.transition(StateFailed)
	return fmt.Errorf("%s process %d exited during startup (%v): %s",
		svc.Kind, svc.PID, svc.proc.ExitErr(), lastLines(svc.Output(), 20))
}

// monitor marks a running service stopped once its process exits, whether
// through Stop or because another deploy reclaimed the port.
func (m *Manager) monitor(svc *ServiceProcess) {
	<-svc.proc.Done()
	if svc.transition(StateStopped) {
		logging.L().Info("service exited",
			zap.String("kind", string(svc.Kind)), zap.Int("pid", svc.PID), zap.Int("port", svc.Port))
	}
	metrics.Get().SetActiveDeployments(m.registry.ActiveCount())
}

// teardown stops whatever a failed deploy managed to start. It ignores the
// caller's context so that cancellation still cleans up.
func (m *Manager) teardown(rec *DeploymentRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*m.opts.StopTimeout+time.Second)
	defer cancel()
	if err := m.stopRecord(ctx, rec); err != nil {
		logging.L().Warn("teardown incomplete", zap.String("deployment_id", rec.DeploymentID), zap.Error(err))
	}
}

// Stop terminates both services of a deployment and then unregisters it
func (m *Manager) Stop(ctx context.Context, id string) error {
	const op = "deploy.stop"
	rec, ok := m.registry.Get(id)
	if !ok {
		return apperr.Errorf(apperr.NotFound, op, "deployment %s not found", id)
	}
	if err := m.stopRecord(ctx, rec); err != nil {
		return apperr.New(apperr.Internal, op, err)
	}
	m.registry.Delete(id)
	metrics.Get().SetActiveDeployments(m.registry.ActiveCount())
	logging.L().Info("deployment stopped", zap.String("deployment_id", id))
	return nil
}

// StopAll stops every registered deployment gracefully, then reconciles the
// fixed ports to clear anything else still bound. It returns the ids that
// were stopped.
func (m *Manager) StopAll(ctx context.Context) ([]string, error) {
	var stopped []string
	var errs []error
	for _, rec := range m.registry.List() {
		if err := m.Stop(ctx, rec.DeploymentID); err != nil {
			errs = append(errs, err)
			continue
		}
		stopped = append(stopped, rec.DeploymentID)
	}

	for _, port := range []int{m.opts.BackendPort, m.opts.FrontendPort} {
		if _, err := m.opts.Reconciler.Reconcile(ctx, port); err != nil {
			logging.L().Warn("port reconciliation after stop-all incomplete", zap.Int("port", port), zap.Error(err))
		}
	}
	return stopped, errors.Join(errs...)
}

func (m *Manager) stopRecord(ctx context.Context, rec *DeploymentRecord) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, svc := range []*ServiceProcess{rec.Backend, rec.Frontend} {
		svc := svc
		g.Go(func() error { return m.stopService(ctx, svc) })
	}
	return g.Wait()
}

// stopService sends SIGTERM, escalates to SIGKILL after StopTimeout, then
// waits for the process to be reaped.
func (m *Manager) stopService(ctx context.Context, svc *ServiceProcess) error {
	if svc.proc == nil {
		return nil
	}
	log := logging.L().With(zap.String("kind", string(svc.Kind)), zap.Int("pid", svc.PID))
	svc.transition(StateStopping)

	select {
	case <-svc.proc.Done():
		svc.transition(StateStopped)
		return nil
	default:
	}

	if err := svc.proc.Signal(Graceful); err != nil {
		log.Warn("graceful stop signal failed", zap.Error(err))
	}
	timer := time.NewTimer(m.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-svc.proc.Done():
		svc.transition(StateStopped)
		return nil
	case <-timer.C:
		log.Warn("service ignored graceful stop; killing")
	case <-ctx.Done():
	}

	if err := svc.proc.Signal(Forced); err != nil {
		log.Warn("forced stop signal failed", zap.Error(err))
	}
	select {
	case <-svc.proc.Done():
		svc.transition(StateStopped)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s process %d did not exit: %w", svc.Kind, svc.PID, ctx.Err())
	}
}
