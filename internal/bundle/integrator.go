// Package bundle assembles generated artifacts into a self-contained project
// directory that the deploy package can launch.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/codegen"
	"botforge/internal/logging"
	"botforge/internal/metrics"
	"botforge/internal/requirements"
)

const (
	// NamePrefix starts every bundle directory name
	NamePrefix = "generated_project_"
	// ManifestFile is the machine-readable bundle description at the bundle root
	ManifestFile = "botforge.json"

	BackendDir      = "backend"
	FrontendDir     = "frontend"
	BackendEntry    = "app.py"
	RequirementsTxt = "requirements.txt"

	maxNameAttempts = 5
)

// ProjectBundle is an integrated project on disk. It is immutable once
// Integrate returns; ArchiveURL is filled in only by archival.
type ProjectBundle struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RootPath     string    `json:"root_path"`
	BackendPath  string    `json:"backend_path"`
	FrontendPath string    `json:"frontend_path"`
	HasFrontend  bool      `json:"has_frontend"`
	Archetype    string    `json:"archetype,omitempty"`
	Manifest     Manifest  `json:"manifest"`
	CreatedAt    time.Time `json:"created_at"`
	ArchiveURL   string    `json:"archive_url,omitempty"`
}

// Archiver uploads a finished bundle somewhere durable
type Archiver interface {
	Archive(ctx context.Context, b *ProjectBundle) (string, error)
}

// Options configures an Integrator
type Options struct {
	Root         string
	BackendPort  int
	FrontendPort int
	Archiver     Archiver
}

// Integrator writes project bundles under a root directory
type Integrator struct {
	root         string
	backendPort  int
	frontendPort int
	archiver     Archiver
}

// NewIntegrator creates an integrator
func NewIntegrator(opts Options) *Integrator {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.BackendPort == 0 {
		opts.BackendPort = 8001
	}
	if opts.FrontendPort == 0 {
		opts.FrontendPort = 3000
	}
	return &Integrator{
		root:         opts.Root,
		backendPort:  opts.BackendPort,
		frontendPort: opts.FrontendPort,
		archiver:     opts.Archiver,
	}
}

// Root returns the directory bundles are created under
func (i *Integrator) Root() string { return i.root }

// Integrate writes a new bundle. The backend artifact is required; a nil or
// empty UI artifact yields a backend-only bundle. Every write lands in a
// freshly created directory, never in an existing one.
func (i *Integrator) Integrate(ctx context.Context, backend, ui *codegen.CodeArtifact, spec *requirements.Specification) (*ProjectBundle, error) {
	const op = "bundle.integrate"
	if backend.Empty() || strings.TrimSpace(backend.Text) == "" {
		return nil, apperr.Errorf(apperr.IntegrationFailed, op, "backend artifact is missing or empty")
	}

	if err := os.MkdirAll(i.root, 0o755); err != nil {
		return nil, apperr.New(apperr.IntegrationFailed, op, err)
	}
	root, err := filepath.Abs(i.root)
	if err != nil {
		return nil, apperr.New(apperr.IntegrationFailed, op, err)
	}

	id, dir, err := createUniqueDir(root)
	if err != nil {
		return nil, apperr.New(apperr.IntegrationFailed, op, err)
	}

	b := &ProjectBundle{
		ID:           id,
		Name:         filepath.Base(dir),
		RootPath:     dir,
		BackendPath:  filepath.Join(dir, BackendDir),
		FrontendPath: filepath.Join(dir, FrontendDir),
		HasFrontend:  !ui.Empty() && strings.TrimSpace(ui.Text) != "",
		Manifest:     InferManifest(backend.Text),
		CreatedAt:    time.Now().UTC(),
	}
	if spec != nil {
		b.Archetype = string(spec.Archetype)
	}

	log := logging.L().With(zap.String("bundle_id", b.ID), zap.String("root_path", b.RootPath))
	if err := i.write(b, backend, ui); err != nil {
		log.Error("bundle write failed", zap.Error(err))
		if rerr := os.RemoveAll(b.RootPath); rerr != nil {
			log.Warn("failed to remove partial bundle", zap.Error(rerr))
		}
		return nil, apperr.New(apperr.IntegrationFailed, op, err)
	}
	metrics.Get().BundlesCreatedTotal.Inc()
	log.Info("project bundle created",
		zap.Bool("has_frontend", b.HasFrontend),
		zap.Strings("dependencies", b.Manifest.Dependencies))

	if i.archiver != nil {
		url, err := i.archiver.Archive(ctx, b)
		if err != nil {
			metrics.Get().BundleArchiveTotal.WithLabelValues("error").Inc()
			log.Warn("bundle archive failed", zap.Error(err))
		} else {
			metrics.Get().BundleArchiveTotal.WithLabelValues("success").Inc()
			b.ArchiveURL = url
			// Refresh the on-disk manifest so it records the archive location.
			if err := writeJSON(filepath.Join(b.RootPath, ManifestFile), b); err != nil {
				log.Warn("manifest refresh failed", zap.Error(err))
			}
		}
	}
	return b, nil
}

// createUniqueDir makes root/generated_project_<token>. os.Mkdir fails on an
// existing path, so a collision draws a fresh token instead of reusing it.
func createUniqueDir(root string) (string, string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		id := strings.ReplaceAll(uuid.New().String(), "-", "")
		dir := filepath.Join(root, NamePrefix+id[:8])
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("could not allocate a unique bundle directory under %s", root)
}

func (i *Integrator) write(b *ProjectBundle, backend, ui *codegen.CodeArtifact) error {
	data := templateData{
		Name:         b.Name,
		RootPath:     b.RootPath,
		BackendURL:   fmt.Sprintf("http://localhost:%d", i.backendPort),
		FrontendURL:  fmt.Sprintf("http://localhost:%d", i.frontendPort),
		BackendPort:  i.backendPort,
		FrontendPort: i.frontendPort,
		HasFrontend:  b.HasFrontend,
		Archetype:    b.Archetype,
	}

	for _, d := range []string{b.BackendPath, b.FrontendPath} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return err
		}
	}

	files := map[string][]byte{
		filepath.Join(b.BackendPath, BackendEntry):    []byte(backend.Text),
		filepath.Join(b.BackendPath, RequirementsTxt): []byte(b.Manifest.RequirementsTxt()),
	}

	configJS, err := render(configJSTemplate, data)
	if err != nil {
		return err
	}
	files[filepath.Join(b.FrontendPath, "config.js")] = configJS

	wiring, err := json.MarshalIndent(map[string]string{"api_base_url": data.BackendURL}, "", "  ")
	if err != nil {
		return err
	}
	files[filepath.Join(b.FrontendPath, "config.json")] = wiring

	if b.HasFrontend {
		index, err := render(indexTemplate, data)
		if err != nil {
			return err
		}
		pkg, err := json.MarshalIndent(packageJSON(), "", "  ")
		if err != nil {
			return err
		}
		files[filepath.Join(b.FrontendPath, "App.jsx")] = []byte(ui.Text)
		files[filepath.Join(b.FrontendPath, "index.html")] = index
		files[filepath.Join(b.FrontendPath, "package.json")] = pkg
	} else {
		page, err := render(placeholderTemplate, data)
		if err != nil {
			return err
		}
		files[filepath.Join(b.FrontendPath, "index.html")] = page
	}

	readme, err := render(readmeTemplate, data)
	if err != nil {
		return err
	}
	files[filepath.Join(b.RootPath, "README.md")] = readme

	for path, content := range files {
		if err := writeFile(path, content); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(b.RootPath, ManifestFile), b)
}

func packageJSON() map[string]any {
	return map[string]any{
		"name":    "bot-frontend",
		"version": "0.1.0",
		"private": true,
		"dependencies": map[string]string{
			"react":       "^18.2.0",
			"react-dom":   "^18.2.0",
			"tailwindcss": "^3.3.0",
			"axios":       "^1.6.0",
		},
		"scripts": map[string]string{
			"start": "react-scripts start",
			"build": "react-scripts build",
		},
	}
}

// writeFile is swapped in tests to simulate a full disk
var writeFile = writeNew

// writeNew creates path exclusively
func writeNew(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a bundle previously written by Integrate. Directories without a
// manifest file are described from their layout alone.
func Load(dir string) (*ProjectBundle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	b := &ProjectBundle{}
	if data, err := os.ReadFile(filepath.Join(abs, ManifestFile)); err == nil {
		if err := json.Unmarshal(data, b); err != nil {
			return nil, fmt.Errorf("invalid bundle manifest: %w", err)
		}
	}

	b.RootPath = abs
	b.Name = filepath.Base(abs)
	if b.ID == "" {
		b.ID = strings.TrimPrefix(b.Name, NamePrefix)
	}
	b.BackendPath = filepath.Join(abs, BackendDir)
	b.FrontendPath = filepath.Join(abs, FrontendDir)
	if _, err := os.Stat(filepath.Join(b.FrontendPath, "App.jsx")); err == nil {
		b.HasFrontend = true
	}
	return b, nil
}
