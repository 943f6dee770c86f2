package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"botforge/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Each new connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		Message:   "Build a chatbot",
		Archetype: "chatbot",
		Status:    "running",
	}
	require.NoError(t, s.SaveRun(ctx, run))

	run.Status = "success"
	run.BundlePath = "/tmp/generated_project_1"
	run.Stages = []StageEntry{
		{Name: "analyze", Status: "succeeded", DurationMS: 12},
		{Name: "generate_ui", Status: "skipped", Detail: "not needed"},
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "/tmp/generated_project_1", got.BundlePath)
	assert.Equal(t, run.Stages, got.Stages)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGetRunNotFound(t *testing.T) {
	_, err := newTestStore(t).GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperr.NotFound))
}

func TestDeploymentHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDeployment(ctx, &Deployment{ID: "d1", BundleID: "b1", BackendURL: "http://localhost:8001"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.RecordDeployment(ctx, &Deployment{ID: "d2", BundleID: "b2"}))
	require.NoError(t, s.MarkDeploymentStopped(ctx, "d1"))
	require.NoError(t, s.MarkDeploymentStopped(ctx, "unknown"))

	deps, err := s.ListDeployments(ctx, 0)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "d2", deps[0].ID)
	assert.Equal(t, DeploymentRunning, deps[0].Status)
	assert.Equal(t, DeploymentStopped, deps[1].Status)
	assert.NotNil(t, deps[1].StoppedAt)
}

func TestNilStoreIsInert(t *testing.T) {
	var s *Store
	ctx := context.Background()

	assert.NoError(t, s.SaveRun(ctx, &Run{ID: "x"}))
	assert.NoError(t, s.RecordDeployment(ctx, &Deployment{ID: "x"}))
	assert.NoError(t, s.MarkDeploymentStopped(ctx, "x"))
	runs, err := s.ListRuns(ctx, 5)
	assert.NoError(t, err)
	assert.Empty(t, runs)
	_, err = s.GetRun(ctx, "x")
	assert.True(t, errors.Is(err, apperr.NotFound))
	assert.NoError(t, s.Close())
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled bool
	}{
		{"disabled by none", Config{SQLitePath: "none"}, false},
		{"disabled by empty", Config{}, false},
		{"sqlite file", Config{SQLitePath: filepath.Join(t.TempDir(), "runs.db")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.enabled, tt.cfg.Enabled())
			s, err := Open(tt.cfg)
			require.NoError(t, err)
			if !tt.enabled {
				assert.Nil(t, s)
				return
			}
			require.NotNil(t, s)
			defer s.Close()
			assert.NoError(t, s.SaveRun(context.Background(), &Run{ID: "r"}))
		})
	}
}
