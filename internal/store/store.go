// Package store persists pipeline runs and deployment history with GORM.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"botforge/internal/apperr"
	"botforge/internal/logging"
)

// Deployment statuses
const (
	DeploymentRunning = "running"
	DeploymentStopped = "stopped"
)

// StageEntry is one stage outcome within a Run
type StageEntry struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Run is a persisted pipeline run summary
type Run struct {
	ID              string       `json:"id" gorm:"primarykey;type:varchar(36)"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Message         string       `json:"message" gorm:"type:text"`
	OriginalLength  int          `json:"original_length"`
	Truncated       bool         `json:"truncated"`
	Archetype       string       `json:"archetype" gorm:"type:varchar(20)"`
	Status          string       `json:"status" gorm:"type:varchar(20);index"`
	ErrorKind       string       `json:"error_kind,omitempty" gorm:"type:varchar(50)"`
	Error           string       `json:"error,omitempty" gorm:"type:text"`
	BundlePath      string       `json:"bundle_path,omitempty"`
	DeploymentID    string       `json:"deployment_id,omitempty" gorm:"type:varchar(36)"`
	BackendURL      string       `json:"backend_url,omitempty"`
	FrontendURL     string       `json:"frontend_url,omitempty"`
	BackendLength   int          `json:"backend_length"`
	UILength        int          `json:"ui_length"`
	BackendComplete bool         `json:"backend_complete"`
	UIComplete      bool         `json:"ui_complete"`
	Stages          []StageEntry `json:"stages" gorm:"serializer:json"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// Deployment is a persisted deployment history entry
type Deployment struct {
	ID          string     `json:"id" gorm:"primarykey;type:varchar(36)"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RunID       string     `json:"run_id,omitempty" gorm:"type:varchar(36);index"`
	BundleID    string     `json:"bundle_id"`
	BundlePath  string     `json:"bundle_path"`
	BackendPID  int        `json:"backend_pid"`
	FrontendPID int        `json:"frontend_pid"`
	BackendURL  string     `json:"backend_url"`
	FrontendURL string     `json:"frontend_url"`
	Status      string     `json:"status" gorm:"type:varchar(20);index"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

// Config selects the database. DatabaseURL (postgres) wins over SQLitePath;
// an empty or "none" SQLitePath with no DatabaseURL disables persistence.
type Config struct {
	DatabaseURL string
	SQLitePath  string
}

// Enabled reports whether cfg names a database
func (c Config) Enabled() bool {
	return c.DatabaseURL != "" || (c.SQLitePath != "" && !strings.EqualFold(c.SQLitePath, "none"))
}

// Store wraps the GORM database. A nil *Store is valid and records nothing.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates. It returns a nil Store when persistence is disabled.
func Open(cfg Config) (*Store, error) {
	if !cfg.Enabled() {
		logging.L().Info("run history persistence disabled")
		return nil, nil
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if cfg.DatabaseURL != "" {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		dialector = sqlite.Open(cfg.SQLitePath)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return New(db)
}

// New wraps an open database and runs migrations
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Run{}, &Deployment{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun inserts or updates a run
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if s == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(run).Error
}

// GetRun loads one run
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	const op = "store.get_run"
	if s == nil {
		return nil, apperr.Errorf(apperr.NotFound, op, "run history is disabled")
	}
	var run Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Errorf(apperr.NotFound, op, "run %s not found", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, op, err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []Run
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// RecordDeployment stores a new running deployment
func (s *Store) RecordDeployment(ctx context.Context, d *Deployment) error {
	if s == nil {
		return nil
	}
	if d.Status == "" {
		d.Status = DeploymentRunning
	}
	return s.db.WithContext(ctx).Create(d).Error
}

// MarkDeploymentStopped flags a deployment as stopped. Unknown ids are ignored.
func (s *Store) MarkDeploymentStopped(ctx context.Context, id string) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&Deployment{}).
		Where("id = ? AND status = ?", id, DeploymentRunning).
		Updates(map[string]any{"status": DeploymentStopped, "stopped_at": now}).Error
}

// ListDeployments returns deployment history, newest first
func (s *Store) ListDeployments(ctx context.Context, limit int) ([]Deployment, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Deployment
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Close closes the underlying connection
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		logging.L().Warn("database close failed", zap.Error(err))
		return err
	}
	return nil
}
