package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/events"
	"botforge/internal/metrics"
	"botforge/internal/store"
)

// run is the bookkeeping for one RunFullPipeline call
type run struct {
	o       *Orchestrator
	res     *Result
	message string
	log     *zap.Logger
}

func (r *run) stage(ctx context.Context, s Stage, fn func() (StageStatus, string, error)) {
	r.o.events.Publish(&events.Event{Type: events.TypeStageStarted, RunID: r.res.RunID, Stage: string(s)})
	r.log.Info("stage started", zap.String("stage", string(s)))

	start := time.Now()
	status, detail, err := fn()
	r.record(s, status, detail, time.Since(start))
	if err != nil {
		r.log.Warn("stage failed", zap.String("stage", string(s)), zap.Error(err))
	}
}

func (r *run) skip(ctx context.Context, s Stage, detail string) {
	r.record(s, StatusSkipped, detail, 0)
}

func (r *run) record(s Stage, status StageStatus, detail string, d time.Duration) {
	r.res.Stages = append(r.res.Stages, StageReport{
		Stage:      s,
		Status:     status,
		Detail:     detail,
		DurationMS: d.Milliseconds(),
	})
	metrics.Get().RecordStage(string(s), string(status), d)
	r.log.Info("stage finished",
		zap.String("stage", string(s)),
		zap.String("status", string(status)),
		zap.Duration("duration", d))
	r.o.events.Publish(&events.Event{
		Type:   events.TypeStageCompleted,
		RunID:  r.res.RunID,
		Stage:  string(s),
		Status: string(status),
		Data:   map[string]any{"detail": detail},
	})
}

func (r *run) warn(s Stage, kind apperr.Kind) {
	for i := range r.res.Stages {
		if r.res.Stages[i].Stage == s {
			r.res.Stages[i].Warning = kind
		}
	}
	r.log.Warn("stage produced a warning", zap.String("stage", string(s)), zap.String("warning", string(kind)))
}

// persist writes the run summary. Storage errors never affect the run.
func (r *run) persist(ctx context.Context, status string) {
	if r.o.store == nil {
		return
	}
	res := r.res
	row := &store.Run{
		ID:             res.RunID,
		Message:        r.message,
		OriginalLength: res.Request.OriginalLength,
		Truncated:      res.Request.Truncated,
		Archetype:      string(res.Specification.Archetype),
		Status:         status,
		ErrorKind:      string(res.ErrorKind),
		Error:          res.Error,
		BackendLength:  res.Code.BackendLength,
		UILength:       res.Code.UILength,
	}
	if res.Code.Backend != nil {
		row.BackendComplete = res.Code.Backend.IsComplete
	}
	if res.Code.UI != nil {
		row.UIComplete = res.Code.UI.IsComplete
	}
	if res.Project != nil {
		row.BundlePath = res.Project.Directory
	}
	if res.Deployment != nil {
		row.DeploymentID = res.Deployment.DeploymentID
		row.BackendURL = res.Deployment.URLs["backend"]
		row.FrontendURL = res.Deployment.URLs["frontend"]
	}
	for _, st := range res.Stages {
		row.Stages = append(row.Stages, store.StageEntry{
			Name:       string(st.Stage),
			Status:     string(st.Status),
			Detail:     st.Detail,
			DurationMS: st.DurationMS,
		})
	}
	if status != "running" {
		now := time.Now().UTC()
		row.CompletedAt = &now
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	if err := r.o.store.SaveRun(sctx, row); err != nil {
		r.log.Warn("failed to persist run", zap.Error(err))
	}
}
