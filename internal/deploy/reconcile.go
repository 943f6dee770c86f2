package deploy

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"botforge/internal/apperr"
	"botforge/internal/logging"
	"botforge/internal/metrics"
)

// ErrProtectedProcess is returned when asked to terminate this process or its parent
var ErrProtectedProcess = errors.New("refusing to terminate a protected process")

const (
	defaultSettleTimeout = 2 * time.Second
	pollInterval         = 100 * time.Millisecond
)

// SkippedProcess is a listener reconciliation left alone
type SkippedProcess struct {
	PID    int    `json:"pid"`
	Reason string `json:"reason"`
}

// ReconcileReport describes what happened to each listener on a port
type ReconcileReport struct {
	Port    int              `json:"port"`
	Killed  []int            `json:"killed,omitempty"`
	Skipped []SkippedProcess `json:"skipped,omitempty"`
	Errors  []string         `json:"errors,omitempty"`
}

// Reconciler frees target ports by killing whatever listens on them, except
// this process, its parent, and other instances of this service.
type Reconciler struct {
	table     ProcessTable
	signature string
	self      int
	parent    int
	settle    time.Duration
}

// NewReconciler creates a reconciler. Listeners whose command line contains
// signature are treated as this service and skipped.
func NewReconciler(table ProcessTable, signature string) *Reconciler {
	return &Reconciler{
		table:     table,
		signature: signature,
		self:      os.Getpid(),
		parent:    os.Getppid(),
		settle:    defaultSettleTimeout,
	}
}

func (r *Reconciler) protected(pid int) bool {
	return pid == r.self || pid == r.parent
}

// terminate is the only path to ProcessTable.Terminate
func (r *Reconciler) terminate(ctx context.Context, pid int, mode TerminateMode) error {
	if r.protected(pid) {
		return ErrProtectedProcess
	}
	return r.table.Terminate(ctx, pid, mode)
}

// Reconcile frees port. Lookup and kill failures are logged and absorbed; the
// only error is PortConflictUnresolved, when something still listens on the
// port once killed processes have had time to exit.
func (r *Reconciler) Reconcile(ctx context.Context, port int) (*ReconcileReport, error) {
	const op = "deploy.reconcile"
	log := logging.L().With(zap.Int("port", port))
	report := &ReconcileReport{Port: port}

	handles, err := r.table.ListListeners(ctx, port)
	if err != nil {
		log.Warn("listener lookup failed", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
		return report, nil
	}
	if len(handles) == 0 {
		return report, nil
	}

	for _, h := range handles {
		if reason := r.skipReason(ctx, h); reason != "" {
			log.Info("leaving listener in place", zap.Int("pid", h.PID), zap.String("reason", reason))
			report.Skipped = append(report.Skipped, SkippedProcess{PID: h.PID, Reason: reason})
			metrics.Get().RecordReconcile(port, "skipped_"+reason)
			continue
		}

		if err := r.terminate(ctx, h.PID, Forced); err != nil {
			log.Warn("failed to kill listener", zap.Int("pid", h.PID), zap.Error(err))
			report.Errors = append(report.Errors, err.Error())
			metrics.Get().RecordReconcile(port, "kill_failed")
			continue
		}
		log.Info("killed listener", zap.Int("pid", h.PID))
		report.Killed = append(report.Killed, h.PID)
		metrics.Get().RecordReconcile(port, "killed")
	}

	if remaining := r.waitReleased(ctx, port); len(remaining) > 0 {
		return report, apperr.Errorf(apperr.PortConflictUnresolved, op, "port %d still bound by pid(s) %v", port, remaining)
	}
	return report, nil
}

func (r *Reconciler) skipReason(ctx context.Context, h ProcessHandle) string {
	switch {
	case h.PID == r.self:
		return "self"
	case h.PID == r.parent:
		return "parent"
	}
	if r.signature == "" {
		return ""
	}
	cmdline, err := r.table.Cmdline(ctx, h.PID)
	if err != nil {
		// Best effort: an unreadable command line does not protect the process.
		logging.L().Debug("cmdline lookup failed", zap.Int("pid", h.PID), zap.Error(err))
		return ""
	}
	if strings.Contains(cmdline, r.signature) {
		return "signature"
	}
	return ""
}

// waitReleased polls until nothing listens on port or the settle timeout
// passes, and returns the pids still listening.
func (r *Reconciler) waitReleased(ctx context.Context, port int) []int {
	deadline := time.Now().Add(r.settle)
	for {
		handles, err := r.table.ListListeners(ctx, port)
		if err != nil {
			return nil
		}
		if len(handles) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			pids := make([]int, 0, len(handles))
			for _, h := range handles {
				pids = append(pids, h.PID)
			}
			return pids
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}
