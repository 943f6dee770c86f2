package deploy

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botforge/internal/apperr"
)

// fakeTable is an in-memory listener table. Terminating a pid removes it.
type fakeTable struct {
	mu         sync.Mutex
	listeners  map[int][]ProcessHandle
	cmdlines   map[int]string
	failKill   map[int]bool
	listErr    error
	terminated []int
	// onTerminate, if set, runs before each termination is applied
	onTerminate func(pid int)
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		listeners: make(map[int][]ProcessHandle),
		cmdlines:  make(map[int]string),
		failKill:  make(map[int]bool),
	}
}

func (f *fakeTable) listen(port int, pid int, cmdline string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[port] = append(f.listeners[port], ProcessHandle{PID: pid})
	f.cmdlines[pid] = cmdline
}

func (f *fakeTable) ListListeners(_ context.Context, port int) ([]ProcessHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]ProcessHandle(nil), f.listeners[port]...), nil
}

func (f *fakeTable) Cmdline(_ context.Context, pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cmdlines[pid]
	if !ok {
		return "", errors.New("no such process")
	}
	return c, nil
}

func (f *fakeTable) Terminate(_ context.Context, pid int, _ TerminateMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKill[pid] {
		return errors.New("operation not permitted")
	}
	if f.onTerminate != nil {
		f.onTerminate(pid)
	}
	f.terminated = append(f.terminated, pid)
	for port, hs := range f.listeners {
		kept := hs[:0]
		for _, h := range hs {
			if h.PID != pid {
				kept = append(kept, h)
			}
		}
		f.listeners[port] = kept
	}
	return nil
}

func (f *fakeTable) IsAlive(_ context.Context, pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hs := range f.listeners {
		for _, h := range hs {
			if h.PID == pid {
				return true
			}
		}
	}
	return false
}

func (f *fakeTable) killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.terminated...)
}

func newTestReconciler(table ProcessTable, signature string) *Reconciler {
	r := NewReconciler(table, signature)
	r.settle = 50 * time.Millisecond
	return r
}

func TestReconcileNeverTerminatesSelfOrParent(t *testing.T) {
	table := newFakeTable()
	self, parent := os.Getpid(), os.Getppid()
	table.listen(8001, self, "botforge")
	table.listen(8001, parent, "bash")
	table.listen(8001, 4242, "python -m uvicorn app:app")

	report, err := newTestReconciler(table, "").Reconcile(context.Background(), 8001)

	assert.Equal(t, []int{4242}, table.killed())
	assert.NotContains(t, table.killed(), self)
	assert.NotContains(t, table.killed(), parent)
	assert.ElementsMatch(t, []SkippedProcess{{PID: self, Reason: "self"}, {PID: parent, Reason: "parent"}}, report.Skipped)
	// The protected listeners still hold the port.
	assert.True(t, errors.Is(err, apperr.PortConflictUnresolved))
}

func TestTerminateGuardsProtectedProcesses(t *testing.T) {
	table := newFakeTable()
	r := newTestReconciler(table, "")

	for _, pid := range []int{os.Getpid(), os.Getppid()} {
		err := r.terminate(context.Background(), pid, Forced)
		assert.ErrorIs(t, err, ErrProtectedProcess)
	}
	assert.Empty(t, table.killed())
}

func TestReconcileFreesPort(t *testing.T) {
	table := newFakeTable()
	table.listen(3000, 100, "python -m http.server 3000")
	table.listen(3000, 101, "node server.js")
	table.listen(8001, 200, "python -m uvicorn app:app")

	report, err := newTestReconciler(table, "botforge serve").Reconcile(context.Background(), 3000)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{100, 101}, report.Killed)
	assert.ElementsMatch(t, []int{100, 101}, table.killed())
	hs, _ := table.ListListeners(context.Background(), 8001)
	assert.Len(t, hs, 1, "other ports are untouched")
}

func TestReconcileSkipsServiceSignature(t *testing.T) {
	table := newFakeTable()
	table.listen(8001, 300, "/usr/local/bin/botforge serve --port 8001")

	report, err := newTestReconciler(table, "botforge serve").Reconcile(context.Background(), 8001)

	assert.Empty(t, table.killed())
	assert.Equal(t, []SkippedProcess{{PID: 300, Reason: "signature"}}, report.Skipped)
	assert.True(t, errors.Is(err, apperr.PortConflictUnresolved))
}

func TestReconcileToleratesFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeTable)
		wantErr bool
		killed  []int
	}{
		{
			name:  "lookup error",
			setup: func(f *fakeTable) { f.listErr = errors.New("permission denied") },
		},
		{
			name: "unreadable cmdline still killed",
			setup: func(f *fakeTable) {
				f.listen(8001, 400, "")
				delete(f.cmdlines, 400)
			},
			killed: []int{400},
		},
		{
			name: "kill failure continues with the rest",
			setup: func(f *fakeTable) {
				f.listen(8001, 500, "root-owned")
				f.listen(8001, 501, "python")
				f.failKill[500] = true
			},
			wantErr: true,
			killed:  []int{501},
		},
		{
			name: "nothing listening",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newFakeTable()
			if tt.setup != nil {
				tt.setup(table)
			}
			report, err := newTestReconciler(table, "botforge serve").Reconcile(context.Background(), 8001)
			require.NotNil(t, report)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperr.PortConflictUnresolved))
				assert.NotEmpty(t, report.Errors)
			} else {
				assert.NoError(t, err)
			}
			assert.ElementsMatch(t, tt.killed, table.killed())
		})
	}
}
