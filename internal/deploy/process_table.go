package deploy

import (
	"context"
	"fmt"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// TerminateMode selects the signal used by ProcessTable.Terminate
type TerminateMode int

const (
	Graceful TerminateMode = iota // SIGTERM
	Forced                        // SIGKILL
)

func (m TerminateMode) String() string {
	if m == Forced {
		return "forced"
	}
	return "graceful"
}

// ProcessHandle identifies a process found listening on a port
type ProcessHandle struct {
	PID  int
	PPID int
}

// ProcessTable is the host process capability used by port reconciliation
type ProcessTable interface {
	// ListListeners returns the processes with a TCP socket listening on port
	ListListeners(ctx context.Context, port int) ([]ProcessHandle, error)
	Cmdline(ctx context.Context, pid int) (string, error)
	Terminate(ctx context.Context, pid int, mode TerminateMode) error
	IsAlive(ctx context.Context, pid int) bool
}

// SystemProcessTable reads the host's socket and process tables through gopsutil
type SystemProcessTable struct{}

// NewSystemProcessTable returns the host process table
func NewSystemProcessTable() *SystemProcessTable {
	return &SystemProcessTable{}
}

func (SystemProcessTable) ListListeners(ctx context.Context, port int) ([]ProcessHandle, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("list tcp connections: %w", err)
	}

	seen := make(map[int32]bool)
	var handles []ProcessHandle
	for _, c := range conns {
		// Pid is 0 when the socket's owner is not visible to us.
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid == 0 || seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true

		h := ProcessHandle{PID: int(c.Pid)}
		if p, err := process.NewProcessWithContext(ctx, c.Pid); err == nil {
			if ppid, err := p.PpidWithContext(ctx); err == nil {
				h.PPID = int(ppid)
			}
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (SystemProcessTable) Cmdline(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", err
	}
	return p.CmdlineWithContext(ctx)
}

func (SystemProcessTable) Terminate(ctx context.Context, pid int, mode TerminateMode) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	if mode == Forced {
		return p.KillWithContext(ctx)
	}
	return p.TerminateWithContext(ctx)
}

func (SystemProcessTable) IsAlive(ctx context.Context, pid int) bool {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}
