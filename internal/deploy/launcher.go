package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

const maxOutputBytes = 1 << 20

// LaunchSpec describes one service process
type LaunchSpec struct {
	Kind    ServiceKind
	Dir     string
	Command []string
	Port    int
	Env     []string
}

// Process is a launched OS process
type Process interface {
	PID() int
	// Done is closed once the process has exited and been reaped
	Done() <-chan struct{}
	ExitErr() error
	Signal(mode TerminateMode) error
	Output() string
}

// Launcher starts service processes
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher starts processes with os/exec, each in its own process group so
// that a stop reaches any children the service forks.
type ExecLauncher struct{}

// NewExecLauncher returns a launcher for real OS processes
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch starts spec.Command. The process outlives ctx; ctx only bounds the
// start itself.
func (ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", spec.Port))
	cmd.Env = append(cmd.Env, spec.Env...)

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &p.out
	cmd.Stderr = &p.out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}
	go func() {
		defer close(p.done)
		p.err = cmd.Wait()
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  cappedBuffer
	done chan struct{}
	err  error
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Output() string        { return p.out.String() }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Signal sends SIGTERM or SIGKILL to the whole process group
func (p *execProcess) Signal(mode TerminateMode) error {
	sig := syscall.SIGTERM
	if mode == Forced {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// cappedBuffer keeps the most recent output, trimming to half its cap when full
type cappedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if b.buf.Len() > maxOutputBytes {
		data := b.buf.Bytes()
		keep := append([]byte(nil), data[len(data)-maxOutputBytes/2:]...)
		b.buf.Reset()
		b.buf.Write(keep)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// lastLines returns at most n trailing lines of s
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// expandCommand substitutes {port} and splits on whitespace
func expandCommand(template string, port int) []string {
	return strings.Fields(strings.ReplaceAll(template, "{port}", fmt.Sprint(port)))
}
