// Package openvpn provides a process-backed engine adapter that drives
// an external OpenVPN client binary and translates its output into the
// engine's typed lifecycle and error surface.
package openvpn

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// Process represents a running process with stdin/stdout/stderr pipes.
type Process interface {
	// Start starts the process but does not wait for it to complete.
	Start() error
	// Wait waits for the process to exit and returns the error.
	Wait() error
	// Kill sends a termination signal to the process group.
	Kill() error
	// Stdin returns a writer to the process's stdin.
	Stdin() io.WriteCloser
	// Stdout returns a reader from the process's stdout.
	Stdout() io.ReadCloser
	// Stderr returns a reader from the process's stderr.
	Stderr() io.ReadCloser
}

// ProcessExecutor creates processes for execution. Tests inject fakes.
type ProcessExecutor interface {
	// CreateProcess creates a new process with the given command and arguments.
	CreateProcess(ctx context.Context, name string, args ...string) (Process, error)
}

// RealExecutor implements ProcessExecutor using os/exec.
type RealExecutor struct{}

// NewRealExecutor creates a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// CreateProcess creates a real process using exec.CommandContext.
// The process runs in its own process group so teardown reaches any
// children the client spawns for scripts.
func (e *RealExecutor) CreateProcess(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	return &realProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// realProcess wraps exec.Cmd to implement the Process interface.
type realProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *realProcess) Start() error {
	return p.cmd.Start()
}

func (p *realProcess) Wait() error {
	return p.cmd.Wait()
}

// Kill terminates the process group with SIGTERM so the client can run
// its shutdown sequence, escalating to SIGKILL only if signaling fails.
// The daemon already runs privileged, so no escalation helper is
// involved.
func (p *realProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}

	pgid := p.cmd.Process.Pid

	// Negative pgid targets the whole process group.
	err := syscall.Kill(-pgid, syscall.SIGTERM)
	if err == nil || err == syscall.ESRCH {
		return nil
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

func (p *realProcess) Stdin() io.WriteCloser {
	return p.stdin
}

func (p *realProcess) Stdout() io.ReadCloser {
	return p.stdout
}

func (p *realProcess) Stderr() io.ReadCloser {
	return p.stderr
}
