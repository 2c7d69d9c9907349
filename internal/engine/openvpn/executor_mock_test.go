package openvpn

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// mockProcess implements Process for testing. Stdout and stderr are
// backed by pipes so tests can feed output lines while the adapter's
// scanner goroutines are running.
type mockProcess struct {
	mu sync.Mutex

	startErr error
	waitErr  error
	killErr  error

	stdin *mockWriteCloser

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	started bool
	killed  bool
	exited  bool

	waitCh chan struct{}
}

func newMockProcess() *mockProcess {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	return &mockProcess{
		stdin:   &mockWriteCloser{},
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
		waitCh:  make(chan struct{}),
	}
}

func (p *mockProcess) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *mockProcess) Wait() error {
	<-p.waitCh
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Kill simulates SIGTERM delivery: the process exits cleanly.
func (p *mockProcess) Kill() error {
	p.mu.Lock()
	if p.killErr != nil {
		defer p.mu.Unlock()
		return p.killErr
	}
	p.killed = true
	p.mu.Unlock()

	p.Exit(nil)
	return nil
}

func (p *mockProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *mockProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *mockProcess) Stderr() io.ReadCloser { return p.stderrR }

// Emit writes one output line to the mock's stdout. Blocks until the
// adapter's scanner has consumed it.
func (p *mockProcess) Emit(line string) {
	_, _ = p.stdoutW.Write([]byte(line + "\n"))
}

// Exit simulates process termination with the given wait error.
func (p *mockProcess) Exit(waitErr error) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.waitErr = waitErr
	p.mu.Unlock()

	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()
	close(p.waitCh)
}

func (p *mockProcess) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *mockProcess) IsKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *mockProcess) StdinContent() string {
	return p.stdin.String()
}

// mockWriteCloser is a thread-safe in-memory io.WriteCloser.
type mockWriteCloser struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *mockWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *mockWriteCloser) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *mockWriteCloser) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// mockExecutor implements ProcessExecutor for testing.
type mockExecutor struct {
	mu sync.Mutex

	createErr error
	process   *mockProcess

	lastName string
	lastArgs []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{process: newMockProcess()}
}

func (e *mockExecutor) CreateProcess(ctx context.Context, name string, args ...string) (Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastName = name
	e.lastArgs = args

	if e.createErr != nil {
		return nil, e.createErr
	}
	return e.process, nil
}

func (e *mockExecutor) LastName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastName
}

func (e *mockExecutor) LastArgs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastArgs
}
