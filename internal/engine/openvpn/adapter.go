package openvpn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

// Adapter implements engine.Engine by driving an external OpenVPN
// client binary. It observes the client's log output to detect session
// establishment, server-pushed configuration, byte counters, and typed
// failures; it never touches the wire protocol itself.
type Adapter struct {
	binaryPath string
	executor   ProcessExecutor

	mu       sync.Mutex
	delegate engine.Delegate
	tunables engine.Tunables

	process   Process
	cancel    context.CancelFunc
	running   bool
	counting  bool
	dataCount engine.DataCount
	serverCfg engine.ServerConfiguration
	lastErr   error
	startDone func(error)
	stopDone  func()
}

var _ engine.Engine = (*Adapter)(nil)

// NewAdapter creates an adapter for the OpenVPN client at binaryPath.
func NewAdapter(binaryPath string) *Adapter {
	return &Adapter{
		binaryPath: binaryPath,
		executor:   NewRealExecutor(),
	}
}

// NewAdapterWithExecutor creates an adapter with a custom executor.
// This is primarily used for testing.
func NewAdapterWithExecutor(binaryPath string, executor ProcessExecutor) *Adapter {
	return &Adapter{
		binaryPath: binaryPath,
		executor:   executor,
	}
}

// SetDelegate implements engine.Engine.
func (a *Adapter) SetDelegate(d engine.Delegate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delegate = d
}

// ApplyTunables implements engine.Engine. Knobs take effect on the
// next Start; the adapter never reconfigures a live client.
func (a *Adapter) ApplyTunables(t engine.Tunables) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tunables = t
}

// Start implements engine.Engine. done fires once, either when the
// initialization sequence completes or when the client exits before
// reaching it.
func (a *Adapter) Start(remote string, creds *engine.Credentials, done func(error)) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		done(fmt.Errorf("openvpn client already running"))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := a.buildArgsLocked(remote, creds != nil)

	process, err := a.executor.CreateProcess(ctx, a.binaryPath, args...)
	if err != nil {
		a.mu.Unlock()
		cancel()
		done(fmt.Errorf("failed to create openvpn process: %w", err))
		return
	}

	a.process = process
	a.cancel = cancel
	a.running = true
	a.counting = false
	a.dataCount = engine.DataCount{}
	a.serverCfg = engine.ServerConfiguration{RemoteAddress: remote}
	a.lastErr = nil
	a.startDone = done
	delegate := a.delegate
	a.mu.Unlock()

	if err := process.Start(); err != nil {
		a.mu.Lock()
		a.process = nil
		a.cancel = nil
		a.running = false
		a.startDone = nil
		a.mu.Unlock()
		cancel()
		done(fmt.Errorf("failed to start openvpn client: %w", err))
		return
	}

	if delegate != nil {
		delegate.SessionWillStart()
	}

	if creds != nil {
		a.writeCredentials(process, creds)
	}

	go a.pumpOutput(ctx, process.Stdout())
	go a.pumpOutput(ctx, process.Stderr())
	go a.waitForExit(process)
}

// buildArgsLocked constructs the client command line from the remote
// address and the applied tunables. Caller holds a.mu.
func (a *Adapter) buildArgsLocked(remote string, withAuth bool) []string {
	t := a.tunables
	args := []string{
		"--client",
		"--remote", remote,
		"--nobind",
	}

	verb := 3
	if t.DebugLevel > 0 {
		verb = t.DebugLevel
	}
	args = append(args, "--verb", strconv.Itoa(verb))

	if withAuth {
		// Credentials arrive on stdin, never on the command line.
		args = append(args, "--auth-user-pass", "/dev/stdin")
	}
	if t.SocketTimeout > 0 {
		args = append(args, "--connect-timeout", strconv.Itoa(int(t.SocketTimeout.Seconds())))
	}
	if t.ReconnectionDelay > 0 {
		args = append(args, "--connect-retry", strconv.Itoa(int(t.ReconnectionDelay.Seconds())))
	}
	for _, dns := range t.FallbackDNS {
		args = append(args, "--dhcp-option", "DNS", dns)
	}
	if t.AppVersion != "" {
		args = append(args, "--setenv", "UV_APP_VERSION", t.AppVersion)
	}
	return args
}

// writeCredentials feeds username and password to the client's stdin,
// matching --auth-user-pass /dev/stdin. Stdin keeps credentials out of
// the process listing.
func (a *Adapter) writeCredentials(process Process, creds *engine.Credentials) {
	stdin := process.Stdin()
	if stdin == nil {
		return
	}
	go func() {
		input := creds.Username + "\n" + creds.Password + "\n"
		if _, err := stdin.Write([]byte(input)); err != nil {
			slog.Warn("Failed to write credentials to openvpn stdin", "error", err)
		}
	}()
}

// pumpOutput scans one output stream line by line and feeds recognized
// events into the adapter state machine.
func (a *Adapter) pumpOutput(ctx context.Context, r io.ReadCloser) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		select {
		case <-ctx.Done():
		default:
			slog.Debug("openvpn output scanner error", "error", err)
		}
	}
}

func (a *Adapter) handleLine(line string) {
	slog.Debug("openvpn", "line", line)

	event := ParseLine(line)
	if event == nil {
		return
	}

	switch event.Type {
	case EventConnected:
		a.mu.Lock()
		a.counting = true
		cfg := a.serverCfg
		delegate := a.delegate
		done := a.startDone
		a.startDone = nil
		a.mu.Unlock()

		if done != nil {
			done(nil)
		}
		if delegate != nil {
			delegate.SessionDidStart(cfg)
		}

	case EventPushReply:
		a.mu.Lock()
		if v := event.GetData("tunnel_address"); v != "" {
			a.serverCfg.TunnelAddress = v
		}
		if v := event.GetData("gateway"); v != "" {
			a.serverCfg.Gateway = v
		}
		if v := event.GetData("dns"); v != "" {
			a.serverCfg.DNSServers = strings.Fields(v)
		}
		if v := event.GetData("mtu"); v != "" {
			if mtu, err := strconv.Atoi(v); err == nil {
				a.serverCfg.MTU = mtu
			}
		}
		a.mu.Unlock()

	case EventByteCount:
		in, _ := strconv.ParseUint(event.GetData("in"), 10, 64)
		out, _ := strconv.ParseUint(event.GetData("out"), 10, 64)
		a.mu.Lock()
		a.dataCount = engine.DataCount{BytesIn: in, BytesOut: out}
		a.mu.Unlock()

	case EventError:
		a.mu.Lock()
		a.lastErr = event.Err
		a.mu.Unlock()
	}
}

// waitForExit reaps the client process and settles any pending start
// or stop completion. A client that dies before the initialization
// sequence completes fails the start with the last typed error parsed
// from its output.
func (a *Adapter) waitForExit(process Process) {
	waitErr := process.Wait()

	a.mu.Lock()
	a.process = nil
	a.running = false
	a.counting = false
	cancel := a.cancel
	a.cancel = nil
	lastErr := a.lastErr
	startDone := a.startDone
	a.startDone = nil
	stopDone := a.stopDone
	a.stopDone = nil
	delegate := a.delegate
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	sessionErr := lastErr
	if sessionErr == nil && stopDone == nil && waitErr != nil {
		sessionErr = fmt.Errorf("openvpn client exited: %w", waitErr)
	}

	if startDone != nil {
		if sessionErr == nil {
			sessionErr = fmt.Errorf("openvpn client exited before connecting")
		}
		startDone(sessionErr)
	}

	if delegate != nil {
		delegate.SessionDidStop(sessionErr)
	}
	if stopDone != nil {
		stopDone()
	}
}

// Stop implements engine.Engine. done always fires, even when no
// client is running.
func (a *Adapter) Stop(done func()) {
	a.mu.Lock()
	process := a.process
	if process == nil {
		a.mu.Unlock()
		go done()
		return
	}
	a.stopDone = done
	a.lastErr = nil
	a.mu.Unlock()

	if err := process.Kill(); err != nil {
		slog.Warn("Failed to signal openvpn client", "error", err)
	}
}

// DataCount implements engine.Engine.
func (a *Adapter) DataCount() (engine.DataCount, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.counting {
		return engine.DataCount{}, false
	}
	return a.dataCount, true
}
