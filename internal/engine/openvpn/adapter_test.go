package openvpn

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

const testTimeout = 2 * time.Second

// recordingDelegate collects delegate callbacks on channels so tests
// can wait for them deterministically.
type recordingDelegate struct {
	willStart chan struct{}
	didStart  chan engine.ServerConfiguration
	didStop   chan error
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		willStart: make(chan struct{}, 1),
		didStart:  make(chan engine.ServerConfiguration, 1),
		didStop:   make(chan error, 1),
	}
}

func (d *recordingDelegate) SessionWillStart() {
	d.willStart <- struct{}{}
}

func (d *recordingDelegate) SessionDidStart(cfg engine.ServerConfiguration) {
	d.didStart <- cfg
}

func (d *recordingDelegate) SessionDidStop(err error) {
	d.didStop <- err
}

func startAdapter(t *testing.T, a *Adapter, remote string, creds *engine.Credentials) chan error {
	t.Helper()
	done := make(chan error, 1)
	a.Start(remote, creds, func(err error) {
		done <- err
	})
	return done
}

func waitErrChan(t *testing.T, ch chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func TestAdapter_StartSuccess(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	delegate := newRecordingDelegate()
	a.SetDelegate(delegate)

	done := startAdapter(t, a, "vpn.example.com", nil)

	select {
	case <-delegate.willStart:
	case <-time.After(testTimeout):
		t.Fatal("SessionWillStart not delivered")
	}

	process := executor.process
	assert.True(t, process.IsStarted())

	process.Emit("UDPv4 link remote: [AF_INET]203.0.113.1:1194")
	process.Emit("PUSH: Received control message: 'PUSH_REPLY,route-gateway 10.8.0.1,dhcp-option DNS 10.8.0.1,ifconfig 10.8.0.2 255.255.255.0'")
	process.Emit("Initialization Sequence Completed")

	require.NoError(t, waitErrChan(t, done, "start completion"))

	select {
	case cfg := <-delegate.didStart:
		assert.Equal(t, "vpn.example.com", cfg.RemoteAddress)
		assert.Equal(t, "10.8.0.2", cfg.TunnelAddress)
		assert.Equal(t, "10.8.0.1", cfg.Gateway)
		assert.Equal(t, []string{"10.8.0.1"}, cfg.DNSServers)
	case <-time.After(testTimeout):
		t.Fatal("SessionDidStart not delivered")
	}
}

func TestAdapter_BuildArgs(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)
	a.ApplyTunables(engine.Tunables{
		AppVersion:        "1.2.3",
		DebugLevel:        4,
		FallbackDNS:       []string{"1.1.1.1"},
		SocketTimeout:     30 * time.Second,
		ReconnectionDelay: 5 * time.Second,
	})

	startAdapter(t, a, "vpn.example.com", &engine.Credentials{Username: "alice", Password: "pw"})

	assert.Equal(t, "/usr/sbin/openvpn", executor.LastName())

	args := executor.LastArgs()
	assert.Contains(t, args, "--client")
	assert.Contains(t, args, "--nobind")
	assertArgPair(t, args, "--remote", "vpn.example.com")
	assertArgPair(t, args, "--verb", "4")
	assertArgPair(t, args, "--auth-user-pass", "/dev/stdin")
	assertArgPair(t, args, "--connect-timeout", "30")
	assertArgPair(t, args, "--connect-retry", "5")
	assert.Contains(t, args, "--dhcp-option")
	assert.Contains(t, args, "1.1.1.1")
	assert.Contains(t, args, "UV_APP_VERSION")

	executor.process.Exit(nil)
}

func assertArgPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i, arg := range args {
		if arg == flag {
			require.Less(t, i+1, len(args), "flag %s has no value", flag)
			assert.Equal(t, value, args[i+1])
			return
		}
	}
	t.Errorf("flag %s not found in %v", flag, args)
}

func TestAdapter_CredentialsOnStdinOnly(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	startAdapter(t, a, "vpn.example.com", &engine.Credentials{Username: "alice", Password: "hunter2"})

	require.Eventually(t, func() bool {
		return executor.process.StdinContent() == "alice\nhunter2\n"
	}, testTimeout, time.Millisecond)

	// The password must never appear on the command line.
	for _, arg := range executor.LastArgs() {
		assert.NotContains(t, arg, "hunter2")
	}

	executor.process.Exit(nil)
}

func TestAdapter_NoCredentialFlagWithoutCredentials(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	startAdapter(t, a, "vpn.example.com", nil)

	assert.NotContains(t, executor.LastArgs(), "--auth-user-pass")
	executor.process.Exit(nil)
}

func TestAdapter_DataCount(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	done := startAdapter(t, a, "vpn.example.com", nil)

	// Not counting until the tunnel is up.
	_, ok := a.DataCount()
	assert.False(t, ok)

	executor.process.Emit("Initialization Sequence Completed")
	require.NoError(t, waitErrChan(t, done, "start completion"))

	executor.process.Emit(">BYTECOUNT:1024,2048")

	require.Eventually(t, func() bool {
		dc, ok := a.DataCount()
		return ok && dc.BytesIn == 1024 && dc.BytesOut == 2048
	}, testTimeout, time.Millisecond)
}

func TestAdapter_AuthFailure(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	delegate := newRecordingDelegate()
	a.SetDelegate(delegate)

	done := startAdapter(t, a, "vpn.example.com", &engine.Credentials{Username: "alice", Password: "wrong"})

	executor.process.Emit("AUTH: Received control message: AUTH_FAILED")

	// The parsed error must land before the exit is reaped.
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.lastErr != nil
	}, testTimeout, time.Millisecond)

	executor.process.Exit(errors.New("exit status 1"))

	err := waitErrChan(t, done, "start completion")
	var se *engine.SessionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, engine.ReasonAuthFailed, se.Reason)

	select {
	case stopErr := <-delegate.didStop:
		assert.True(t, errors.As(stopErr, &se))
	case <-time.After(testTimeout):
		t.Fatal("SessionDidStop not delivered")
	}
}

func TestAdapter_ExitBeforeConnecting(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	done := startAdapter(t, a, "vpn.example.com", nil)
	executor.process.Exit(nil)

	err := waitErrChan(t, done, "start completion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before connecting")
}

func TestAdapter_Stop(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	delegate := newRecordingDelegate()
	a.SetDelegate(delegate)

	done := startAdapter(t, a, "vpn.example.com", nil)
	executor.process.Emit("Initialization Sequence Completed")
	require.NoError(t, waitErrChan(t, done, "start completion"))
	<-delegate.didStart

	stopped := make(chan struct{})
	a.Stop(func() {
		close(stopped)
	})

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatal("stop completion not delivered")
	}

	assert.True(t, executor.process.IsKilled())

	select {
	case stopErr := <-delegate.didStop:
		assert.NoError(t, stopErr, "host-driven teardown is orderly")
	case <-time.After(testTimeout):
		t.Fatal("SessionDidStop not delivered")
	}

	_, ok := a.DataCount()
	assert.False(t, ok, "counting stops with the session")
}

func TestAdapter_StopWithoutSession(t *testing.T) {
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", newMockExecutor())

	stopped := make(chan struct{})
	a.Stop(func() {
		close(stopped)
	})

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatal("stop completion not delivered")
	}
}

func TestAdapter_StartWhileRunning(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	startAdapter(t, a, "vpn.example.com", nil)

	done := startAdapter(t, a, "vpn2.example.com", nil)
	err := waitErrChan(t, done, "second start completion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	executor.process.Exit(nil)
}

func TestAdapter_CreateProcessFailure(t *testing.T) {
	executor := newMockExecutor()
	executor.createErr = errors.New("binary not found")
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	done := startAdapter(t, a, "vpn.example.com", nil)
	err := waitErrChan(t, done, "start completion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create openvpn process")
}

func TestAdapter_StartProcessFailure(t *testing.T) {
	executor := newMockExecutor()
	executor.process.startErr = errors.New("permission denied")
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	done := startAdapter(t, a, "vpn.example.com", nil)
	err := waitErrChan(t, done, "start completion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start openvpn client")

	// The slot must be released for another start.
	done = startAdapter(t, a, "vpn.example.com", nil)
	select {
	case err := <-done:
		assert.NotContains(t, err.Error(), "already running")
	default:
		// Start accepted; fine.
	}
}

func TestAdapter_RestartAfterExit(t *testing.T) {
	executor := newMockExecutor()
	a := NewAdapterWithExecutor("/usr/sbin/openvpn", executor)

	done := startAdapter(t, a, "vpn.example.com", nil)
	executor.process.Exit(nil)
	waitErrChan(t, done, "first start completion")

	// Fresh process for the second session.
	executor.mu.Lock()
	executor.process = newMockProcess()
	executor.mu.Unlock()

	done = startAdapter(t, a, "vpn.example.com", nil)
	executor.process.Emit("Initialization Sequence Completed")
	assert.NoError(t, waitErrChan(t, done, "second start completion"))
}
