package control

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelbridge/ovpnd/internal/provider"
)

func echoHandler(req *Request) *Response {
	resp, err := NewSuccessResponse(req.ID, &StatusResult{State: provider.StateIdle})
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return resp
}

func newTestServer(t *testing.T, handler RequestHandler) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	// Empty group skips the chown that needs a real system group.
	srv := NewServerWithGroup(socketPath, "", handler)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, socketPath
}

func TestServer_StartStop(t *testing.T) {
	srv, socketPath := newTestServer(t, echoHandler)

	assert.True(t, IsDaemonAvailableAt(socketPath))
	require.NoError(t, srv.Stop())
	assert.False(t, IsDaemonAvailableAt(socketPath))
}

func TestServer_DoubleStart(t *testing.T) {
	srv, _ := newTestServer(t, echoHandler)
	assert.Error(t, srv.Start())
}

func TestServer_StopIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, echoHandler)
	require.NoError(t, srv.Stop())
	assert.NoError(t, srv.Stop())
}

func TestServer_NilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewServerWithGroup("/tmp/sock", "", nil)
	})
}

func TestServer_RequestResponse(t *testing.T) {
	_, socketPath := newTestServer(t, echoHandler)

	client, err := DialPath(socketPath)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, provider.StateIdle, status.State)
}

func TestServer_ErrorResponse(t *testing.T) {
	_, socketPath := newTestServer(t, func(req *Request) *Response {
		resp := NewErrorResponse(req.ID, ErrCodeStartFailed, "engine refused")
		resp.Error.Kind = provider.KindAuthentication
		return resp
	})

	client, err := DialPath(socketPath)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	err = client.Start(map[string]any{"server_address": "vpn.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "START_FAILED")
	assert.Contains(t, err.Error(), "authentication")
	assert.Contains(t, err.Error(), "engine refused")
}

func TestServer_Broadcast(t *testing.T) {
	srv, socketPath := newTestServer(t, echoHandler)

	client, err := DialPath(socketPath)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	received := make(chan *Event, 1)
	client.OnEvent(func(event *Event) {
		received <- event
	})

	// Wait for the server to register the connection.
	require.Eventually(t, func() bool {
		return srv.ClientCount() == 1
	}, 2*time.Second, time.Millisecond)

	event, err := NewEvent(EventStateChange, &StateChangeData{
		From: provider.StateIdle,
		To:   provider.StateStarting,
	})
	require.NoError(t, err)
	srv.Broadcast(event)

	select {
	case got := <-received:
		assert.Equal(t, EventStateChange, got.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestServer_ClientDisconnect(t *testing.T) {
	srv, socketPath := newTestServer(t, echoHandler)

	client, err := DialPath(socketPath)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.ClientCount() == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return srv.ClientCount() == 0
	}, 2*time.Second, time.Millisecond)
}

func TestServer_MultipleClients(t *testing.T) {
	srv, socketPath := newTestServer(t, echoHandler)

	a, err := DialPath(socketPath)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	b, err := DialPath(socketPath)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.Eventually(t, func() bool {
		return srv.ClientCount() == 2
	}, 2*time.Second, time.Millisecond)
}

func TestClient_DaemonNotAvailable(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "missing.sock")

	_, err := DialPath(socketPath)
	assert.ErrorIs(t, err, ErrDaemonNotAvailable)
	assert.False(t, IsDaemonAvailableAt(socketPath))
}
