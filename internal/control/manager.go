package control

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tunnelbridge/ovpnd/internal/engine"
	"github.com/tunnelbridge/ovpnd/internal/fileutil"
	"github.com/tunnelbridge/ovpnd/internal/provider"
)

// EventBroadcaster is called to broadcast events to all clients.
type EventBroadcaster func(event *Event)

// Manager translates between the control protocol and the session
// controller. It also maintains an atomic status snapshot file that
// external observers can read without connecting to the socket.
type Manager struct {
	controller   *provider.Controller
	broadcaster  EventBroadcaster
	snapshotPath string

	// defaultOptions is used when a start request carries no options.
	defaultOptions map[string]any
}

// NewManager creates a manager bridging the given controller.
// snapshotPath may be empty to disable the status snapshot file.
func NewManager(controller *provider.Controller, broadcaster EventBroadcaster, snapshotPath string) *Manager {
	m := &Manager{
		controller:   controller,
		broadcaster:  broadcaster,
		snapshotPath: snapshotPath,
	}

	controller.OnStateChange(m.onStateChange)
	controller.OnDataCount(m.onDataCount)

	return m
}

// SetDefaultOptions installs the options map used for start requests
// that carry none of their own.
func (m *Manager) SetDefaultOptions(options map[string]any) {
	m.defaultOptions = options
}

// HandleRequest processes a request and returns a response.
func (m *Manager) HandleRequest(req *Request) *Response {
	switch req.Command {
	case CommandStart:
		return m.handleStart(req)
	case CommandStop:
		return m.handleStop(req)
	case CommandStatus:
		return m.handleStatus(req)
	default:
		return NewErrorResponse(req.ID, ErrCodeInvalidCommand, "unknown command: "+string(req.Command))
	}
}

// handleStart runs a session start and replies with its outcome. The
// reply waits for the start completion, so configuration and
// credential failures surface directly in the response.
func (m *Manager) handleStart(req *Request) *Response {
	var params StartParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "invalid start parameters: "+err.Error())
	}

	options := params.Options
	if len(options) == 0 {
		options = m.defaultOptions
	}

	done := make(chan error, 1)
	m.controller.Start(options, func(err error) {
		done <- err
	})

	if err := <-done; err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeStartFailed, err.Error())
		var pe *provider.Error
		if errors.As(err, &pe) {
			resp.Error.Kind = pe.Kind
		}
		return resp
	}

	resp, err := NewSuccessResponse(req.ID, nil)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return resp
}

func (m *Manager) handleStop(req *Request) *Response {
	var params StopParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "invalid stop parameters: "+err.Error())
		}
	}
	reason := params.Reason
	if reason == "" {
		reason = "user requested"
	}

	done := make(chan struct{})
	m.controller.Stop(reason, func() {
		close(done)
	})
	<-done

	resp, err := NewSuccessResponse(req.ID, nil)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return resp
}

func (m *Manager) handleStatus(req *Request) *Response {
	resp, err := NewSuccessResponse(req.ID, m.statusResult())
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return resp
}

// statusResult assembles the status reply from one atomic snapshot of
// the published state.
func (m *Manager) statusResult() *StatusResult {
	snap := m.controller.Published().Snapshot()
	return &StatusResult{
		State:               m.controller.State(),
		LastError:           snap.LastErrorKind,
		ServerConfiguration: snap.ServerConfiguration,
		DataCount:           snap.DataCount,
		DebugLogPath:        snap.DebugLogPath,
	}
}

// Shutdown stops any active session before daemon exit.
func (m *Manager) Shutdown() {
	done := make(chan struct{})
	m.controller.Stop("daemon shutdown", func() {
		close(done)
	})
	<-done
}

// onStateChange broadcasts the transition, refreshes the snapshot
// file, and surfaces the published error when a session ends badly.
func (m *Manager) onStateChange(oldState, newState provider.SessionState) {
	m.broadcastEvent(EventStateChange, &StateChangeData{From: oldState, To: newState})
	m.writeSnapshot()

	if newState != provider.StateStopped {
		return
	}
	snap := m.controller.Published().Snapshot()
	if snap.LastError != nil {
		m.broadcastEvent(EventError, &ErrorData{
			Kind:    snap.LastError.Kind,
			Message: snap.LastError.Error(),
		})
	}
}

func (m *Manager) onDataCount(dc *engine.DataCount) {
	m.broadcastEvent(EventDataCount, &DataCountData{
		Counting: dc != nil,
		Count:    dc,
	})
}

func (m *Manager) broadcastEvent(name EventName, data interface{}) {
	if m.broadcaster == nil {
		return
	}
	event, err := NewEvent(name, data)
	if err != nil {
		slog.Warn("Failed to build event", "name", name, "error", err)
		return
	}
	m.broadcaster(event)
}

// writeSnapshot persists the status result for file-based observers.
func (m *Manager) writeSnapshot() {
	if m.snapshotPath == "" {
		return
	}
	if err := fileutil.AtomicWriteJSON(m.snapshotPath, m.statusResult(), 0644); err != nil {
		slog.Warn("Failed to write status snapshot", "path", m.snapshotPath, "error", err)
	}
}
