// Package control provides the host-facing control surface for the
// tunnel daemon: an NDJSON protocol over a UNIX socket, the server
// carrying it, the manager bridging requests to the session
// controller, and the client used by CLI tooling.
//
// Each message is a single JSON object terminated by a newline.
package control

import (
	"encoding/json"

	"github.com/tunnelbridge/ovpnd/internal/engine"
	"github.com/tunnelbridge/ovpnd/internal/provider"
)

// MessageType identifies the type of message.
type MessageType string

const (
	// MessageTypeRequest is sent from client to server.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse is sent from server to client in reply to a request.
	MessageTypeResponse MessageType = "response"
	// MessageTypeEvent is broadcast from server to all connected clients.
	MessageTypeEvent MessageType = "event"
)

// Command identifies the operation to perform.
type Command string

const (
	// CommandStart starts a tunnel session.
	CommandStart Command = "start"
	// CommandStop stops the active tunnel session.
	CommandStop Command = "stop"
	// CommandStatus queries the current session status.
	CommandStatus Command = "status"
)

// EventName identifies the type of event.
type EventName string

const (
	// EventStateChange indicates a session state transition.
	EventStateChange EventName = "state_change"
	// EventDataCount carries a transferred-byte counter sample.
	EventDataCount EventName = "data_count"
	// EventError indicates a classified session error.
	EventError EventName = "error"
)

// Error codes for protocol responses.
const (
	// ErrCodeInvalidRequest indicates the request was malformed.
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	// ErrCodeInvalidCommand indicates an unknown command was sent.
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	// ErrCodeInvalidParams indicates the command parameters were invalid.
	ErrCodeInvalidParams = "INVALID_PARAMS"
	// ErrCodeStartFailed indicates the session start failed.
	ErrCodeStartFailed = "START_FAILED"
	// ErrCodeInternalError indicates an unexpected internal error.
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Request represents a command sent from client to server.
type Request struct {
	// ID is a unique identifier for correlating responses.
	ID string `json:"id"`
	// Type is always "request".
	Type MessageType `json:"type"`
	// Command is the operation to perform.
	Command Command `json:"command"`
	// Params contains command-specific parameters.
	Params json.RawMessage `json:"params"`
}

// Response represents a reply from server to client.
type Response struct {
	// ID matches the request ID.
	ID string `json:"id"`
	// Type is always "response".
	Type MessageType `json:"type"`
	// Success indicates whether the command succeeded.
	Success bool `json:"success"`
	// Result contains command-specific result data (if Success is true).
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details (if Success is false).
	Error *ErrorInfo `json:"error,omitempty"`
}

// Event represents an asynchronous notification from server to clients.
type Event struct {
	// Type is always "event".
	Type MessageType `json:"type"`
	// Name identifies the event type.
	Name EventName `json:"name"`
	// Data contains event-specific information.
	Data json.RawMessage `json:"data"`
}

// ErrorInfo contains details about an error.
type ErrorInfo struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`
	// Kind is the provider error kind, when the error is classified.
	Kind provider.Kind `json:"kind,omitempty"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// StartParams contains parameters for the start command: the raw,
// untyped provider options map validated by the session controller.
type StartParams struct {
	Options map[string]any `json:"options"`
}

// StopParams contains parameters for the stop command.
type StopParams struct {
	// Reason is recorded in the session log.
	Reason string `json:"reason,omitempty"`
}

// StatusParams contains parameters for the status command.
// Currently empty but defined for future extensibility.
type StatusParams struct{}

// StatusResult contains the result of a status query.
type StatusResult struct {
	// State is the current session state.
	State provider.SessionState `json:"state"`
	// LastError is the last classified error kind, if any.
	LastError provider.Kind `json:"last_error,omitempty"`
	// ServerConfiguration is the last server-pushed configuration.
	ServerConfiguration *engine.ServerConfiguration `json:"server_configuration,omitempty"`
	// DataCount is the most recent counter sample.
	DataCount *engine.DataCount `json:"data_count,omitempty"`
	// DebugLogPath is where the session debug log is written.
	DebugLogPath string `json:"debug_log_path,omitempty"`
}

// StateChangeData contains data for state_change events.
type StateChangeData struct {
	// From is the previous state.
	From provider.SessionState `json:"from"`
	// To is the new state.
	To provider.SessionState `json:"to"`
}

// DataCountData contains data for data_count events. Counting is false
// when the session is not actively counting.
type DataCountData struct {
	Counting bool              `json:"counting"`
	Count    *engine.DataCount `json:"count,omitempty"`
}

// ErrorData contains data for error events.
type ErrorData struct {
	// Kind is the classified provider error kind.
	Kind provider.Kind `json:"kind"`
	// Message is the error description.
	Message string `json:"message"`
}

// NewRequest creates a new request with the given command and parameters.
func NewRequest(id string, cmd Command, params interface{}) (*Request, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:      id,
		Type:    MessageTypeRequest,
		Command: cmd,
		Params:  paramsJSON,
	}, nil
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result interface{}) (*Response, error) {
	var resultJSON json.RawMessage
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		ID:      id,
		Type:    MessageTypeResponse,
		Success: true,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code string, message string) *Response {
	return &Response{
		ID:      id,
		Type:    MessageTypeResponse,
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates a new event with the given name and data.
func NewEvent(name EventName, data interface{}) (*Event, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type: MessageTypeEvent,
		Name: name,
		Data: dataJSON,
	}, nil
}
