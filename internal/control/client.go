package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout for RPC calls. Starts can legitimately take a while;
// the engine's own timeouts fire well before this.
const DefaultTimeout = 60 * time.Second

// ErrDaemonNotAvailable is returned when the daemon is not running.
var ErrDaemonNotAvailable = errors.New("control daemon not available")

// Client talks to the control daemon over the UNIX socket.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader

	// writeMu serializes NDJSON writes to prevent interleaved lines.
	writeMu sync.Mutex

	// Pending requests waiting for responses.
	pendingMu sync.Mutex
	pending   map[string]chan *Response

	mu      sync.RWMutex
	onEvent func(event *Event)

	closeChan chan struct{}
	closeOnce sync.Once
}

// Dial connects to the daemon at the default socket path.
func Dial() (*Client, error) {
	return DialPath(DefaultSocketPath)
}

// DialPath connects to the daemon at the given socket path.
func DialPath(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonNotAvailable, err)
	}

	client := &Client{
		socketPath: socketPath,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		pending:    make(map[string]chan *Response),
		closeChan:  make(chan struct{}),
	}

	go client.readLoop()

	return client, nil
}

// IsDaemonAvailableAt checks if the daemon is reachable at the given
// socket path.
func IsDaemonAvailableAt(socketPath string) bool {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return false
	}
	_ = conn.Close() // only checking connectivity
	return true
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.conn != nil {
			closeErr = c.conn.Close()
		}
	})
	return closeErr
}

// OnEvent registers a callback for broadcast events. The callback runs
// on the client's read goroutine.
func (c *Client) OnEvent(callback func(event *Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = callback
}

// Start asks the daemon to start a session with the given raw options.
func (c *Client) Start(options map[string]any) error {
	resp, err := c.call(CommandStart, &StartParams{Options: options})
	if err != nil {
		return err
	}
	return responseError(resp)
}

// Stop asks the daemon to stop the active session.
func (c *Client) Stop(reason string) error {
	resp, err := c.call(CommandStop, &StopParams{Reason: reason})
	if err != nil {
		return err
	}
	return responseError(resp)
}

// Status queries the current session status.
func (c *Client) Status() (*StatusResult, error) {
	resp, err := c.call(CommandStatus, &StatusParams{})
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	var result StatusResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("invalid status result: %w", err)
	}
	return &result, nil
}

// call sends one request and waits for its correlated response.
func (c *Client) call(cmd Command, params interface{}) (*Response, error) {
	id := uuid.New().String()
	req, err := NewRequest(id, cmd, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	respChan := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.sendJSON(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-c.closeChan:
		return nil, ErrDaemonNotAvailable
	case <-time.After(DefaultTimeout):
		return nil, fmt.Errorf("request %s timed out", cmd)
	}
}

func (c *Client) sendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// readLoop dispatches responses to pending calls and events to the
// registered callback.
func (c *Client) readLoop() {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			select {
			case <-c.closeChan:
			default:
				slog.Debug("Control client read loop ended", "error", err)
				_ = c.Close()
			}
			return
		}

		var envelope struct {
			Type MessageType `json:"type"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			slog.Warn("Invalid message from daemon", "error", err)
			continue
		}

		switch envelope.Type {
		case MessageTypeResponse:
			var resp Response
			if err := json.Unmarshal(line, &resp); err != nil {
				slog.Warn("Invalid response from daemon", "error", err)
				continue
			}
			c.pendingMu.Lock()
			respChan, ok := c.pending[resp.ID]
			c.pendingMu.Unlock()
			if ok {
				respChan <- &resp
			}

		case MessageTypeEvent:
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				slog.Warn("Invalid event from daemon", "error", err)
				continue
			}
			c.mu.RLock()
			callback := c.onEvent
			c.mu.RUnlock()
			if callback != nil {
				callback(&event)
			}
		}
	}
}

// responseError converts a failed response into an error carrying the
// daemon's code and classified kind.
func responseError(resp *Response) error {
	if resp.Success {
		return nil
	}
	if resp.Error == nil {
		return errors.New("request failed")
	}
	if resp.Error.Kind != "" {
		return fmt.Errorf("%s (%s): %s", resp.Error.Code, resp.Error.Kind, resp.Error.Message)
	}
	return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
}
