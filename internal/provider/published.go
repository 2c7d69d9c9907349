package provider

import (
	"sync"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

// Snapshot is an atomic copy of the host-visible session state.
// All fields are last-write-wins and independently nullable. The
// session state itself lives on the controller, not here.
type Snapshot struct {
	// LastError is the last classified error, or nil. It persists
	// until the next successful session start clears it.
	LastError *Error `json:"-"`
	// LastErrorKind mirrors LastError.Kind for serialization.
	LastErrorKind Kind `json:"last_error,omitempty"`
	// ServerConfiguration is the last server-pushed configuration,
	// or nil.
	ServerConfiguration *engine.ServerConfiguration `json:"server_configuration,omitempty"`
	// DataCount is the most recent counter sample, or nil when the
	// session is not counting.
	DataCount *engine.DataCount `json:"data_count,omitempty"`
	// DebugLogPath is where the session debug log is written.
	DebugLogPath string `json:"debug_log_path,omitempty"`
}

// PublishedState is the cross-boundary side channel read by external
// observers. Writers are the controller and the engine delegate path;
// reads return whole snapshots, never individual fields, so observers
// can't see a torn multi-field state.
type PublishedState struct {
	mu           sync.RWMutex
	lastError    *Error
	serverConfig *engine.ServerConfiguration
	dataCount    *engine.DataCount
	debugLogPath string
}

// SetLastError publishes the last classified error; nil clears it.
func (p *PublishedState) SetLastError(err *Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastError = err
}

// SetServerConfiguration publishes the server-pushed configuration;
// nil clears it.
func (p *PublishedState) SetServerConfiguration(cfg *engine.ServerConfiguration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg == nil {
		p.serverConfig = nil
		return
	}
	copied := *cfg
	p.serverConfig = &copied
}

// SetDataCount publishes the latest counter sample; nil means the
// session is not counting.
func (p *PublishedState) SetDataCount(dc *engine.DataCount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dc == nil {
		p.dataCount = nil
		return
	}
	copied := *dc
	p.dataCount = &copied
}

// SetDebugLogPath publishes the debug log file location.
func (p *PublishedState) SetDebugLogPath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debugLogPath = path
}

// Snapshot returns an atomic copy of every published field.
func (p *PublishedState) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		LastError:    p.lastError,
		DebugLogPath: p.debugLogPath,
	}
	if p.lastError != nil {
		snap.LastErrorKind = p.lastError.Kind
	}
	if p.serverConfig != nil {
		copied := *p.serverConfig
		snap.ServerConfiguration = &copied
	}
	if p.dataCount != nil {
		copied := *p.dataCount
		snap.DataCount = &copied
	}
	return snap
}
