// Package engine defines the boundary to the OpenVPN protocol engine.
//
// The engine owns the wire protocol, key negotiation, and packet
// encryption. This package only describes what the session controller
// needs from it: asynchronous start/stop, transferred-byte counters,
// a one-shot tunables application, and a delegate surface for
// session lifecycle notifications.
package engine

import "time"

// Credentials is the username/password pair handed to the engine at
// session start. A nil *Credentials means certificate-based auth.
type Credentials struct {
	Username string
	Password string
}

// DataCount is a snapshot of bytes transferred through the tunnel.
type DataCount struct {
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// ServerConfiguration is the configuration pushed by the VPN server
// once the tunnel is established.
type ServerConfiguration struct {
	RemoteAddress string   `json:"remote_address"`
	TunnelAddress string   `json:"tunnel_address,omitempty"`
	Gateway       string   `json:"gateway,omitempty"`
	DNSServers    []string `json:"dns_servers,omitempty"`
	MTU           int      `json:"mtu,omitempty"`
}

// Tunables are the engine behavior knobs applied once per session
// start, before the engine is started. Zero values mean "engine
// default".
type Tunables struct {
	// AppVersion is an identifier the engine may report to the server
	// (e.g. via peer-info).
	AppVersion string
	// DebugLevel selects the engine's internal log verbosity.
	DebugLevel int
	// MasksPrivateData controls whether the engine redacts addresses
	// and hostnames in its own log output.
	MasksPrivateData bool
	// FallbackDNS are resolvers to use when the server pushes none.
	FallbackDNS []string

	DNSTimeout        time.Duration
	SocketTimeout     time.Duration
	ShutdownTimeout   time.Duration
	ReconnectionDelay time.Duration
}

// Delegate receives session lifecycle notifications from the engine.
// Callbacks may arrive on an engine-owned goroutine at any time while
// a session is starting or running.
type Delegate interface {
	// SessionWillStart is invoked when the engine begins negotiating.
	SessionWillStart()
	// SessionDidStart is invoked once the tunnel is established,
	// carrying the server-pushed configuration.
	SessionDidStart(cfg ServerConfiguration)
	// SessionDidStop is invoked when the session ends. err is nil for
	// an orderly shutdown, otherwise an engine-native error.
	SessionDidStop(err error)
}

// Engine is the protocol engine consumed by the session controller.
//
// Start and Stop are asynchronous: they return immediately and invoke
// done exactly once on an engine-owned goroutine. The engine
// serializes overlapping start/stop internally; the controller only
// ever issues one outstanding start and one outstanding stop.
type Engine interface {
	// SetDelegate installs the lifecycle delegate. Must be called
	// before Start.
	SetDelegate(d Delegate)

	// ApplyTunables applies the behavior knobs for the next session.
	// Called once per session start, never mid-session.
	ApplyTunables(t Tunables)

	// Start connects to remote and establishes the tunnel. creds may
	// be nil for certificate-based auth.
	Start(remote string, creds *Credentials, done func(error))

	// Stop tears the tunnel down. done is invoked once teardown
	// completes, even when no session is active.
	Stop(done func())

	// DataCount returns the current transferred-byte counters.
	// ok is false when the engine is not counting (no active session).
	DataCount() (dc DataCount, ok bool)
}
