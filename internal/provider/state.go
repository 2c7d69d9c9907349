// Package provider implements the tunnel session lifecycle controller
// that sits between the packet-tunnel host and the OpenVPN engine.
package provider

// SessionState represents the current state of a tunnel session.
type SessionState string

const (
	// StateIdle indicates no session has been started yet.
	StateIdle SessionState = "idle"
	// StateStarting indicates a session start is in flight.
	StateStarting SessionState = "starting"
	// StateRunning indicates the tunnel is established.
	StateRunning SessionState = "running"
	// StateStopping indicates a session stop is in flight.
	StateStopping SessionState = "stopping"
	// StateStopped indicates the last session has been torn down.
	StateStopped SessionState = "stopped"
)

// IsActive returns true if the state represents an in-flight or
// established session.
func (s SessionState) IsActive() bool {
	return s == StateStarting || s == StateRunning
}

// CanStart returns true if a new session can be started from this state.
func (s SessionState) CanStart() bool {
	return s == StateIdle || s == StateStopped
}

// CanStop returns true if a stop is meaningful from this state.
// Stopping from other states is treated as a no-op, not an error.
func (s SessionState) CanStop() bool {
	return s == StateStarting || s == StateRunning
}

// validTransitions defines the allowed state transitions.
var validTransitions = map[SessionState][]SessionState{
	StateIdle: {
		StateStarting,
	},
	StateStarting: {
		StateRunning,
		StateStopping,
		// The engine can fail a start without a host-driven stop.
		StateStopped,
	},
	StateRunning: {
		StateStopping,
		StateStopped,
	},
	StateStopping: {
		StateStopped,
	},
	StateStopped: {
		StateStarting,
	},
}

// IsValidTransition checks if transitioning from one state to another
// is allowed.
func IsValidTransition(from, to SessionState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// AllStates returns all possible session states.
func AllStates() []SessionState {
	return []SessionState{
		StateIdle,
		StateStarting,
		StateRunning,
		StateStopping,
		StateStopped,
	}
}
