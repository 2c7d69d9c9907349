package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateIdle, "idle"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.state))
		})
	}
}

func TestSessionState_IsActive(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected bool
	}{
		{StateIdle, false},
		{StateStarting, true},
		{StateRunning, true},
		{StateStopping, false},
		{StateStopped, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.IsActive())
		})
	}
}

func TestSessionState_CanStart(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected bool
	}{
		{StateIdle, true},
		{StateStarting, false},
		{StateRunning, false},
		{StateStopping, false},
		{StateStopped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.CanStart())
		})
	}
}

func TestSessionState_CanStop(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected bool
	}{
		{StateIdle, false},
		{StateStarting, true},
		{StateRunning, true},
		{StateStopping, false},
		{StateStopped, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.CanStop())
		})
	}
}

func TestValidTransitions(t *testing.T) {
	validTransitions := []struct {
		from SessionState
		to   SessionState
	}{
		// From Idle
		{StateIdle, StateStarting},

		// From Starting
		{StateStarting, StateRunning},
		{StateStarting, StateStopping},
		{StateStarting, StateStopped}, // engine can fail a start on its own

		// From Running
		{StateRunning, StateStopping},
		{StateRunning, StateStopped}, // engine-initiated teardown

		// From Stopping
		{StateStopping, StateStopped},

		// From Stopped
		{StateStopped, StateStarting},
	}

	for _, tt := range validTransitions {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.True(t, IsValidTransition(tt.from, tt.to),
				"Expected transition from %s to %s to be valid", tt.from, tt.to)
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	invalidTransitions := []struct {
		from SessionState
		to   SessionState
	}{
		// Cannot skip the starting phase
		{StateIdle, StateRunning},
		{StateStopped, StateRunning},

		// Stop states cannot be entered from Idle
		{StateIdle, StateStopping},
		{StateIdle, StateStopped},

		// Cannot go backward to Idle
		{StateStarting, StateIdle},
		{StateRunning, StateIdle},
		{StateStopped, StateIdle},

		// Stopping only moves forward
		{StateStopping, StateRunning},
		{StateStopping, StateStarting},

		// Self transitions are not valid
		{StateIdle, StateIdle},
		{StateRunning, StateRunning},
		{StateStopped, StateStopped},
	}

	for _, tt := range invalidTransitions {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, IsValidTransition(tt.from, tt.to),
				"Expected transition from %s to %s to be invalid", tt.from, tt.to)
		})
	}
}

func TestAllStates(t *testing.T) {
	states := AllStates()

	assert.Len(t, states, 5)
	assert.Contains(t, states, StateIdle)
	assert.Contains(t, states, StateStarting)
	assert.Contains(t, states, StateRunning)
	assert.Contains(t, states, StateStopping)
	assert.Contains(t, states, StateStopped)
}

func TestIsValidTransition_UnknownState(t *testing.T) {
	unknownState := SessionState("unknown")

	assert.False(t, IsValidTransition(unknownState, StateRunning))
	assert.False(t, IsValidTransition(unknownState, StateIdle))

	assert.False(t, IsValidTransition(StateIdle, unknownState))
	assert.False(t, IsValidTransition(StateRunning, unknownState))
}
