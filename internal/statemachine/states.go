package statemachine

import "fmt"

// State is a symbolic actuator state.
type State string

const (
	StateIdle          State = "idle"
	StateOpening       State = "opening"
	StateClosing       State = "closing"
	StateOpen          State = "open"
	StateClosed        State = "closed"
	StatePaused        State = "paused"
	StateEmergencyStop State = "emergency_stop"
)

// AllStates returns every known state.
func AllStates() []State {
	return []State{
		StateIdle,
		StateOpening,
		StateClosing,
		StateOpen,
		StateClosed,
		StatePaused,
		StateEmergencyStop,
	}
}

// transitions is the allowed-transition table keyed by source state.
// emergency_stop is reachable from every state and only leaves to idle.
var transitions = map[State][]State{
	StateIdle:          {StateOpening, StateClosing, StateEmergencyStop},
	StateOpening:       {StateOpen, StatePaused, StateIdle, StateClosing, StateEmergencyStop},
	StateClosing:       {StateClosed, StatePaused, StateIdle, StateOpening, StateEmergencyStop},
	StateOpen:          {StateClosing, StateIdle, StateEmergencyStop},
	StateClosed:        {StateOpening, StateEmergencyStop},
	StatePaused:        {StateOpening, StateClosing, StateIdle, StateEmergencyStop},
	StateEmergencyStop: {StateIdle},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsMoving reports whether s is a motion state.
func (s State) IsMoving() bool {
	return s == StateOpening || s == StateClosing
}

// ParseState converts a string to a State, rejecting unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
	return st, nil
}

// AllowedFrom returns the states reachable from s in one transition.
// The returned slice is a copy.
func AllowedFrom(s State) []State {
	allowed := transitions[s]
	out := make([]State, len(allowed))
	copy(out, allowed)
	return out
}

// IsAllowed reports whether the table permits from -> to.
func IsAllowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// eventName is the looplab/fsm event that moves the machine into s.
func eventName(s State) string {
	return "to_" + string(s)
}
