// Package statemachine tracks the tailgate actuator state.
//
// States:
//
//	idle, opening, closing, open, closed, paused, emergency_stop
//
// The allowed-transition table is fixed (see AllowedFrom). emergency_stop is
// reachable from every state and can only be left through
// ResetEmergencyStop, which lands in idle. Repeated emergency stops are
// absorbed: the call succeeds but no second transition is recorded.
//
// Every accepted transition appends a Record to a bounded history and
// publishes an EventStateChanged; rejected transitions publish
// EventTransitionRejected and leave the state untouched.
//
// Usage:
//
//	m, err := statemachine.New(statemachine.WithLogger(log))
//	if err != nil { ... }
//	m.Subscribe(func(e statemachine.Event) { ... })
//	if !m.StartOpening() { ... }
package statemachine
