package statemachine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownState is returned when a transition targets a state outside the table.
	ErrUnknownState = errors.New("statemachine: unknown state")

	// ErrIllegalTransition is returned when the current state does not allow the target.
	ErrIllegalTransition = errors.New("statemachine: illegal transition")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From   State
	To     State
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", e.Err, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
