package automation

import (
	"errors"
	"fmt"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrConfigNotFound) {
//	    // handle not found case
//	}
var (
	// ErrConfigNotFound is returned when a config ID does not exist.
	ErrConfigNotFound = errors.New("config: not found")

	// ErrConfigExists is returned when adding a config whose ID is taken.
	ErrConfigExists = errors.New("config: already exists")

	// ErrInvalidConfig is returned when config validation fails.
	ErrInvalidConfig = errors.New("config: invalid")

	// ErrInvalidStep is returned when a step is malformed.
	ErrInvalidStep = errors.New("config: invalid step")

	// ErrInvalidName is returned when a config name is empty or too long.
	ErrInvalidName = errors.New("config: invalid name")

	// ErrInvalidID is returned when a config ID has the wrong format.
	ErrInvalidID = errors.New("config: invalid id")

	// ErrNoSteps is returned when a config has no steps.
	ErrNoSteps = errors.New("config: no steps")

	// ErrPreconditionFailed is returned when an aborting precondition fails.
	ErrPreconditionFailed = errors.New("config: precondition failed")

	// ErrConditionNotMet is returned when a condition step evaluates false.
	ErrConditionNotMet = errors.New("config: condition not met")

	// ErrExecutionAlreadyRunning is returned when the engine is busy.
	ErrExecutionAlreadyRunning = errors.New("config: execution already running")

	// ErrExecutionStopped is returned when an execution is stopped externally.
	ErrExecutionStopped = errors.New("config: execution stopped")

	// ErrExecutionAborted is returned when a monitor aborts an execution.
	ErrExecutionAborted = errors.New("config: execution aborted by monitor")

	// ErrEmergencyStopped is returned when the actuator enters emergency
	// stop while a step is running.
	ErrEmergencyStopped = errors.New("config: emergency stop during execution")

	// ErrNotRunning is returned by Pause/Resume/Stop with no active execution.
	ErrNotRunning = errors.New("config: no execution running")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("config: execution not found")
)

// StepError describes the step that aborted an execution.
type StepError struct {
	Index int
	Step  Step
	Err   error
}

func (e *StepError) Error() string {
	if e.Step.Type == StepAction {
		return fmt.Sprintf("step %d (%s %s): %v", e.Index, e.Step.Type, e.Step.Action, e.Err)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step.Type, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
