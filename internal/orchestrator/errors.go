package orchestrator

import "errors"

var (
	// ErrAlreadyRunning is returned when a sequence is started while another
	// one is executing. The queue is left untouched.
	ErrAlreadyRunning = errors.New("orchestrator: sequence already running")

	// ErrSequenceStopped is returned by ExecuteSequence after StopSequence.
	ErrSequenceStopped = errors.New("orchestrator: sequence stopped")

	// ErrEmptyQueue is returned when a sequence is started with nothing queued.
	ErrEmptyQueue = errors.New("orchestrator: queue is empty")

	// ErrNotRunning is returned by pause, resume and stop with no active sequence.
	ErrNotRunning = errors.New("orchestrator: no sequence running")

	// ErrSafeModeUnavailable is returned for a safe-mode run without an engine.
	ErrSafeModeUnavailable = errors.New("orchestrator: safe mode requires an automation engine")

	// ErrScenarioNotFound is returned for an unknown built-in scenario.
	ErrScenarioNotFound = errors.New("orchestrator: scenario not found")
)
