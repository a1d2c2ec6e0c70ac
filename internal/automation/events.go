package automation

import "time"

// EventType identifies an Engine event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventPreconditionPassed EventType = "precondition_passed"
	EventPreconditionFailed EventType = "precondition_failed"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventExecutionPaused    EventType = "execution_paused"
	EventExecutionResumed   EventType = "execution_resumed"
	EventPostActionFailed   EventType = "post_action_failed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionError     EventType = "execution_error"
)

// Event is published by the Engine over the life of an execution.
type Event struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"execution_id,omitempty"`
	ConfigID    string          `json:"config_id,omitempty"`
	ConfigName  string          `json:"config_name,omitempty"`
	Index       int             `json:"index"` // step, precondition or post-action index
	StepType    StepType        `json:"step_type,omitempty"`
	Message     string          `json:"message,omitempty"`
	Status      ExecutionStatus `json:"status,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Err         error           `json:"-"`
}
