package action

import "time"

// EventType identifies an Executor event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionError     EventType = "execution_error"
	EventStatusUpdated      EventType = "status_updated"
)

// Event is published by the Executor around every action.
type Event struct {
	Type        EventType     `json:"type"`
	ExecutionID string        `json:"execution_id"`
	Kind        Kind          `json:"action"`
	Params      Params        `json:"params,omitempty"`
	Source      string        `json:"source,omitempty"`
	Message     string        `json:"message,omitempty"`
	Level       string        `json:"level,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Err         error         `json:"-"`
}
