package orchestrator

import (
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
)

// EventType identifies an orchestrator event.
type EventType string

const (
	EventSequenceStarted   EventType = "sequence_started"
	EventSequenceRejected  EventType = "sequence_rejected"
	EventActionStarted     EventType = "action_started"
	EventActionCompleted   EventType = "action_completed"
	EventLoopCompleted     EventType = "loop_completed"
	EventSequencePaused    EventType = "sequence_paused"
	EventSequenceResumed   EventType = "sequence_resumed"
	EventSequenceStopped   EventType = "sequence_stopped"
	EventSequenceCompleted EventType = "sequence_completed"
	EventSequenceError     EventType = "sequence_error"
	EventParallelStarted   EventType = "parallel_started"
	EventParallelCompleted EventType = "parallel_completed"
	EventParallelError     EventType = "parallel_error"
	EventRetryScheduled    EventType = "retry_scheduled"
	EventRecoveryCompleted EventType = "recovery_completed"
	EventRecoveryFailed    EventType = "recovery_failed"
)

// Event is published on every sequence lifecycle change.
type Event struct {
	Type      EventType     `json:"type"`
	Sequence  string        `json:"sequence,omitempty"`
	Index     int           `json:"index"`
	Loop      int           `json:"loop,omitempty"`
	Kind      action.Kind   `json:"action,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Delay     time.Duration `json:"delay_ns,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Err       error         `json:"-"`
}
