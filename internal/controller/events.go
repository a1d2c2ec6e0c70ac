package controller

import (
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// EventType identifies a Controller event.
type EventType string

const (
	// EventRequestRejected fires when a motion request fails the safety checks.
	EventRequestRejected EventType = "request_rejected"

	// EventFaultStop fires when a fault stops a moving tailgate.
	EventFaultStop EventType = "fault_stop"

	// EventAutoReset fires when emergency_stop is left by the reset timer.
	EventAutoReset EventType = "auto_reset"

	// EventAutoResetSkipped fires when the reset timer finds faults still active.
	EventAutoResetSkipped EventType = "auto_reset_skipped"
)

// Event is published by the Controller.
type Event struct {
	Type      EventType          `json:"type"`
	Kind      action.Kind        `json:"action,omitempty"`
	Source    string             `json:"source,omitempty"`
	Message   string             `json:"message,omitempty"`
	State     statemachine.State `json:"state"`
	Timestamp time.Time          `json:"timestamp"`
	Err       error              `json:"-"`
}
