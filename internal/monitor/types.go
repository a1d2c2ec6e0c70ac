// Package monitor runs continuously-evaluated conditions during a config
// execution and dispatches their trigger actions.
//
// Each active monitor owns one goroutine that evaluates its condition on a
// fixed interval. With the default EveryTick policy a condition that stays
// true fires on every tick until it clears or the monitor is stopped; the
// OnEdge policy fires once per false-to-true edge instead.
package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tailgate-core/internal/condition"
)

// DefaultInterval is the check interval when none is configured.
const DefaultInterval = 100 * time.Millisecond

var (
	// ErrInvalidMonitor is returned by Start when a monitor fails validation.
	ErrInvalidMonitor = errors.New("monitor: invalid monitor")

	// ErrUnknownCallback is reported when a custom trigger names no registered callback.
	ErrUnknownCallback = errors.New("monitor: unknown callback")
)

// Trigger is what happens when a monitor's condition holds.
type Trigger string

const (
	TriggerEmergencyStop Trigger = "emergency_stop"
	TriggerPause         Trigger = "pause"
	TriggerAbort         Trigger = "abort"
	TriggerLog           Trigger = "log"
	TriggerCustom        Trigger = "custom"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerEmergencyStop, TriggerPause, TriggerAbort, TriggerLog, TriggerCustom:
		return true
	}
	return false
}

// Policy controls how often a persistently true condition fires.
type Policy string

const (
	// PolicyEveryTick fires on every tick the condition holds.
	PolicyEveryTick Policy = "every_tick"

	// PolicyOnEdge fires once each time the condition becomes true.
	PolicyOnEdge Policy = "on_edge"
)

// ParsePolicy converts a string to a Policy. Empty means PolicyEveryTick.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyEveryTick, nil
	case PolicyEveryTick, PolicyOnEdge:
		return p, nil
	}
	return "", fmt.Errorf("monitor: unknown policy %q", s)
}

// Monitor is a condition watched for the lifetime of one execution.
type Monitor struct {
	ID        string             `json:"id" yaml:"id"`
	Type      condition.Type     `json:"type" yaml:"type"`
	Operator  condition.Operator `json:"operator" yaml:"operator"`
	Value     any                `json:"value" yaml:"value"`
	OnTrigger Trigger            `json:"on_trigger" yaml:"on_trigger"`

	// Callback names the registered function run by TriggerCustom.
	Callback string `json:"callback,omitempty" yaml:"callback,omitempty"`

	// Message is logged and carried on trigger events.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Condition returns the monitor's condition.
func (m Monitor) Condition() condition.Condition {
	return condition.Condition{Type: m.Type, Operator: m.Operator, Value: m.Value}
}

// Validate checks the monitor's shape.
func (m Monitor) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidMonitor)
	}
	if err := m.Condition().Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidMonitor, m.ID, err)
	}
	if !m.OnTrigger.Valid() {
		return fmt.Errorf("%w: %s: unknown on_trigger %q", ErrInvalidMonitor, m.ID, m.OnTrigger)
	}
	if m.OnTrigger == TriggerCustom && m.Callback == "" {
		return fmt.Errorf("%w: %s: custom trigger needs a callback", ErrInvalidMonitor, m.ID)
	}
	return nil
}

// EventType identifies a Manager event.
type EventType string

const (
	EventMonitorStarted   EventType = "monitor_started"
	EventMonitorTriggered EventType = "monitor_triggered"
	EventMonitorError     EventType = "monitor_error"
	EventMonitorsStopped  EventType = "monitors_stopped"
)

// Event is published by the Manager.
type Event struct {
	Type      EventType         `json:"type"`
	MonitorID string            `json:"monitor_id,omitempty"`
	Trigger   Trigger           `json:"trigger,omitempty"`
	Message   string            `json:"message,omitempty"`
	Result    *condition.Result `json:"result,omitempty"`
	Count     int               `json:"count,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Err       error             `json:"-"`
}

// Status describes one active monitor.
type Status struct {
	Monitor   Monitor   `json:"monitor"`
	StartedAt time.Time `json:"started_at"`
	Fired     int       `json:"fired"`
}
