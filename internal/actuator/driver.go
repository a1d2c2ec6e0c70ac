// Package actuator defines the motion-layer contract consumed by the control
// core and provides a simulated driver.
//
// The core never animates anything itself. It asks a Driver to start or
// retarget motion and learns about completion through Status polling and
// the driver's events.
package actuator

import (
	"errors"
	"time"
)

// MaxAngle is the fully open position in degrees. Zero is fully closed.
const MaxAngle = 90.0

var (
	// ErrInvalidAngle is returned for targets outside [0, MaxAngle].
	ErrInvalidAngle = errors.New("actuator: angle out of range")

	// ErrDriverFault is returned when the driver refuses to move.
	ErrDriverFault = errors.New("actuator: driver fault")
)

// Status is the driver's current physical status.
type Status struct {
	IsAnimating bool    `json:"is_animating"`
	Angle       float64 `json:"angle"`
	Target      float64 `json:"target"`
	Speed       float64 `json:"speed"`
	IsOpen      bool    `json:"is_open"`
	IsClosed    bool    `json:"is_closed"`
}

// EventType identifies a driver event.
type EventType string

const (
	// EventPositionReached fires when a motion reaches its target.
	EventPositionReached EventType = "position_reached"

	// EventEmergencyStop fires when the driver halts on request.
	EventEmergencyStop EventType = "emergency_stop"

	// EventAngleChanged fires on every simulated movement step.
	EventAngleChanged EventType = "angle_changed"
)

// Event is published by a Driver.
type Event struct {
	Type      EventType `json:"type"`
	Angle     float64   `json:"angle"`
	Target    float64   `json:"target"`
	IsOpen    bool      `json:"is_open"`
	IsClosed  bool      `json:"is_closed"`
	Timestamp time.Time `json:"timestamp"`
}

// Driver moves the tailgate. Speed is a percentage in (0, 100].
type Driver interface {
	StartOpen(speed float64) error
	StartClose(speed float64) error
	MoveToAngle(angle, speed float64) error
	EmergencyStop() error
	Status() Status

	// Subscribe registers an event handler and returns its unsubscribe function.
	Subscribe(h func(Event)) func()
}
