package vehicle

import (
	"fmt"
	"time"
)

// FaultKind identifies a fault source.
type FaultKind string

const (
	FaultObstacle FaultKind = "obstacle"
	FaultHardware FaultKind = "hardware"
	FaultMotor    FaultKind = "motor"
	FaultSensor   FaultKind = "sensor"
)

// ParseFaultKind converts a string to a FaultKind.
func ParseFaultKind(s string) (FaultKind, error) {
	switch k := FaultKind(s); k {
	case FaultObstacle, FaultHardware, FaultMotor, FaultSensor:
		return k, nil
	}
	return "", fmt.Errorf("vehicle: unknown fault kind %q", s)
}

// Fault is an active fault.
type Fault struct {
	Kind     FaultKind `json:"kind"`
	Message  string    `json:"message,omitempty"`
	RaisedAt time.Time `json:"raised_at"`
}

// FaultEventType identifies a fault event.
type FaultEventType string

const (
	EventObstacleDetected FaultEventType = "obstacle_detected"
	EventObstacleCleared  FaultEventType = "obstacle_cleared"
	EventHardwareFault    FaultEventType = "hardware_fault"
	EventMotorFault       FaultEventType = "motor_fault"
	EventSensorFault      FaultEventType = "sensor_fault"
	EventFaultCleared     FaultEventType = "fault_cleared"
)

// FaultEvent is published by Store when a fault is raised or cleared.
type FaultEvent struct {
	Type      FaultEventType `json:"type"`
	Fault     FaultKind      `json:"fault"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Raised reports whether the event activates a fault.
func (e FaultEvent) Raised() bool {
	return e.Type != EventObstacleCleared && e.Type != EventFaultCleared
}

func (k FaultKind) raisedEvent() FaultEventType {
	switch k {
	case FaultObstacle:
		return EventObstacleDetected
	case FaultHardware:
		return EventHardwareFault
	case FaultMotor:
		return EventMotorFault
	default:
		return EventSensorFault
	}
}

func (k FaultKind) clearedEvent() FaultEventType {
	if k == FaultObstacle {
		return EventObstacleCleared
	}
	return EventFaultCleared
}
