package controller

import "errors"

var (
	// ErrUnsafe is returned when a motion request fails a safety precondition.
	ErrUnsafe = errors.New("controller: unsafe to move")

	// ErrFaultsActive is returned by ResetEmergencyStop while faults remain.
	ErrFaultsActive = errors.New("controller: faults still active")

	// ErrNotStopped is returned by ResetEmergencyStop outside emergency_stop.
	ErrNotStopped = errors.New("controller: not in emergency stop")

	// ErrInvalidCommand is returned for a malformed MQTT command.
	ErrInvalidCommand = errors.New("controller: invalid command")

	// ErrInvalidSensor is returned for a sensor message on an unknown topic.
	ErrInvalidSensor = errors.New("controller: invalid sensor message")
)
