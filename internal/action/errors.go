package action

import "errors"

var (
	// ErrUnknownAction is returned for an action kind outside the known set.
	ErrUnknownAction = errors.New("action: unknown action")

	// ErrInvalidParams is returned when params fail the kind's schema.
	ErrInvalidParams = errors.New("action: invalid params")

	// ErrActuatorUnavailable is returned when a motion action has no driver.
	ErrActuatorUnavailable = errors.New("action: actuator unavailable")

	// ErrActuatorTimeout is returned when motion does not finish in time.
	ErrActuatorTimeout = errors.New("action: actuator timeout")

	// ErrNotPaused is returned by resume when there is no paused motion.
	ErrNotPaused = errors.New("action: no paused motion")
)
