package condition

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownConditionType is returned for a condition type outside the known set.
	ErrUnknownConditionType = errors.New("condition: unknown condition type")

	// ErrInvalidOperator is returned for an unknown operator or one that does
	// not apply to the field's value kind.
	ErrInvalidOperator = errors.New("condition: invalid operator")

	// ErrInvalidValue is returned when the expected value has the wrong shape.
	ErrInvalidValue = errors.New("condition: invalid value")

	// ErrTypeMismatch is returned when actual and expected values cannot be compared.
	ErrTypeMismatch = errors.New("condition: type mismatch")

	// ErrConditionTimeout is matched by *TimeoutError.
	ErrConditionTimeout = errors.New("condition: timeout")
)

// TimeoutError is returned by WaitForCondition when the condition did not
// hold before the deadline.
type TimeoutError struct {
	Condition Condition
	Timeout   time.Duration
	Last      Result
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: %s not met within %v (actual %v)",
		ErrConditionTimeout, e.Condition, e.Timeout, e.Last.Actual)
}

func (e *TimeoutError) Unwrap() error {
	return ErrConditionTimeout
}
