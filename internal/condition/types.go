// Package condition evaluates declarative predicates against a vehicle
// snapshot.
//
// A Condition names one snapshot field (its Type), an Operator and an
// expected Value. Evaluation is pure: it reads exactly one snapshot from the
// injected Provider and has no side effects.
package condition

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// Type is a closed set of snapshot fields a condition can test.
type Type string

const (
	TypeVehicleSpeed       Type = "vehicle_speed"
	TypeObstacleDetected   Type = "obstacle_detected"
	TypeDistanceToObstacle Type = "distance_to_obstacle"
	TypeTailgateAngle      Type = "tailgate_angle"
	TypeTailgateState      Type = "tailgate_state"
	TypeSystemReady        Type = "system_ready"
	TypeTemperature        Type = "temperature"
	TypeBatteryVoltage     Type = "battery_voltage"
	TypeActuatorReady      Type = "actuator_ready"
	TypeIsAnimating        Type = "is_animating"
	TypeFaultActive        Type = "fault_active"
)

// AllTypes returns every known condition type.
func AllTypes() []Type {
	return []Type{
		TypeVehicleSpeed,
		TypeObstacleDetected,
		TypeDistanceToObstacle,
		TypeTailgateAngle,
		TypeTailgateState,
		TypeSystemReady,
		TypeTemperature,
		TypeBatteryVoltage,
		TypeActuatorReady,
		TypeIsAnimating,
		TypeFaultActive,
	}
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := t.extract(vehicle.Snapshot{})
	return ok
}

// UnmarshalJSON rejects unknown types at load time.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.set(s)
}

// UnmarshalYAML rejects unknown types at load time.
func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return t.set(s)
}

func (t *Type) set(s string) error {
	if !Type(s).Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownConditionType, s)
	}
	*t = Type(s)
	return nil
}

// extract reads the field t names from s. fault_active yields whether any
// fault is active.
func (t Type) extract(s vehicle.Snapshot) (any, bool) {
	switch t {
	case TypeVehicleSpeed:
		return s.VehicleSpeed, true
	case TypeObstacleDetected:
		return s.ObstacleDetected, true
	case TypeDistanceToObstacle:
		return s.DistanceToObstacle, true
	case TypeTailgateAngle:
		return s.TailgateAngle, true
	case TypeTailgateState:
		return string(s.TailgateState), true
	case TypeSystemReady:
		return s.SystemReady, true
	case TypeTemperature:
		return s.Temperature, true
	case TypeBatteryVoltage:
		return s.BatteryVoltage, true
	case TypeActuatorReady:
		return s.ActuatorReady, true
	case TypeIsAnimating:
		return s.IsAnimating, true
	case TypeFaultActive:
		return len(s.ActiveFaults) > 0, true
	}
	return nil, false
}

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpGreaterEqual Operator = ">="
	OpGreater      Operator = ">"
	OpNotEqual     Operator = "!="
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpBetween      Operator = "between"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpLess, OpLessEqual, OpEqual, OpGreaterEqual, OpGreater,
		OpNotEqual, OpIn, OpNotIn, OpBetween:
		return true
	}
	return false
}

// Condition is a predicate over one snapshot field.
type Condition struct {
	Type     Type     `json:"type" yaml:"type"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`

	// TimeoutMS bounds WaitForCondition when no explicit timeout is given.
	TimeoutMS int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// String renders the condition for logs and errors.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Type, c.Operator, c.Value)
}

// Validate checks type, operator and value shape without reading a snapshot.
func (c Condition) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownConditionType, c.Type)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperator, c.Operator)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidValue)
	}
	switch c.Operator {
	case OpIn, OpNotIn:
		if _, ok := toList(c.Value); !ok {
			return fmt.Errorf("%w: %s requires a list", ErrInvalidValue, c.Operator)
		}
	case OpBetween:
		if _, _, ok := toRange(c.Value); !ok {
			return fmt.Errorf("%w: between requires [min, max]", ErrInvalidValue)
		}
	default:
		if c.Value == nil {
			return fmt.Errorf("%w: value required", ErrInvalidValue)
		}
	}
	return nil
}

// Result is the outcome of evaluating one condition.
type Result struct {
	Type     Type     `json:"type"`
	Operator Operator `json:"operator"`
	Success  bool     `json:"success"`
	Actual   any      `json:"actual"`
	Expected any      `json:"expected"`
	Message  string   `json:"message,omitempty"`
}

// Logic combines conditions in EvaluateComposite.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// CompositeResult is the outcome of EvaluateComposite.
type CompositeResult struct {
	Logic   Logic    `json:"logic"`
	Success bool     `json:"success"`
	Results []Result `json:"results"` // evaluated conditions only
}
