// Package action validates and dispatches tailgate actions.
//
// The set of action kinds is closed. Parameters arrive as loosely typed maps
// (JSON objects from configs, scenarios and the API) and are checked against
// a per-kind schema before anything is dispatched. The Executor performs no
// motion itself: it drives the state machine and delegates physical movement
// to an actuator.Driver.
package action

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind is an action kind.
type Kind string

const (
	KindOpen          Kind = "open"
	KindClose         Kind = "close"
	KindMoveToAngle   Kind = "moveToAngle"
	KindMoveByAngle   Kind = "moveByAngle"
	KindEmergencyStop Kind = "emergencyStop"
	KindWait          Kind = "wait"
	KindUpdateStatus  Kind = "updateStatus"
	KindSetSpeed      Kind = "setSpeed"
	KindPause         Kind = "pause"
	KindResume        Kind = "resume"
)

// AllKinds returns every known action kind.
func AllKinds() []Kind {
	return []Kind{
		KindOpen, KindClose, KindMoveToAngle, KindMoveByAngle, KindEmergencyStop,
		KindWait, KindUpdateStatus, KindSetSpeed, KindPause, KindResume,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := schemas[k]
	return ok
}

// IsMotion reports whether k starts actuator motion.
func (k Kind) IsMotion() bool {
	switch k {
	case KindOpen, KindClose, KindMoveToAngle, KindMoveByAngle, KindResume:
		return true
	}
	return false
}

// needsDriver reports whether k cannot run without an actuator driver.
func (k Kind) needsDriver() bool {
	return k.IsMotion() || k == KindPause
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return k, nil
}

// UnmarshalJSON rejects unknown kinds at load time.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalYAML is UnmarshalJSON for YAML config files.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Params are the loosely typed action parameters.
type Params map[string]any

// Action is one queued action. It is treated as immutable once enqueued.
type Action struct {
	Kind   Kind   `json:"action" yaml:"action"`
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`

	// WaitMS is an optional pause after the action completes.
	WaitMS int `json:"wait_ms,omitempty" yaml:"wait_ms,omitempty"`
}

// Validate checks the kind and params.
func (a Action) Validate() error {
	if err := ValidateParams(a.Kind, a.Params); err != nil {
		return err
	}
	if a.WaitMS < 0 {
		return fmt.Errorf("%w: negative wait_ms", ErrInvalidParams)
	}
	return nil
}

// Clone returns a copy with its own params map.
func (a Action) Clone() Action {
	out := a
	if a.Params != nil {
		out.Params = make(Params, len(a.Params))
		for k, v := range a.Params {
			out.Params[k] = v
		}
	}
	return out
}
