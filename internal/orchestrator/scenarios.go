package orchestrator

import (
	"fmt"

	"github.com/nerrad567/tailgate-core/internal/action"
)

// Scenario is a named, ready-made action queue.
type Scenario struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Actions      []action.Action `json:"actions" yaml:"actions"`
	Loop         bool            `json:"loop,omitempty" yaml:"loop,omitempty"`
	MaxLoopCount int             `json:"max_loop_count,omitempty" yaml:"max_loop_count,omitempty"`
}

// Options returns the sequence options the scenario is meant to run with.
func (s Scenario) Options() SequenceOptions {
	return SequenceOptions{Name: s.ID, Loop: s.Loop, MaxLoopCount: s.MaxLoopCount}
}

func status(msg string) action.Action {
	return action.Action{Kind: action.KindUpdateStatus, Params: action.Params{"message": msg, "level": "info"}}
}

// BuiltinScenarios returns the scenarios shipped with the service.
func BuiltinScenarios() []Scenario {
	return []Scenario{
		{
			ID:          "full-cycle",
			Name:        "Full Cycle",
			Description: "Open fully, hold, then close",
			Actions: []action.Action{
				status("full cycle starting"),
				{Kind: action.KindOpen, Params: action.Params{"speed": 60.0}, WaitMS: 1000},
				{Kind: action.KindClose, Params: action.Params{"speed": 60.0}},
				status("full cycle complete"),
			},
		},
		{
			ID:          "partial-open",
			Name:        "Partial Open",
			Description: "Step the tailgate to 30 and 60 degrees, then close",
			Actions: []action.Action{
				{Kind: action.KindMoveToAngle, Params: action.Params{"angle": 30.0}, WaitMS: 500},
				{Kind: action.KindMoveToAngle, Params: action.Params{"angle": 60.0}, WaitMS: 500},
				{Kind: action.KindClose},
			},
		},
		{
			ID:          "stress-loop",
			Name:        "Stress Loop",
			Description: "Repeated fast open and close cycles",
			Actions: []action.Action{
				{Kind: action.KindOpen, Params: action.Params{"speed": 100.0}},
				{Kind: action.KindClose, Params: action.Params{"speed": 100.0}},
			},
			Loop:         true,
			MaxLoopCount: 5,
		},
	}
}

// FindScenario returns the built-in scenario with the given ID.
func FindScenario(id string) (Scenario, error) {
	for _, s := range BuiltinScenarios() {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: %s", ErrScenarioNotFound, id)
}
