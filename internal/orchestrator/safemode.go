package orchestrator

import (
	"context"
	"fmt"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/automation"
)

// ConfigRunner executes configs. *automation.Engine satisfies it.
type ConfigRunner interface {
	ExecuteConfig(ctx context.Context, cfg *automation.Config, trig automation.Trigger) (*automation.Execution, error)
}

// SafetyPreconditions returns the preconditions safe mode attaches to kind.
// Motion kinds need a slow vehicle, a clear path, a ready system and a ready
// actuator. Everything else, emergencyStop included, needs none.
func SafetyPreconditions(kind action.Kind, speedLimit float64) []automation.Precondition {
	if !kind.IsMotion() {
		return nil
	}
	return automation.SafetyPreconditions(speedLimit)
}

// SafeConfig wraps a single action in a one-step config guarded by
// SafetyPreconditions.
func SafeConfig(a action.Action, speedLimit float64) *automation.Config {
	return &automation.Config{
		ID:            automation.GenerateSlug("safe " + string(a.Kind)),
		Name:          "Safe " + string(a.Kind),
		Category:      automation.CategorySafety,
		Preconditions: SafetyPreconditions(a.Kind, speedLimit),
		Steps: []automation.Step{{
			Type:   automation.StepAction,
			Action: a.Kind,
			Params: a.Clone().Params,
		}},
	}
}

// runSafe executes a through the engine. The engine awaits motion itself
// and rejects the action when a precondition fails.
func (o *Orchestrator) runSafe(ctx context.Context, name string, a action.Action) error {
	cfg := SafeConfig(a, o.speedLimit)
	exec, err := o.engine.ExecuteConfig(ctx, cfg, automation.Trigger{Type: "safe_mode", Source: "sequence:" + name})
	if err != nil {
		return err
	}
	if exec != nil && exec.Status != automation.StatusCompleted {
		return fmt.Errorf("safe %s finished %s: %s", a.Kind, exec.Status, exec.Error)
	}
	return nil
}
