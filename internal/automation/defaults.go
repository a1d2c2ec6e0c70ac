package automation

import (
	"context"
	"errors"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/monitor"
)

// DefaultSpeedLimit is the vehicle speed (km/h) at or above which the
// seeded configs refuse to move the tailgate.
const DefaultSpeedLimit = 5.0

// SafetyPreconditions are the checks every seeded motion config runs.
func SafetyPreconditions(speedLimit float64) []Precondition {
	if speedLimit <= 0 {
		speedLimit = DefaultSpeedLimit
	}
	return []Precondition{
		{
			Condition: condition.Condition{Type: condition.TypeVehicleSpeed, Operator: condition.OpLess, Value: speedLimit},
			Message:   "vehicle must be stationary",
		},
		{
			Condition: condition.Condition{Type: condition.TypeObstacleDetected, Operator: condition.OpEqual, Value: false},
			Message:   "obstacle in the tailgate path",
		},
		{
			Condition: condition.Condition{Type: condition.TypeSystemReady, Operator: condition.OpEqual, Value: true},
			Message:   "system not ready",
		},
		{
			Condition: condition.Condition{Type: condition.TypeActuatorReady, Operator: condition.OpEqual, Value: true},
			Message:   "actuator not ready",
		},
	}
}

// obstacleGuard stops the actuator whenever an obstacle appears mid-motion.
func obstacleGuard() monitor.Monitor {
	return monitor.Monitor{
		ID:        "obstacle-guard",
		Type:      condition.TypeObstacleDetected,
		Operator:  condition.OpEqual,
		Value:     true,
		OnTrigger: monitor.TriggerEmergencyStop,
		Message:   "obstacle detected during motion",
	}
}

// speedGuard stops the actuator if the vehicle starts moving.
func speedGuard(limit float64) monitor.Monitor {
	return monitor.Monitor{
		ID:        "speed-guard",
		Type:      condition.TypeVehicleSpeed,
		Operator:  condition.OpGreaterEqual,
		Value:     limit,
		OnTrigger: monitor.TriggerEmergencyStop,
		Message:   "vehicle moving during tailgate motion",
	}
}

func stateIs(s string) *condition.Condition {
	return &condition.Condition{Type: condition.TypeTailgateState, Operator: condition.OpEqual, Value: s}
}

func status(msg, level string) action.Action {
	return action.Action{Kind: action.KindUpdateStatus, Params: action.Params{"message": msg, "level": level}}
}

// DefaultConfigs returns the configs seeded into an empty library.
func DefaultConfigs(speedLimit float64) []Config {
	if speedLimit <= 0 {
		speedLimit = DefaultSpeedLimit
	}
	guards := []monitor.Monitor{obstacleGuard(), speedGuard(speedLimit)}

	return []Config{
		{
			ID:            "safe-open",
			Name:          "Safe Open",
			Description:   "Open fully after checking the vehicle is parked and the path is clear",
			Category:      CategoryMotion,
			Tags:          []string{"open", "safety"},
			Preconditions: SafetyPreconditions(speedLimit),
			Steps: []Step{
				{Type: StepAction, Name: "open", Action: action.KindOpen},
				{Type: StepCondition, Name: "verify open", Condition: stateIs("open")},
			},
			Monitors:    guards,
			PostActions: []action.Action{status("Tailgate open", "success")},
		},
		{
			ID:            "safe-close",
			Name:          "Safe Close",
			Description:   "Close fully after checking the vehicle is parked and the path is clear",
			Category:      CategoryMotion,
			Tags:          []string{"close", "safety"},
			Preconditions: SafetyPreconditions(speedLimit),
			Steps: []Step{
				{Type: StepAction, Name: "close", Action: action.KindClose},
				{Type: StepCondition, Name: "verify closed", Condition: stateIs("closed")},
			},
			Monitors:    guards,
			PostActions: []action.Action{status("Tailgate closed", "success")},
		},
		{
			ID:            "demo-cycle",
			Name:          "Demo Cycle",
			Description:   "Open, hold for two seconds, close",
			Category:      CategoryDemo,
			Tags:          []string{"demo"},
			Preconditions: SafetyPreconditions(speedLimit),
			Steps: []Step{
				{Type: StepAction, Name: "open", Action: action.KindOpen, Params: action.Params{"speed": 80.0}},
				{Type: StepWait, Name: "hold", DurationMS: 2000},
				{Type: StepAction, Name: "close", Action: action.KindClose, Params: action.Params{"speed": 80.0}},
			},
			Monitors:    []monitor.Monitor{obstacleGuard()},
			PostActions: []action.Action{status("Demo cycle finished", "info")},
		},
		{
			ID:          "partial-open",
			Name:        "Partial Open",
			Description: "Open to 45 degrees for low ceilings",
			Category:    CategoryMotion,
			Tags:        []string{"open", "garage"},
			Preconditions: append(SafetyPreconditions(speedLimit), Precondition{
				Condition: condition.Condition{Type: condition.TypeTemperature, Operator: condition.OpGreater, Value: -20.0},
				OnFail:    OnFailWarn,
				Message:   "low temperature slows the actuator",
			}),
			Steps: []Step{
				{Type: StepAction, Name: "move to 45", Action: action.KindMoveToAngle, Params: action.Params{"angle": 45.0}},
			},
			Monitors: guards,
		},
	}
}

// SeedDefaults adds each default config whose ID is not already in the
// library and returns how many were added.
func (l *Library) SeedDefaults(ctx context.Context, speedLimit float64) (int, error) {
	added := 0
	for _, cfg := range DefaultConfigs(speedLimit) {
		err := l.Add(ctx, &cfg)
		if errors.Is(err, ErrConfigExists) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	if added > 0 {
		l.logger.Info("default configs seeded", "count", added)
	}
	return added, nil
}
