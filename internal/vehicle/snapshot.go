// Package vehicle holds the vehicle-side inputs to the control loop: sensor
// readings, active faults and the point-in-time Snapshot built from them.
package vehicle

import (
	"time"

	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// Snapshot is a point-in-time view of everything the control loop reads.
type Snapshot struct {
	VehicleSpeed       float64            `json:"vehicle_speed"`
	ObstacleDetected   bool               `json:"obstacle_detected"`
	DistanceToObstacle float64            `json:"distance_to_obstacle"`
	TailgateAngle      float64            `json:"tailgate_angle"`
	TailgateState      statemachine.State `json:"tailgate_state"`
	SystemReady        bool               `json:"system_ready"`
	Temperature        float64            `json:"temperature"`
	BatteryVoltage     float64            `json:"battery_voltage"`
	ActuatorReady      bool               `json:"actuator_ready"`
	IsAnimating        bool               `json:"is_animating"`
	ActiveFaults       []FaultKind        `json:"active_faults"`
	Timestamp          time.Time          `json:"timestamp"`
}

// HasFault reports whether kind is among the active faults.
func (s Snapshot) HasFault(kind FaultKind) bool {
	for _, f := range s.ActiveFaults {
		if f == kind {
			return true
		}
	}
	return false
}

// Provider supplies snapshots to the condition evaluator and monitors.
type Provider interface {
	Snapshot() Snapshot
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() Snapshot

// Snapshot calls f.
func (f ProviderFunc) Snapshot() Snapshot {
	return f()
}

// Static returns a Provider that always yields s.
func Static(s Snapshot) Provider {
	return ProviderFunc(func() Snapshot { return s })
}
