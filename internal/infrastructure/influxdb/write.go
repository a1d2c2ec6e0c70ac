package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTransition = "tailgate_transition"
	MeasurementExecution  = "tailgate_execution"
	MeasurementSnapshot   = "tailgate_snapshot"
	MeasurementActuator   = "tailgate_actuator"
)

// Transition is one accepted state machine transition.
type Transition struct {
	VehicleID string
	From      string
	To        string
	Reason    string
	// Duration is the time spent in From.
	Duration time.Duration
	Time     time.Time
}

// Execution is the outcome of one config execution.
type Execution struct {
	VehicleID      string
	ConfigID       string
	TriggerType    string
	Status         string
	StepsCompleted int
	StepsFailed    int
	StepsSkipped   int
	Duration       time.Duration
	Time           time.Time
}

// Snapshot is a sample of the vehicle sensors.
type Snapshot struct {
	VehicleID      string
	VehicleSpeed   float64
	Temperature    float64
	BatteryVoltage float64
	Obstacle       bool
	SystemReady    bool
	ActiveFaults   int
	Time           time.Time
}

// WriteTransition records a state transition. Non-blocking.
func (c *Client) WriteTransition(t Transition) {
	c.writePoint(TransitionPoint(t))
}

// WriteExecution records a finished config execution. Non-blocking.
func (c *Client) WriteExecution(e Execution) {
	c.writePoint(ExecutionPoint(e))
}

// WriteSnapshot records a sensor sample. Non-blocking.
func (c *Client) WriteSnapshot(s Snapshot) {
	c.writePoint(SnapshotPoint(s))
}

// WriteActuatorAngle records the actuator angle in degrees. Non-blocking.
func (c *Client) WriteActuatorAngle(vehicleID string, angle float64, moving bool) {
	c.writePoint(write.NewPoint(
		MeasurementActuator,
		map[string]string{"vehicle_id": vehicleID},
		map[string]interface{}{"angle": angle, "moving": moving},
		time.Now(),
	))
}

// WritePoint writes a custom point stamped with the current time.
//
//	client.WritePoint("tailgate_orchestrator",
//	    map[string]string{"vehicle_id": "van-1"},
//	    map[string]interface{}{"loop_count": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.writePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		c.skipped.Add(1)
		return
	}
	c.queued.Add(1)
	c.writeAPI.WritePoint(p)
}

// TransitionPoint builds the point for a transition. From and To are tags
// so dashboards can group by state pair.
func TransitionPoint(t Transition) *write.Point {
	return write.NewPoint(
		MeasurementTransition,
		map[string]string{
			"vehicle_id": t.VehicleID,
			"from":       t.From,
			"to":         t.To,
		},
		map[string]interface{}{
			"reason":      t.Reason,
			"duration_ms": t.Duration.Milliseconds(),
		},
		stamp(t.Time),
	)
}

// ExecutionPoint builds the point for a config execution.
func ExecutionPoint(e Execution) *write.Point {
	return write.NewPoint(
		MeasurementExecution,
		map[string]string{
			"vehicle_id":   e.VehicleID,
			"config_id":    e.ConfigID,
			"trigger_type": e.TriggerType,
			"status":       e.Status,
		},
		map[string]interface{}{
			"steps_completed": e.StepsCompleted,
			"steps_failed":    e.StepsFailed,
			"steps_skipped":   e.StepsSkipped,
			"duration_ms":     e.Duration.Milliseconds(),
		},
		stamp(e.Time),
	)
}

// SnapshotPoint builds the point for a sensor sample.
func SnapshotPoint(s Snapshot) *write.Point {
	return write.NewPoint(
		MeasurementSnapshot,
		map[string]string{"vehicle_id": s.VehicleID},
		map[string]interface{}{
			"vehicle_speed":   s.VehicleSpeed,
			"temperature":     s.Temperature,
			"battery_voltage": s.BatteryVoltage,
			"obstacle":        s.Obstacle,
			"system_ready":    s.SystemReady,
			"active_faults":   s.ActiveFaults,
		},
		stamp(s.Time),
	)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
