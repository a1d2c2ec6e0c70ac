package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// Source labels for requests arriving over MQTT.
const (
	SourceMQTT = "mqtt"

	// CommandResetEmergencyStop is accepted on the command topic alongside
	// the action kinds.
	CommandResetEmergencyStop = "resetEmergencyStop"

	commandTimeout = 60 * time.Second
)

// Command is the payload on tailgate/{vehicle}/command.
//
//	{"action": "moveToAngle", "params": {"angle": 45}}
type Command struct {
	Action string        `json:"action"`
	Params action.Params `json:"params,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// StateMessage is the retained payload on tailgate/{vehicle}/state.
type StateMessage struct {
	VehicleID string             `json:"vehicle_id"`
	State     statemachine.State `json:"state"`
	Previous  statemachine.State `json:"previous,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Angle     float64            `json:"angle"`
	Timestamp time.Time          `json:"timestamp"`
}

// Subscriber registers MQTT handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeMQTT registers the command and sensor handlers.
func (c *Controller) SubscribeMQTT(sub Subscriber, qos byte) error {
	if err := sub.Subscribe(c.topics.Command(), qos, c.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	if err := sub.Subscribe(c.topics.AllSensors(), qos, c.HandleSensor); err != nil {
		return fmt.Errorf("subscribing to sensors: %w", err)
	}
	return nil
}

// HandleCommand runs a command received on the command topic. Motion
// commands go through the same safety gate as API requests.
func (c *Controller) HandleCommand(_ string, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.Action == CommandResetEmergencyStop {
		return c.ResetEmergencyStop(cmd.Reason)
	}

	kind, err := action.ParseKind(cmd.Action)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	params := cmd.Params
	if params == nil {
		params = action.Params{}
	}
	if kind == action.KindEmergencyStop && cmd.Reason != "" {
		if _, ok := params["reason"]; !ok {
			params["reason"] = cmd.Reason
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	_, err = c.Request(ctx, kind, params, SourceMQTT)
	return err
}

// HandleSensor applies a reading received on tailgate/{vehicle}/sensor/{name}.
// The payload is the bare value, e.g. "12.5" or "true".
func (c *Controller) HandleSensor(topic string, payload []byte) error {
	name, ok := c.topics.SensorName(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidSensor, topic)
	}
	if err := c.store.UpdateSensor(name, string(payload)); err != nil {
		return err
	}
	c.logger.Debug("sensor updated", "sensor", name, "value", string(payload))
	return nil
}

func (c *Controller) publishState(state, previous statemachine.State, reason string) {
	if c.publisher == nil {
		return
	}
	msg := StateMessage{
		VehicleID: c.vehicleID,
		State:     state,
		Previous:  previous,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if c.driver != nil {
		msg.Angle = c.driver.Status().Angle
	}
	if err := c.publisher.PublishJSON(c.topics.State(), msg, true); err != nil {
		c.logger.Warn("state publish failed", "error", err)
	}
}

func (c *Controller) publishEvent(kind string, payload any) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishJSON(c.topics.Event(kind), payload, false); err != nil {
		c.logger.Warn("event publish failed", "event", kind, "error", err)
	}
}

// ─── Execution telemetry ────────────────────────────────────────────────────

// ExecutionSource is the part of automation.Engine the controller observes.
type ExecutionSource interface {
	Subscribe(h func(automation.Event)) func()
	Execution(ctx context.Context, id string) (*automation.Execution, error)
}

// ObserveEngine mirrors finished config executions onto MQTT and InfluxDB.
// The subscription ends with Close.
func (c *Controller) ObserveEngine(engine ExecutionSource) {
	c.track(engine.Subscribe(func(ev automation.Event) {
		if ev.Type != automation.EventExecutionCompleted && ev.Type != automation.EventExecutionError {
			return
		}
		exec, err := engine.Execution(context.Background(), ev.ExecutionID)
		if err != nil {
			c.logger.Warn("execution lookup failed", "execution_id", ev.ExecutionID, "error", err)
			return
		}
		c.publishEvent("execution", exec)
		if c.telemetry == nil {
			return
		}
		var d time.Duration
		if exec.DurationMS != nil {
			d = time.Duration(*exec.DurationMS) * time.Millisecond
		}
		c.telemetry.WriteExecution(influxdb.Execution{
			VehicleID:      c.vehicleID,
			ConfigID:       exec.ConfigID,
			TriggerType:    exec.TriggerType,
			Status:         string(exec.Status),
			StepsCompleted: exec.StepsCompleted,
			StepsFailed:    exec.StepsFailed,
			StepsSkipped:   exec.StepsSkipped,
			Duration:       d,
		})
	}))
}

// RunTelemetry publishes a vehicle snapshot every interval until ctx ends.
// The MQTT snapshot is retained so late subscribers see current readings.
func (c *Controller) RunTelemetry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleSnapshot()
		}
	}
}

func (c *Controller) sampleSnapshot() {
	snap := c.store.Snapshot()
	if c.publisher != nil {
		if err := c.publisher.PublishJSON(c.topics.Snapshot(), snap, true); err != nil {
			c.logger.Debug("snapshot publish failed", "error", err)
		}
	}
	if c.telemetry != nil {
		c.telemetry.WriteSnapshot(influxdb.Snapshot{
			VehicleID:      c.vehicleID,
			VehicleSpeed:   snap.VehicleSpeed,
			Temperature:    snap.Temperature,
			BatteryVoltage: snap.BatteryVoltage,
			Obstacle:       snap.ObstacleDetected,
			SystemReady:    snap.SystemReady,
			ActiveFaults:   len(snap.ActiveFaults),
			Time:           snap.Timestamp,
		})
	}
}
