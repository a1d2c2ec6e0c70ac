// Package controller binds the tailgate control core to its surroundings.
//
// The core leaves a few loops open on purpose. The executor starts motion but
// never learns that it finished; the vehicle store raises faults but does not
// act on them. The Controller closes those loops:
//
//   - actuator position_reached events complete the opening/closing transition
//   - a fault raised while the tailgate moves triggers an emergency stop
//   - emergency_stop is optionally left again after a configurable delay
//   - motion requests from the API and MQTT pass the safety preconditions
//     before they reach the executor
//
// When an MQTT publisher or an InfluxDB telemetry sink is wired, state
// changes, fault events and execution outcomes are mirrored onto them.
//
// Thread Safety: all methods are safe for concurrent use. Handlers run on
// the goroutine of the component that published the event.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/eventbus"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Evaluator checks a single condition against the current snapshot.
type Evaluator interface {
	Evaluate(c condition.Condition) (condition.Result, error)
}

// Publisher sends JSON payloads to MQTT. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Telemetry receives time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteTransition(t influxdb.Transition)
	WriteExecution(e influxdb.Execution)
	WriteSnapshot(s influxdb.Snapshot)
	WriteActuatorAngle(vehicleID string, angle float64, moving bool)
}

// Deps are the collaborators of a Controller. Machine, Executor, Store and
// Evaluator are required; Publisher, Telemetry and Logger may be nil.
type Deps struct {
	VehicleID string
	Machine   *statemachine.Machine
	Executor  *action.Executor
	Store     *vehicle.Store
	Evaluator Evaluator
	Publisher Publisher
	Telemetry Telemetry
	Logger    Logger

	// SpeedLimit is the vehicle speed (km/h) at or above which motion is refused.
	SpeedLimit float64

	// AutoResetDelay leaves emergency_stop after this long. Zero disables it.
	AutoResetDelay time.Duration
}

// Controller wires driver and fault events to the state machine and gates
// motion requests behind the safety preconditions.
type Controller struct {
	vehicleID string
	topics    mqtt.Topics
	machine   *statemachine.Machine
	executor  *action.Executor
	driver    actuator.Driver
	store     *vehicle.Store
	evaluator Evaluator
	publisher Publisher
	telemetry Telemetry
	logger    Logger
	bus       *eventbus.Bus[Event]

	speedLimit     float64
	autoResetDelay time.Duration

	mu         sync.Mutex
	started    bool
	unsubs     []func()
	resetTimer *time.Timer
}

// New creates a Controller. Call Start to begin handling events.
func New(deps Deps) *Controller {
	c := &Controller{
		vehicleID:      deps.VehicleID,
		topics:         mqtt.Topics{Vehicle: deps.VehicleID},
		machine:        deps.Machine,
		executor:       deps.Executor,
		store:          deps.Store,
		evaluator:      deps.Evaluator,
		publisher:      deps.Publisher,
		telemetry:      deps.Telemetry,
		logger:         deps.Logger,
		bus:            eventbus.New[Event](),
		speedLimit:     deps.SpeedLimit,
		autoResetDelay: deps.AutoResetDelay,
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.speedLimit <= 0 {
		c.speedLimit = automation.DefaultSpeedLimit
	}
	if deps.Executor != nil {
		c.driver = deps.Executor.Driver()
	}
	return c
}

// Subscribe registers an event handler.
func (c *Controller) Subscribe(h func(Event)) func() {
	return c.bus.Subscribe(h)
}

// Start subscribes to the machine, the store, the executor and the driver.
// Calling Start twice is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	unsubs := []func(){
		c.machine.Subscribe(c.onStateEvent),
		c.store.Subscribe(c.onFault),
		c.executor.Subscribe(c.onActionEvent),
	}
	if c.driver != nil {
		unsubs = append(unsubs, c.driver.Subscribe(c.onDriverEvent))
	}

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubs...)
	c.mu.Unlock()

	c.publishState(c.machine.Current(), "", "startup")
	c.logger.Info("controller started",
		"vehicle_id", c.vehicleID,
		"state", c.machine.Current(),
		"speed_limit", c.speedLimit,
		"auto_reset_ms", c.autoResetDelay.Milliseconds(),
	)
}

// Close unsubscribes every handler and cancels a pending auto-reset.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.started = false
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Controller) track(unsub func()) {
	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
}

// ─── Requests ───────────────────────────────────────────────────────────────

// Request runs one action on behalf of source. Motion actions are refused
// with ErrUnsafe unless every safety precondition holds; emergencyStop and
// the other non-motion kinds are never gated. The returned Result is never
// nil.
func (c *Controller) Request(ctx context.Context, kind action.Kind, params action.Params, source string) (*action.Result, error) {
	if kind.IsMotion() {
		if err := c.CheckSafety(); err != nil {
			state := c.machine.Current()
			c.logger.Warn("motion request rejected", "action", kind, "source", source, "error", err)
			c.bus.Publish(Event{
				Type:      EventRequestRejected,
				Kind:      kind,
				Source:    source,
				Message:   err.Error(),
				State:     state,
				Timestamp: time.Now(),
				Err:       err,
			})
			c.publishEvent(string(EventRequestRejected), map[string]any{
				"action": kind,
				"source": source,
				"error":  err.Error(),
			})
			return &action.Result{
				Kind:      kind,
				Params:    params,
				Message:   err.Error(),
				State:     state,
				StartedAt: time.Now(),
			}, err
		}
	}
	return c.executor.Execute(ctx, kind, params, action.Meta{Source: source})
}

// CheckSafety evaluates the motion safety preconditions in order and
// returns the first failure wrapped in ErrUnsafe.
func (c *Controller) CheckSafety() error {
	for _, p := range automation.SafetyPreconditions(c.speedLimit) {
		res, err := c.evaluator.Evaluate(p.Condition)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnsafe, p.Message, err)
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrUnsafe, p.Message)
		}
	}
	return nil
}

// EmergencyStop halts the tailgate. It is never gated.
func (c *Controller) EmergencyStop(ctx context.Context, reason string) error {
	return c.executor.EmergencyStop(ctx, reason)
}

// ResetEmergencyStop leaves emergency_stop for idle. It fails while any
// fault is active.
func (c *Controller) ResetEmergencyStop(reason string) error {
	if !c.machine.Is(statemachine.StateEmergencyStop) {
		return fmt.Errorf("%w: state is %s", ErrNotStopped, c.machine.Current())
	}
	if faults := c.store.Faults(); len(faults) > 0 {
		return fmt.Errorf("%w: %d active", ErrFaultsActive, len(faults))
	}
	if reason == "" {
		reason = "emergency stop reset"
	}
	if !c.machine.ResetEmergencyStop(reason) {
		return fmt.Errorf("%w: reset rejected", statemachine.ErrIllegalTransition)
	}
	return nil
}

// ─── Event handlers ─────────────────────────────────────────────────────────

func (c *Controller) onDriverEvent(ev actuator.Event) {
	switch ev.Type {
	case actuator.EventPositionReached:
		c.completeMotion(ev)
	case actuator.EventEmergencyStop:
		if !c.machine.Is(statemachine.StateEmergencyStop) {
			c.machine.EmergencyStop("actuator emergency stop")
		}
	case actuator.EventAngleChanged:
		if c.telemetry != nil {
			c.telemetry.WriteActuatorAngle(c.vehicleID, ev.Angle, true)
		}
	}
}

// completeMotion ends the current motion. Reaching an end stop completes
// opening or closing; stopping short of one leaves the machine idle.
func (c *Controller) completeMotion(ev actuator.Event) {
	// A newer motion already started; this arrival belongs to the old one.
	if c.driver.Status().IsAnimating {
		return
	}
	if c.telemetry != nil {
		c.telemetry.WriteActuatorAngle(c.vehicleID, ev.Angle, false)
	}

	switch c.machine.Current() {
	case statemachine.StateOpening:
		if ev.IsOpen {
			c.machine.CompleteOpening()
			return
		}
	case statemachine.StateClosing:
		if ev.IsClosed {
			c.machine.CompleteClosing()
			return
		}
	default:
		return
	}
	c.machine.Transition(statemachine.StateIdle, fmt.Sprintf("stopped at %.1f°", ev.Angle))
}

func (c *Controller) onFault(ev vehicle.FaultEvent) {
	c.publishEvent(string(ev.Type), ev)

	if !ev.Raised() {
		// The last cleared fault re-arms a reset that was skipped earlier.
		if c.machine.Is(statemachine.StateEmergencyStop) && len(c.store.Faults()) == 0 {
			c.armAutoReset()
		}
		return
	}
	if !c.machine.IsMoving() {
		return
	}

	reason := "fault: " + string(ev.Type)
	if ev.Message != "" {
		reason += " (" + ev.Message + ")"
	}
	if err := c.executor.EmergencyStop(context.Background(), reason); err != nil {
		c.logger.Error("fault emergency stop failed", "fault", ev.Fault, "error", err)
	}
	c.logger.Warn("fault stopped the tailgate", "fault", ev.Fault, "message", ev.Message)
	c.bus.Publish(Event{
		Type:      EventFaultStop,
		Kind:      action.KindEmergencyStop,
		Source:    "fault",
		Message:   reason,
		State:     c.machine.Current(),
		Timestamp: time.Now(),
	})
}

func (c *Controller) onStateEvent(ev statemachine.Event) {
	if ev.Type != statemachine.EventStateChanged {
		return
	}
	c.publishState(ev.To, ev.From, ev.Reason)
	if c.telemetry != nil {
		c.telemetry.WriteTransition(influxdb.Transition{
			VehicleID: c.vehicleID,
			From:      string(ev.From),
			To:        string(ev.To),
			Reason:    ev.Reason,
			Duration:  ev.Duration,
			Time:      ev.Timestamp,
		})
	}

	switch {
	case ev.To == statemachine.StateEmergencyStop:
		c.publishEvent("emergency_stop", map[string]any{"from": ev.From, "reason": ev.Reason})
		c.armAutoReset()
	case ev.From == statemachine.StateEmergencyStop:
		c.cancelAutoReset()
	}
}

func (c *Controller) onActionEvent(ev action.Event) {
	switch ev.Type {
	case action.EventExecutionCompleted, action.EventExecutionError, action.EventStatusUpdated:
		c.publishEvent(string(ev.Type), ev)
	}
}

// ─── Auto-reset ─────────────────────────────────────────────────────────────

func (c *Controller) armAutoReset() {
	if c.autoResetDelay <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	c.resetTimer = time.AfterFunc(c.autoResetDelay, c.autoReset)
	c.logger.Debug("emergency auto-reset armed", "delay_ms", c.autoResetDelay.Milliseconds())
}

func (c *Controller) cancelAutoReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

// autoReset runs on the timer goroutine. A manual reset or a new stop may
// have happened since the timer was armed.
func (c *Controller) autoReset() {
	if !c.machine.Is(statemachine.StateEmergencyStop) {
		return
	}
	if faults := c.store.Faults(); len(faults) > 0 {
		c.logger.Warn("emergency auto-reset skipped: faults active", "faults", len(faults))
		c.bus.Publish(Event{
			Type:      EventAutoResetSkipped,
			Message:   fmt.Sprintf("%d faults active", len(faults)),
			State:     statemachine.StateEmergencyStop,
			Timestamp: time.Now(),
		})
		return
	}
	if !c.machine.ResetEmergencyStop("auto-reset") {
		return
	}
	c.logger.Info("emergency stop auto-reset")
	c.bus.Publish(Event{
		Type:      EventAutoReset,
		Message:   "auto-reset",
		State:     c.machine.Current(),
		Timestamp: time.Now(),
	})
}
