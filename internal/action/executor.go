package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/eventbus"
	"github.com/nerrad567/tailgate-core/internal/poll"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// Executor defaults.
const (
	DefaultSpeed         = 50.0
	DefaultMotionTimeout = 30 * time.Second
)

// Logger defines the logging interface used by the Executor.
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

// Meta describes who asked for an action.
type Meta struct {
	ExecutionID string // generated when empty
	Source      string // e.g. "api", "config:safe-open", "sequence"
	Reason      string
}

// Result is the outcome of one Execute call.
type Result struct {
	ExecutionID string             `json:"execution_id"`
	Kind        Kind               `json:"action"`
	Params      Params             `json:"params,omitempty"`
	Success     bool               `json:"success"`
	Message     string             `json:"message,omitempty"`
	State       statemachine.State `json:"state"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration_ns"`
}

// Executor validates actions and dispatches them to the state machine and
// actuator driver.
//
// Thread Safety: safe for concurrent use. Motion actions serialise through
// the state machine, which rejects conflicting transitions.
type Executor struct {
	machine *statemachine.Machine
	driver  actuator.Driver

	mu          sync.Mutex
	speed       float64
	pausedAt    float64
	pausedValid bool

	interval      time.Duration
	motionTimeout time.Duration

	bus    *eventbus.Bus[Event]
	logger Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultSpeed sets the speed used when an action gives none.
func WithDefaultSpeed(s float64) Option {
	return func(e *Executor) {
		if s > 0 {
			e.speed = s
		}
	}
}

// WithPollInterval sets the interval for waits and motion polling.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.interval = d }
}

// WithMotionTimeout sets the AwaitMotion fallback timeout.
func WithMotionTimeout(d time.Duration) Option {
	return func(e *Executor) { e.motionTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an Executor. driver may be nil, in which case motion
// actions fail with ErrActuatorUnavailable.
func NewExecutor(machine *statemachine.Machine, driver actuator.Driver, opts ...Option) *Executor {
	e := &Executor{
		machine:       machine,
		driver:        driver,
		speed:         DefaultSpeed,
		interval:      poll.DefaultInterval,
		motionTimeout: DefaultMotionTimeout,
		bus:           eventbus.New[Event](),
		logger:        noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers an event handler.
func (e *Executor) Subscribe(h func(Event)) func() {
	return e.bus.Subscribe(h)
}

// Speed returns the current default speed.
func (e *Executor) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// Driver returns the wired actuator driver, or nil.
func (e *Executor) Driver() actuator.Driver {
	return e.driver
}

// Execute validates and dispatches one action, publishing
// execution_started and then execution_completed or execution_error.
// Validation failures publish only execution_error. The returned Result is
// never nil.
func (e *Executor) Execute(ctx context.Context, kind Kind, params Params, meta Meta) (*Result, error) {
	if meta.ExecutionID == "" {
		meta.ExecutionID = uuid.NewString()
	}
	res := &Result{
		ExecutionID: meta.ExecutionID,
		Kind:        kind,
		Params:      params,
		StartedAt:   time.Now(),
	}

	if err := ValidateParams(kind, params); err != nil {
		return e.fail(res, meta, err)
	}
	if kind.needsDriver() && e.driver == nil {
		return e.fail(res, meta, fmt.Errorf("%w: %s", ErrActuatorUnavailable, kind))
	}

	e.bus.Publish(Event{
		Type:        EventExecutionStarted,
		ExecutionID: meta.ExecutionID,
		Kind:        kind,
		Params:      params,
		Source:      meta.Source,
		Timestamp:   res.StartedAt,
	})
	e.logger.Debug("action started", "execution_id", meta.ExecutionID, "action", kind, "source", meta.Source)

	msg, err := e.dispatch(ctx, kind, params, meta)
	if err != nil {
		return e.fail(res, meta, err)
	}

	res.Success = true
	res.Message = msg
	res.State = e.machine.Current()
	res.Duration = time.Since(res.StartedAt)

	e.bus.Publish(Event{
		Type:        EventExecutionCompleted,
		ExecutionID: meta.ExecutionID,
		Kind:        kind,
		Source:      meta.Source,
		Message:     msg,
		Duration:    res.Duration,
		Timestamp:   time.Now(),
	})
	e.logger.Info("action completed",
		"execution_id", meta.ExecutionID,
		"action", kind,
		"state", res.State,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Executor) fail(res *Result, meta Meta, err error) (*Result, error) {
	res.Message = err.Error()
	res.State = e.machine.Current()
	res.Duration = time.Since(res.StartedAt)

	e.bus.Publish(Event{
		Type:        EventExecutionError,
		ExecutionID: res.ExecutionID,
		Kind:        res.Kind,
		Source:      meta.Source,
		Message:     err.Error(),
		Err:         err,
		Duration:    res.Duration,
		Timestamp:   time.Now(),
	})
	e.logger.Warn("action failed",
		"execution_id", res.ExecutionID,
		"action", res.Kind,
		"source", meta.Source,
		"error", err,
	)
	return res, err
}

// Run executes a queued Action and honours its post-action wait.
func (e *Executor) Run(ctx context.Context, a Action, meta Meta) (*Result, error) {
	res, err := e.Execute(ctx, a.Kind, a.Params, meta)
	if err != nil {
		return res, err
	}
	if a.WaitMS > 0 {
		if err := poll.Sleep(ctx, time.Duration(a.WaitMS)*time.Millisecond, poll.Options{Interval: e.interval}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// EmergencyStop runs the emergencyStop action.
func (e *Executor) EmergencyStop(ctx context.Context, reason string) error {
	params := Params{}
	if reason != "" {
		params["reason"] = reason
	}
	_, err := e.Execute(ctx, KindEmergencyStop, params, Meta{Source: "emergency", Reason: reason})
	return err
}

// AwaitMotion polls the driver until it stops animating. timeout <= 0 uses
// the executor's motion timeout. Without a driver there is nothing to await.
func (e *Executor) AwaitMotion(ctx context.Context, timeout time.Duration) error {
	if e.driver == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = e.motionTimeout
	}

	err := poll.Until(ctx, poll.Options{Interval: e.interval, Timeout: timeout}, func() (bool, error) {
		return !e.driver.Status().IsAnimating, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w: still moving after %v", ErrActuatorTimeout, timeout)
	}
	return err
}

// ─── Dispatch ───────────────────────────────────────────────────────────────

func (e *Executor) dispatch(ctx context.Context, kind Kind, p Params, meta Meta) (string, error) {
	switch kind {
	case KindOpen:
		return e.startMotion(statemachine.StateOpening, actuator.MaxAngle, p.Float("speed", e.Speed()), meta)
	case KindClose:
		return e.startMotion(statemachine.StateClosing, 0, p.Float("speed", e.Speed()), meta)
	case KindMoveToAngle:
		return e.moveTo(p.Float("angle", 0), p.Float("speed", e.Speed()), meta)
	case KindMoveByAngle:
		target := e.driver.Status().Angle + p.Float("delta", 0)
		target = min(actuator.MaxAngle, max(0, target))
		return e.moveTo(target, p.Float("speed", e.Speed()), meta)
	case KindEmergencyStop:
		return e.emergencyStop(p.String("reason", meta.Reason))
	case KindWait:
		d := time.Duration(p.Float("duration", 0)) * time.Millisecond
		if err := poll.Sleep(ctx, d, poll.Options{Interval: e.interval}); err != nil {
			return "", err
		}
		return fmt.Sprintf("waited %v", d), nil
	case KindUpdateStatus:
		msg := p.String("message", "")
		e.bus.Publish(Event{
			Type:        EventStatusUpdated,
			ExecutionID: meta.ExecutionID,
			Kind:        kind,
			Source:      meta.Source,
			Message:     msg,
			Level:       p.String("level", "info"),
			Timestamp:   time.Now(),
		})
		return msg, nil
	case KindSetSpeed:
		s := p.Float("speed", DefaultSpeed)
		e.mu.Lock()
		e.speed = s
		e.mu.Unlock()
		return fmt.Sprintf("speed set to %g%%", s), nil
	case KindPause:
		return e.pause(meta)
	case KindResume:
		return e.resume(p.Float("speed", e.Speed()), meta)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, kind)
}

func reasonOr(meta Meta, def string) string {
	if meta.Reason != "" {
		return meta.Reason
	}
	return def
}

// startMotion transitions into dir and starts the driver toward target.
// A driver refusal puts the machine back to idle.
func (e *Executor) startMotion(dir statemachine.State, target, speed float64, meta Meta) (string, error) {
	if err := e.machine.Apply(dir, reasonOr(meta, string(dir))); err != nil {
		return "", err
	}

	var err error
	switch {
	case dir == statemachine.StateOpening && target == actuator.MaxAngle:
		err = e.driver.StartOpen(speed)
	case dir == statemachine.StateClosing && target == 0:
		err = e.driver.StartClose(speed)
	default:
		err = e.driver.MoveToAngle(target, speed)
	}
	if err != nil {
		e.machine.Transition(statemachine.StateIdle, "actuator refused motion")
		return "", err
	}

	e.clearPaused()
	return fmt.Sprintf("%s to %g° at %g%%", dir, target, speed), nil
}

// moveTo starts motion toward angle. When the actuator is already moving in
// the required direction the driver is simply retargeted.
func (e *Executor) moveTo(angle, speed float64, meta Meta) (string, error) {
	current := e.driver.Status().Angle
	if angle == current {
		return fmt.Sprintf("already at %g°", angle), nil
	}

	dir := statemachine.StateClosing
	if angle > current {
		dir = statemachine.StateOpening
	}

	if e.machine.Current() == dir {
		if err := e.driver.MoveToAngle(angle, speed); err != nil {
			return "", err
		}
		return fmt.Sprintf("retargeted to %g°", angle), nil
	}
	return e.startMotion(dir, angle, speed, meta)
}

func (e *Executor) emergencyStop(reason string) (string, error) {
	if reason == "" {
		reason = "emergency stop requested"
	}
	e.machine.EmergencyStop(reason)
	if e.driver != nil {
		if err := e.driver.EmergencyStop(); err != nil {
			// The state machine is already stopped; report the driver problem only.
			e.logger.Error("actuator emergency stop failed", "error", err)
		}
	}
	e.clearPaused()
	return reason, nil
}

func (e *Executor) pause(meta Meta) (string, error) {
	if err := e.machine.Apply(statemachine.StatePaused, reasonOr(meta, "pause")); err != nil {
		return "", err
	}
	st := e.driver.Status()

	e.mu.Lock()
	e.pausedAt = st.Target
	e.pausedValid = true
	e.mu.Unlock()

	if err := e.driver.MoveToAngle(st.Angle, st.Speed); err != nil {
		return "", err
	}
	return fmt.Sprintf("paused at %.1f°", st.Angle), nil
}

func (e *Executor) resume(speed float64, meta Meta) (string, error) {
	dir, ok := e.machine.Resume(reasonOr(meta, "resume"))
	if !ok {
		return "", fmt.Errorf("%w: %w", ErrNotPaused, statemachine.ErrIllegalTransition)
	}

	e.mu.Lock()
	target, valid := e.pausedAt, e.pausedValid
	e.pausedValid = false
	e.mu.Unlock()

	angle := e.driver.Status().Angle
	if !valid ||
		(dir == statemachine.StateOpening && target <= angle) ||
		(dir == statemachine.StateClosing && target >= angle) {
		target = 0
		if dir == statemachine.StateOpening {
			target = actuator.MaxAngle
		}
	}

	if err := e.driver.MoveToAngle(target, speed); err != nil {
		e.machine.Transition(statemachine.StateIdle, "actuator refused motion")
		return "", err
	}
	return fmt.Sprintf("resumed %s toward %g°", dir, target), nil
}

func (e *Executor) clearPaused() {
	e.mu.Lock()
	e.pausedValid = false
	e.mu.Unlock()
}
