package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/eventbus"
	"github.com/nerrad567/tailgate-core/internal/monitor"
	"github.com/nerrad567/tailgate-core/internal/poll"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

// Engine defaults.
const (
	DefaultHistorySize   = 100
	DefaultMotionTimeout = 30 * time.Second
)

// ActionRunner is the interface the engine needs from the action executor.
type ActionRunner interface {
	Execute(ctx context.Context, kind action.Kind, params action.Params, meta action.Meta) (*action.Result, error)
	AwaitMotion(ctx context.Context, timeout time.Duration) error
}

// ConditionEvaluator evaluates preconditions, condition steps and waits.
type ConditionEvaluator interface {
	Evaluate(c condition.Condition) (condition.Result, error)
	WaitForCondition(ctx context.Context, c condition.Condition, timeout time.Duration) (condition.Result, error)
}

// MonitorRunner starts and stops a config's monitors.
type MonitorRunner interface {
	Start(ctx context.Context, monitors []monitor.Monitor, hooks monitor.Hooks) error
	Stop()
}

// StateReader exposes the actuator state.
type StateReader interface {
	Current() statemachine.State
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// EngineDeps are the collaborators of an Engine. Library, Executor and
// Evaluator are required; the rest may be nil.
type EngineDeps struct {
	Library   *Library
	Executor  ActionRunner
	Evaluator ConditionEvaluator
	Monitors  MonitorRunner
	State     StateReader
	Repo      Repository // defaults to the library's repository
	Hub       WSHub
	Logger    Logger

	MotionTimeout time.Duration
	PollInterval  time.Duration
	HistorySize   int
}

// Engine runs configs: preconditions, then steps in order with the
// config's monitors active, then post-actions.
//
// Thread Safety: all methods are safe for concurrent use. Only one
// execution runs at a time; a second ExecuteConfig fails with
// ErrExecutionAlreadyRunning.
type Engine struct {
	library   *Library
	executor  ActionRunner
	evaluator ConditionEvaluator
	monitors  MonitorRunner
	state     StateReader
	repo      Repository
	hub       WSHub
	logger    Logger
	bus       *eventbus.Bus[Event]

	motionTimeout time.Duration
	pollInterval  time.Duration
	historySize   int

	mu      sync.Mutex
	current *run
	history []*Execution // oldest first, bounded by historySize
}

// run is the state of the in-flight execution.
type run struct {
	cancel context.CancelFunc

	paused  atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	exec     *Execution
	abortMsg string
}

func (r *run) update(fn func(*Execution)) {
	r.mu.Lock()
	fn(r.exec)
	r.mu.Unlock()
}

func (r *run) snapshot() *Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.clone()
}

func (r *run) abort(msg string) {
	r.mu.Lock()
	if r.abortMsg == "" {
		r.abortMsg = msg
	}
	r.mu.Unlock()
}

// interruption reports why the run was cut short, if it was.
func (r *run) interruption() error {
	r.mu.Lock()
	msg := r.abortMsg
	r.mu.Unlock()
	if msg != "" {
		return fmt.Errorf("%w: %s", ErrExecutionAborted, msg)
	}
	if r.stopped.Load() {
		return ErrExecutionStopped
	}
	return nil
}

// NewEngine creates a new config engine.
func NewEngine(deps EngineDeps) *Engine {
	e := &Engine{
		library:       deps.Library,
		executor:      deps.Executor,
		evaluator:     deps.Evaluator,
		monitors:      deps.Monitors,
		state:         deps.State,
		repo:          deps.Repo,
		hub:           deps.Hub,
		logger:        deps.Logger,
		bus:           eventbus.New[Event](),
		motionTimeout: deps.MotionTimeout,
		pollInterval:  deps.PollInterval,
		historySize:   deps.HistorySize,
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.repo == nil && e.library != nil {
		e.repo = e.library.Repository()
	}
	if e.motionTimeout <= 0 {
		e.motionTimeout = DefaultMotionTimeout
	}
	if e.pollInterval <= 0 {
		e.pollInterval = poll.DefaultInterval
	}
	if e.historySize <= 0 {
		e.historySize = DefaultHistorySize
	}
	return e
}

// Subscribe registers an event handler.
func (e *Engine) Subscribe(h func(Event)) func() {
	return e.bus.Subscribe(h)
}

// Execute runs the library config with the given ID.
func (e *Engine) Execute(ctx context.Context, configID string, trig Trigger) (*Execution, error) {
	if e.library == nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configID)
	}
	cfg, err := e.library.Get(ctx, configID)
	if err != nil {
		e.publish(Event{Type: EventExecutionError, ConfigID: configID, Message: err.Error(), Err: err})
		return nil, err
	}
	return e.ExecuteConfig(ctx, cfg, trig)
}

// ExecuteConfig runs cfg to completion and returns its execution record.
// Unlike Library.Add, it does not derive a missing ID: cfg must carry one.
//
// The record is nil only when cfg is invalid or another execution is
// running; in every other case it is returned alongside any error.
func (e *Engine) ExecuteConfig(ctx context.Context, cfg *Config, trig Trigger) (*Execution, error) { //nolint:gocognit // config execution: preconditions, monitors, steps, post-actions, record
	if err := validateRunnable(cfg); err != nil {
		ev := Event{Type: EventExecutionError, Message: err.Error(), Err: err}
		if cfg != nil {
			ev.ConfigID, ev.ConfigName = cfg.ID, cfg.Name
		}
		e.publish(ev)
		return nil, err
	}
	cfg = cfg.DeepCopy()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now().UTC()
	exec := &Execution{
		ID:          GenerateID(),
		ConfigID:    cfg.ID,
		ConfigName:  cfg.Name,
		TriggeredAt: now,
		StartedAt:   &now,
		TriggerType: trig.Type,
		Status:      StatusRunning,
		StepsTotal:  len(cfg.Steps),
	}
	if exec.TriggerType == "" {
		exec.TriggerType = "manual"
	}
	if trig.Source != "" {
		source := trig.Source
		exec.TriggerSource = &source
	}
	r := &run{cancel: cancel, exec: exec}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		e.publish(Event{
			Type:       EventExecutionError,
			ConfigID:   cfg.ID,
			ConfigName: cfg.Name,
			Message:    ErrExecutionAlreadyRunning.Error(),
			Err:        ErrExecutionAlreadyRunning,
		})
		return nil, ErrExecutionAlreadyRunning
	}
	e.current = r
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	if e.repo != nil {
		if createErr := e.repo.CreateExecution(ctx, exec.clone()); createErr != nil {
			e.logger.Error("failed to create execution record", "error", createErr)
		}
	}

	e.logger.Info("config execution started",
		"config_id", cfg.ID,
		"config_name", cfg.Name,
		"execution_id", exec.ID,
		"steps", len(cfg.Steps),
	)
	e.publish(e.event(r, EventExecutionStarted, 0, ""))

	// Preconditions
	if err := e.checkPreconditions(r, cfg); err != nil {
		r.update(func(x *Execution) {
			x.Status = StatusRejected
			x.StepsSkipped = len(cfg.Steps)
		})
		return e.finish(ctx, r, err)
	}

	// Monitors
	stopMonitors := func() {}
	if len(cfg.Monitors) > 0 && e.monitors != nil {
		hooks := monitor.Hooks{
			Pause: func(m monitor.Monitor) {
				if !r.paused.Swap(true) {
					e.publish(e.event(r, EventExecutionPaused, 0, "paused by monitor "+m.ID))
				}
			},
			Abort: func(m monitor.Monitor) {
				msg := m.Message
				if msg == "" {
					msg = "monitor " + m.ID
				}
				r.abort(msg)
				cancel()
			},
		}
		if err := e.monitors.Start(runCtx, cfg.Monitors, hooks); err != nil {
			r.update(func(x *Execution) {
				x.Status = StatusFailed
				x.StepsSkipped = len(cfg.Steps)
			})
			return e.finish(ctx, r, fmt.Errorf("starting monitors: %w", err))
		}
		stopMonitors = sync.OnceFunc(e.monitors.Stop)
		defer stopMonitors()
	}

	// Steps
	runErr := e.runSteps(runCtx, r, cfg)
	stopMonitors()

	switch {
	case runErr == nil:
		r.update(func(x *Execution) {
			if x.StepsFailed > 0 {
				x.Status = StatusPartial
			} else {
				x.Status = StatusCompleted
			}
		})
		e.runPostActions(runCtx, r, cfg)
	case errors.Is(runErr, ErrExecutionStopped):
		r.update(func(x *Execution) { x.Status = StatusStopped })
	default:
		r.update(func(x *Execution) { x.Status = StatusFailed })
	}

	return e.finish(ctx, r, runErr)
}

func (e *Engine) checkPreconditions(r *run, cfg *Config) error {
	for i, p := range cfg.Preconditions {
		res, err := e.evaluator.Evaluate(p.Condition)
		if err == nil && res.Success {
			e.publish(e.event(r, EventPreconditionPassed, i, p.Condition.String()))
			continue
		}

		msg := p.Message
		if msg == "" {
			msg = p.Condition.String()
		}
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		} else {
			msg = fmt.Sprintf("%s (actual %v)", msg, res.Actual)
		}

		ev := e.event(r, EventPreconditionFailed, i, msg)
		ev.Err = err
		e.publish(ev)

		if p.Aborts() {
			e.logger.Warn("precondition failed, execution rejected",
				"config_id", cfg.ID,
				"precondition", p.Condition.String(),
				"message", msg,
			)
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, msg)
		}
		e.logger.Warn("precondition failed, continuing",
			"config_id", cfg.ID,
			"precondition", p.Condition.String(),
			"message", msg,
		)
	}
	return nil
}

// runSteps runs cfg.Steps in order. A step failure without
// ContinueOnError, or any interruption, ends the run.
func (e *Engine) runSteps(ctx context.Context, r *run, cfg *Config) error {
	for i, step := range cfg.Steps {
		if err := e.checkpoint(ctx, r); err != nil {
			r.update(func(x *Execution) { x.StepsSkipped += len(cfg.Steps) - i })
			return err
		}

		ev := e.event(r, EventStepStarted, i, step.Name)
		ev.StepType = step.Type
		e.publish(ev)

		err := e.runStep(ctx, r, cfg, step)
		if err == nil {
			r.update(func(x *Execution) { x.StepsCompleted++ })
			ev := e.event(r, EventStepCompleted, i, step.Name)
			ev.StepType = step.Type
			e.publish(ev)
			continue
		}

		interrupted := r.interruption()
		if interrupted != nil {
			err = interrupted
		}

		r.update(func(x *Execution) {
			x.StepsFailed++
			x.Failures = append(x.Failures, StepFailure{
				StepIndex: i,
				StepType:  step.Type,
				Action:    step.Action,
				ErrorCode: errorCode(err),
				ErrorMsg:  err.Error(),
			})
		})
		ev = e.event(r, EventStepFailed, i, err.Error())
		ev.StepType = step.Type
		ev.Err = err
		e.publish(ev)

		e.logger.Warn("config step failed",
			"config_id", cfg.ID,
			"step", i,
			"type", step.Type,
			"error", err,
		)

		terminal := interrupted != nil || errors.Is(err, ErrEmergencyStopped) || ctx.Err() != nil
		if step.ContinueOnError && !terminal {
			continue
		}
		r.update(func(x *Execution) { x.StepsSkipped += len(cfg.Steps) - i - 1 })
		return &StepError{Index: i, Step: step, Err: err}
	}
	return nil
}

// checkpoint blocks while the run is paused and reports interruptions.
func (e *Engine) checkpoint(ctx context.Context, r *run) error {
	if err := r.interruption(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.paused.Load() {
		return nil
	}

	err := poll.Until(ctx, poll.Options{Interval: e.pollInterval}, func() (bool, error) {
		return !r.paused.Load(), nil
	})
	if err != nil {
		if ierr := r.interruption(); ierr != nil {
			return ierr
		}
		return err
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, r *run, cfg *Config, step Step) error {
	timeout := time.Duration(step.TimeoutMS) * time.Millisecond

	switch step.Type {
	case StepAction:
		meta := action.Meta{
			ExecutionID: r.exec.ID,
			Source:      "config:" + cfg.ID,
			Reason:      step.Name,
		}
		if _, err := e.executor.Execute(ctx, step.Action, step.Params, meta); err != nil {
			return err
		}
		if step.Action == action.KindEmergencyStop {
			return nil
		}
		if timeout <= 0 {
			timeout = e.motionTimeout
		}
		if err := e.executor.AwaitMotion(ctx, timeout); err != nil {
			return err
		}
		if e.state != nil && e.state.Current() == statemachine.StateEmergencyStop {
			return ErrEmergencyStopped
		}
		return nil

	case StepWait:
		if step.Condition != nil {
			_, err := e.evaluator.WaitForCondition(ctx, *step.Condition, timeout)
			return err
		}
		return poll.Sleep(ctx, time.Duration(step.DurationMS)*time.Millisecond, poll.Options{Interval: e.pollInterval})

	case StepCondition:
		res, err := e.evaluator.Evaluate(*step.Condition)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%w: %s (actual %v)", ErrConditionNotMet, step.Condition, res.Actual)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, step.Type)
}

// runPostActions runs each post-action once. Failures are reported and
// never change the execution's outcome.
func (e *Engine) runPostActions(ctx context.Context, r *run, cfg *Config) {
	for i, pa := range cfg.PostActions {
		meta := action.Meta{
			ExecutionID: r.exec.ID,
			Source:      "config:" + cfg.ID,
			Reason:      "post action",
		}
		_, err := e.executor.Execute(ctx, pa.Kind, pa.Params, meta)
		if err == nil && pa.Kind.IsMotion() {
			err = e.executor.AwaitMotion(ctx, e.motionTimeout)
		}
		if err == nil && pa.WaitMS > 0 {
			err = poll.Sleep(ctx, time.Duration(pa.WaitMS)*time.Millisecond, poll.Options{Interval: e.pollInterval})
		}
		if err != nil {
			e.logger.Warn("post action failed", "config_id", cfg.ID, "action", pa.Kind, "error", err)
			ev := e.event(r, EventPostActionFailed, i, err.Error())
			ev.Err = err
			e.publish(ev)
		}
	}
}

// finish stamps, persists and announces the execution.
func (e *Engine) finish(ctx context.Context, r *run, runErr error) (*Execution, error) {
	completedAt := time.Now().UTC()
	r.update(func(x *Execution) {
		x.CompletedAt = &completedAt
		duration := int(completedAt.Sub(*x.StartedAt).Milliseconds())
		x.DurationMS = &duration
		if runErr != nil {
			x.Error = runErr.Error()
		}
	})
	exec := r.snapshot()

	if e.repo != nil {
		if updateErr := e.repo.UpdateExecution(context.WithoutCancel(ctx), exec.clone()); updateErr != nil {
			e.logger.Error("failed to update execution record", "error", updateErr)
		}
	}

	e.mu.Lock()
	e.history = append(e.history, exec.clone())
	if over := len(e.history) - e.historySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.mu.Unlock()

	e.logger.Info("config execution complete",
		"config_id", exec.ConfigID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"completed", exec.StepsCompleted,
		"failed", exec.StepsFailed,
		"skipped", exec.StepsSkipped,
		"duration_ms", *exec.DurationMS,
	)

	if runErr != nil || exec.Status == StatusFailed {
		ev := e.event(r, EventExecutionError, 0, exec.Error)
		ev.Status = exec.Status
		ev.Err = runErr
		e.publish(ev)
	} else {
		ev := e.event(r, EventExecutionCompleted, 0, "")
		ev.Status = exec.Status
		e.publish(ev)
	}

	if e.hub != nil {
		e.hub.Broadcast("config.executed", map[string]any{
			"config_id":    exec.ConfigID,
			"config_name":  exec.ConfigName,
			"execution_id": exec.ID,
			"status":       string(exec.Status),
			"duration_ms":  *exec.DurationMS,
		})
	}

	return exec, runErr
}

// Stop cancels the running execution, including any in-progress wait.
func (e *Engine) Stop() error {
	r := e.active()
	if r == nil {
		return ErrNotRunning
	}
	r.stopped.Store(true)
	r.cancel()
	e.logger.Info("config execution stop requested", "execution_id", r.exec.ID)
	return nil
}

// Pause holds the running execution at its next step boundary.
func (e *Engine) Pause() error {
	r := e.active()
	if r == nil {
		return ErrNotRunning
	}
	if !r.paused.Swap(true) {
		e.publish(e.event(r, EventExecutionPaused, 0, "paused"))
	}
	return nil
}

// Resume releases a paused execution.
func (e *Engine) Resume() error {
	r := e.active()
	if r == nil {
		return ErrNotRunning
	}
	if r.paused.Swap(false) {
		e.publish(e.event(r, EventExecutionResumed, 0, "resumed"))
	}
	return nil
}

// IsRunning reports whether an execution is in flight.
func (e *Engine) IsRunning() bool {
	return e.active() != nil
}

// IsPaused reports whether the running execution is paused.
func (e *Engine) IsPaused() bool {
	r := e.active()
	return r != nil && r.paused.Load()
}

// Current returns a copy of the running execution, or nil.
func (e *Engine) Current() *Execution {
	r := e.active()
	if r == nil {
		return nil
	}
	return r.snapshot()
}

// Executions returns up to limit recent executions from memory, newest
// first. limit <= 0 returns all retained executions.
func (e *Engine) Executions(limit int) []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Execution, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *e.history[i].clone())
	}
	return out
}

// Execution looks an execution up in memory, then in the repository.
func (e *Engine) Execution(ctx context.Context, id string) (*Execution, error) {
	if r := e.active(); r != nil && r.exec.ID == id {
		return r.snapshot(), nil
	}

	e.mu.Lock()
	for _, x := range e.history {
		if x.ID == id {
			cpy := x.clone()
			e.mu.Unlock()
			return cpy, nil
		}
	}
	e.mu.Unlock()

	if e.repo == nil {
		return nil, ErrExecutionNotFound
	}
	return e.repo.GetExecution(ctx, id)
}

func (e *Engine) active() *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Engine) event(r *run, typ EventType, index int, msg string) Event {
	return Event{
		Type:        typ,
		ExecutionID: r.exec.ID,
		ConfigID:    r.exec.ConfigID,
		ConfigName:  r.exec.ConfigName,
		Index:       index,
		Message:     msg,
		Timestamp:   time.Now(),
	}
}

func (e *Engine) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.bus.Publish(ev)
}

// errorCode maps an error to a stable failure code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrExecutionStopped):
		return "STOPPED"
	case errors.Is(err, ErrExecutionAborted):
		return "ABORTED"
	case errors.Is(err, ErrEmergencyStopped):
		return "EMERGENCY_STOP"
	case errors.Is(err, ErrConditionNotMet):
		return "CONDITION_NOT_MET"
	case errors.Is(err, condition.ErrConditionTimeout):
		return "CONDITION_TIMEOUT"
	case errors.Is(err, action.ErrActuatorTimeout):
		return "ACTUATOR_TIMEOUT"
	case errors.Is(err, action.ErrActuatorUnavailable):
		return "ACTUATOR_UNAVAILABLE"
	case errors.Is(err, statemachine.ErrIllegalTransition):
		return "ILLEGAL_TRANSITION"
	case errors.Is(err, poll.ErrCancelled), errors.Is(err, context.Canceled):
		return "CANCELLED"
	default:
		return "EXECUTION_FAILED"
	}
}
