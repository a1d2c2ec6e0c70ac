// Package orchestrator runs queued actions as sequences.
//
// An Orchestrator owns a FIFO queue of actions. ExecuteSequence walks the
// queue in order, waiting after every action (except emergencyStop) for the
// actuator to stop moving, and optionally loops a bounded number of times.
// Only one sequence runs at a time; a second ExecuteSequence call is
// rejected with ErrAlreadyRunning and leaves the queue alone. The queue is
// frozen while a sequence runs: Enqueue, LoadScenario and Clear return
// ErrAlreadyRunning instead of touching it.
//
// Two variants build on the plain orchestrator:
//
//   - Recovering retries a failed sequence after running a recovery
//     procedure (clear faults, reset the state machine).
//   - Safe mode (SequenceOptions.SafeMode) routes every action through the
//     automation engine as a one-step config guarded by safety preconditions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/eventbus"
	"github.com/nerrad567/tailgate-core/internal/poll"
)

// Orchestrator defaults.
const (
	DefaultMotionTimeout = 30 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultMaxLoopCount  = 10
)

// Runner executes single actions. *action.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, kind action.Kind, params action.Params, meta action.Meta) (*action.Result, error)
	AwaitMotion(ctx context.Context, timeout time.Duration) error
}

// Logger defines the logging interface used by the orchestrator.
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

// SequenceOptions controls one ExecuteSequence call.
type SequenceOptions struct {
	Name string `json:"name"`

	// Loop repeats the queue up to MaxLoopCount times
	// (DefaultMaxLoopCount when zero).
	Loop         bool `json:"loop"`
	MaxLoopCount int  `json:"max_loop_count"`

	// SafeMode runs each action through the automation engine with
	// safety preconditions derived from its kind.
	SafeMode bool `json:"safe_mode"`
}

func (o SequenceOptions) name() string {
	if o.Name == "" {
		return "sequence"
	}
	return o.Name
}

func (o SequenceOptions) loops() int {
	if !o.Loop {
		return 1
	}
	if o.MaxLoopCount <= 0 {
		return DefaultMaxLoopCount
	}
	return o.MaxLoopCount
}

// Status is a snapshot of the orchestrator's run state.
type Status struct {
	Queue           []action.Action `json:"queue"`
	Executing       bool            `json:"executing"`
	Paused          bool            `json:"paused"`
	LoopCount       int             `json:"loop_count"`
	MaxLoopCount    int             `json:"max_loop_count"`
	CurrentSequence string          `json:"current_sequence,omitempty"`
	Position        int             `json:"position"`
}

// Orchestrator queues actions and runs them as sequences.
//
// Thread Safety: all methods are safe for concurrent use.
type Orchestrator struct {
	runner Runner
	engine ConfigRunner

	speedLimit    float64
	motionTimeout time.Duration
	interval      time.Duration

	bus    *eventbus.Bus[Event]
	logger Logger

	mu           sync.Mutex
	queue        []action.Action
	executing    bool
	paused       bool
	stopped      bool
	loopCount    int
	maxLoopCount int
	current      string
	position     int
	cancel       context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEngine enables safe mode by routing actions through engine.
func WithEngine(engine ConfigRunner) Option {
	return func(o *Orchestrator) { o.engine = engine }
}

// WithSpeedLimit sets the vehicle speed limit used by safe mode.
func WithSpeedLimit(kmh float64) Option {
	return func(o *Orchestrator) {
		if kmh > 0 {
			o.speedLimit = kmh
		}
	}
}

// WithMotionTimeout bounds each wait for the actuator to stop.
func WithMotionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.motionTimeout = d
		}
	}
}

// WithPollInterval sets the pause and wait polling period.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator that runs actions with runner.
func New(runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:        runner,
		motionTimeout: DefaultMotionTimeout,
		interval:      DefaultPollInterval,
		bus:           eventbus.New[Event](),
		logger:        noopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers an event handler.
func (o *Orchestrator) Subscribe(h func(Event)) func() {
	return o.bus.Subscribe(h)
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// Enqueue validates and appends actions. Nothing is appended unless every
// action is valid and no sequence is running.
func (o *Orchestrator) Enqueue(actions ...action.Action) error {
	cloned := make([]action.Action, 0, len(actions))
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		cloned = append(cloned, a.Clone())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.executing {
		return ErrAlreadyRunning
	}
	o.queue = append(o.queue, cloned...)
	return nil
}

// LoadScenario replaces the queue with the scenario's actions. It returns
// ErrAlreadyRunning, leaving the queue as it was, while a sequence runs.
func (o *Orchestrator) LoadScenario(s Scenario) error {
	cloned := make([]action.Action, 0, len(s.Actions))
	for i, a := range s.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("scenario %s action %d: %w", s.ID, i, err)
		}
		cloned = append(cloned, a.Clone())
	}

	o.mu.Lock()
	if o.executing {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.queue = cloned
	o.position = 0
	o.mu.Unlock()

	o.logger.Info("scenario loaded", "scenario", s.ID, "actions", len(cloned))
	return nil
}

// Clear empties the queue unless a sequence is running.
func (o *Orchestrator) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.executing {
		return ErrAlreadyRunning
	}
	o.queue = nil
	o.position = 0
	return nil
}

// Queue returns a copy of the queued actions.
func (o *Orchestrator) Queue() []action.Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneActions(o.queue)
}

// Status returns the current run state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Queue:           cloneActions(o.queue),
		Executing:       o.executing,
		Paused:          o.paused,
		LoopCount:       o.loopCount,
		MaxLoopCount:    o.maxLoopCount,
		CurrentSequence: o.current,
		Position:        o.position,
	}
}

// IsExecuting reports whether a sequence is running.
func (o *Orchestrator) IsExecuting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executing
}

func cloneActions(in []action.Action) []action.Action {
	out := make([]action.Action, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// ─── Sequences ──────────────────────────────────────────────────────────────

// ExecuteSequence runs the queued actions in order and blocks until the
// sequence completes, fails, or is stopped. The queue itself is not
// consumed, so a looping sequence replays the same actions.
func (o *Orchestrator) ExecuteSequence(ctx context.Context, opts SequenceOptions) error {
	name := opts.name()

	o.mu.Lock()
	if o.executing {
		running := o.current
		o.mu.Unlock()
		o.publish(Event{Type: EventSequenceRejected, Sequence: name, Message: "already running: " + running, Err: ErrAlreadyRunning})
		return ErrAlreadyRunning
	}
	if len(o.queue) == 0 {
		o.mu.Unlock()
		return ErrEmptyQueue
	}
	if opts.SafeMode && o.engine == nil {
		o.mu.Unlock()
		return ErrSafeModeUnavailable
	}

	actions := cloneActions(o.queue)
	runCtx, cancel := context.WithCancel(ctx)
	o.executing = true
	o.paused = false
	o.stopped = false
	o.loopCount = 0
	o.maxLoopCount = opts.loops()
	o.current = name
	o.position = 0
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.executing = false
		o.paused = false
		o.current = ""
		o.position = 0
		o.cancel = nil
		o.mu.Unlock()
	}()

	o.publish(Event{Type: EventSequenceStarted, Sequence: name, Message: fmt.Sprintf("%d actions", len(actions))})
	o.logger.Info("sequence started", "sequence", name, "actions", len(actions), "loops", opts.loops(), "safe_mode", opts.SafeMode)

	err := o.runLoops(runCtx, name, actions, opts)
	if err == nil {
		o.publish(Event{Type: EventSequenceCompleted, Sequence: name, Loop: o.Status().LoopCount})
		o.logger.Info("sequence completed", "sequence", name)
		return nil
	}

	if o.isStopped() {
		o.publish(Event{Type: EventSequenceStopped, Sequence: name})
		o.logger.Info("sequence stopped", "sequence", name)
		return ErrSequenceStopped
	}

	o.publish(Event{Type: EventSequenceError, Sequence: name, Index: o.Status().Position, Message: err.Error(), Err: err})
	o.logger.Warn("sequence failed", "sequence", name, "error", err)
	return err
}

func (o *Orchestrator) runLoops(ctx context.Context, name string, actions []action.Action, opts SequenceOptions) error {
	loops := opts.loops()
	for loop := 1; loop <= loops; loop++ {
		for i, a := range actions {
			if err := o.checkpoint(ctx); err != nil {
				return err
			}
			o.setPosition(i)

			o.publish(Event{Type: EventActionStarted, Sequence: name, Index: i, Loop: loop, Kind: a.Kind})
			if err := o.runAction(ctx, name, a, opts.SafeMode); err != nil {
				return fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
			}
			o.publish(Event{Type: EventActionCompleted, Sequence: name, Index: i, Loop: loop, Kind: a.Kind})
		}

		o.mu.Lock()
		o.loopCount = loop
		o.mu.Unlock()
		if opts.Loop {
			o.publish(Event{Type: EventLoopCompleted, Sequence: name, Loop: loop})
		}
	}
	return nil
}

// checkpoint blocks while the sequence is paused and fails once it is
// stopped or cancelled.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if o.isStopped() {
		return ErrSequenceStopped
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", poll.ErrCancelled, err)
	}
	return poll.Until(ctx, poll.Options{
		Interval: o.interval,
		Alive:    func() bool { return !o.isStopped() },
	}, func() (bool, error) {
		return !o.isPaused(), nil
	})
}

func (o *Orchestrator) runAction(ctx context.Context, name string, a action.Action, safe bool) error {
	if safe {
		if err := o.runSafe(ctx, name, a); err != nil {
			return err
		}
	} else {
		if _, err := o.runner.Execute(ctx, a.Kind, a.Params, action.Meta{Source: "sequence:" + name}); err != nil {
			return err
		}
		if a.Kind != action.KindEmergencyStop {
			if err := o.runner.AwaitMotion(ctx, o.motionTimeout); err != nil {
				return err
			}
		}
	}

	if a.WaitMS > 0 {
		return poll.Sleep(ctx, time.Duration(a.WaitMS)*time.Millisecond, poll.Options{
			Interval: o.interval,
			Alive:    func() bool { return !o.isStopped() },
		})
	}
	return nil
}

// PauseSequence holds the running sequence at its next action boundary.
func (o *Orchestrator) PauseSequence() error {
	o.mu.Lock()
	if !o.executing {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.paused = true
	name := o.current
	o.mu.Unlock()

	o.publish(Event{Type: EventSequencePaused, Sequence: name})
	return nil
}

// ResumeSequence releases a paused sequence.
func (o *Orchestrator) ResumeSequence() error {
	o.mu.Lock()
	if !o.executing {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.paused = false
	name := o.current
	o.mu.Unlock()

	o.publish(Event{Type: EventSequenceResumed, Sequence: name})
	return nil
}

// StopSequence ends the running sequence immediately. Any in-flight wait is
// cancelled; the queue contents are kept but the position is reset.
// Motion already started on the actuator is not halted.
func (o *Orchestrator) StopSequence() error {
	o.mu.Lock()
	if !o.executing {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.stopped = true
	o.paused = false
	o.position = 0
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

func (o *Orchestrator) setPosition(i int) {
	o.mu.Lock()
	o.position = i
	o.mu.Unlock()
}

// ─── Parallel ───────────────────────────────────────────────────────────────

// ExecuteParallel runs actions concurrently as independent executions. The
// batch fails if any member fails; the first error cancels the rest.
// Parallel batches do not await motion and do not touch the queue.
func (o *Orchestrator) ExecuteParallel(ctx context.Context, actions []action.Action) ([]*action.Result, error) {
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	o.publish(Event{Type: EventParallelStarted, Message: fmt.Sprintf("%d actions", len(actions))})

	results := make([]*action.Result, len(actions))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range actions {
		g.Go(func() error {
			res, err := o.runner.Execute(gctx, a.Kind, a.Params, action.Meta{Source: "parallel"})
			results[i] = res
			if err != nil {
				return fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.publish(Event{Type: EventParallelError, Message: err.Error(), Err: err})
		o.logger.Warn("parallel batch failed", "actions", len(actions), "error", err)
		return results, err
	}

	o.publish(Event{Type: EventParallelCompleted, Message: fmt.Sprintf("%d actions", len(actions))})
	return results, nil
}

func (o *Orchestrator) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.bus.Publish(ev)
}

// permanent reports errors a retry can never fix.
func permanent(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrSequenceStopped) ||
		errors.Is(err, ErrEmptyQueue) ||
		errors.Is(err, ErrSafeModeUnavailable) ||
		errors.Is(err, action.ErrInvalidParams) ||
		errors.Is(err, action.ErrUnknownAction)
}
