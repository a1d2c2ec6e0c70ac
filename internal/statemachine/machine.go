package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/nerrad567/tailgate-core/internal/eventbus"
)

// DefaultHistorySize bounds the transition history ring.
const DefaultHistorySize = 50

// Logger defines the logging interface used by the Machine.
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

// Hook runs on state exit or entry. Hooks run while the transition is in
// progress and must not call back into the Machine.
type Hook func(from, to State, reason string)

// Record is one entry of the transition history.
type Record struct {
	From      State         `json:"from"`
	To        State         `json:"to"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"` // time spent in From
}

// Machine is the actuator state machine.
//
// The current state can only change through Transition/Apply (or the
// convenience wrappers built on them), so the allowed-transition table
// cannot be bypassed. Transitions are executed by looplab/fsm with one event
// per target state.
//
// Thread Safety: all methods are safe for concurrent use. Events are
// published after the internal lock is released, so subscribers may call
// back into the Machine.
type Machine struct {
	mu        sync.Mutex
	fsm       *fsm.FSM
	enteredAt time.Time
	history   *ring

	hooksMu sync.RWMutex
	onEnter map[State][]Hook
	onExit  map[State][]Hook

	bus    *eventbus.Bus[Event]
	logger Logger
}

// Option configures a Machine.
type Option func(*machineOptions)

type machineOptions struct {
	initial     State
	historySize int
	logger      Logger
}

// WithInitialState sets the state the machine starts in (default closed).
func WithInitialState(s State) Option {
	return func(o *machineOptions) { o.initial = s }
}

// WithHistorySize sets the transition history capacity.
func WithHistorySize(n int) Option {
	return func(o *machineOptions) { o.historySize = n }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *machineOptions) { o.logger = l }
}

// New creates a Machine. It returns an error if the initial state is unknown.
func New(opts ...Option) (*Machine, error) {
	o := machineOptions{
		initial:     StateClosed,
		historySize: DefaultHistorySize,
		logger:      noopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.initial.Valid() {
		return nil, fmt.Errorf("%w: initial state %q", ErrUnknownState, o.initial)
	}
	if o.historySize <= 0 {
		o.historySize = DefaultHistorySize
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}

	m := &Machine{
		enteredAt: time.Now(),
		history:   newRing(o.historySize),
		onEnter:   make(map[State][]Hook),
		onExit:    make(map[State][]Hook),
		bus:       eventbus.New[Event](),
		logger:    o.logger,
	}
	m.fsm = fsm.NewFSM(string(o.initial), buildEvents(), fsm.Callbacks{
		"leave_state": func(_ context.Context, e *fsm.Event) {
			m.runHooks(m.onExit, State(e.Src), e)
		},
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.runHooks(m.onEnter, State(e.Dst), e)
		},
	})
	return m, nil
}

// buildEvents turns the transition table into one fsm event per target state.
func buildEvents() fsm.Events {
	sources := make(map[State][]string)
	for _, from := range AllStates() {
		for _, to := range transitions[from] {
			sources[to] = append(sources[to], string(from))
		}
	}

	events := make(fsm.Events, 0, len(sources))
	for _, to := range AllStates() {
		if len(sources[to]) == 0 {
			continue
		}
		events = append(events, fsm.EventDesc{
			Name: eventName(to),
			Src:  sources[to],
			Dst:  string(to),
		})
	}
	return events
}

func (m *Machine) runHooks(hooks map[State][]Hook, s State, e *fsm.Event) {
	reason := ""
	if len(e.Args) > 0 {
		reason, _ = e.Args[0].(string) //nolint:errcheck // reason is always passed as string
	}

	m.hooksMu.RLock()
	list := hooks[s]
	m.hooksMu.RUnlock()

	for _, h := range list {
		h(State(e.Src), State(e.Dst), reason)
	}
}

// OnEnter registers a hook run after the machine enters s.
func (m *Machine) OnEnter(s State, h Hook) {
	m.hooksMu.Lock()
	m.onEnter[s] = append(m.onEnter[s], h)
	m.hooksMu.Unlock()
}

// OnExit registers a hook run before the machine leaves s.
func (m *Machine) OnExit(s State, h Hook) {
	m.hooksMu.Lock()
	m.onExit[s] = append(m.onExit[s], h)
	m.hooksMu.Unlock()
}

// Subscribe registers an event handler and returns its unsubscribe function.
func (m *Machine) Subscribe(h func(Event)) func() {
	return m.bus.Subscribe(h)
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.fsm.Current())
}

// Is reports whether the machine is currently in s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// IsMoving reports whether the machine is opening or closing.
func (m *Machine) IsMoving() bool {
	return m.Current().IsMoving()
}

// CanTransition reports whether to is reachable from the current state.
func (m *Machine) CanTransition(to State) bool {
	return IsAllowed(m.Current(), to)
}

// TimeInState returns how long the machine has been in its current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.enteredAt)
}

// History returns up to limit of the most recent transitions, oldest first.
// A non-positive limit returns the whole ring.
func (m *Machine) History(limit int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.last(limit)
}

// Transition moves the machine to the target state and reports success.
// Rejections publish EventTransitionRejected and leave the state unchanged.
func (m *Machine) Transition(to State, reason string) bool {
	return m.Apply(to, reason) == nil
}

// Apply is Transition with the rejection returned as a *TransitionError
// wrapping ErrUnknownState or ErrIllegalTransition.
func (m *Machine) Apply(to State, reason string) error {
	return m.transition(to, reason, nil)
}

// guard lets a wrapper add a precondition on the source state, checked under the lock.
type guard func(from State) error

func (m *Machine) transition(to State, reason string, check guard) error {
	rec, changed, err := m.apply(to, reason, check)
	if err != nil {
		m.logger.Warn("state transition rejected",
			"from", rec.From,
			"to", to,
			"reason", reason,
			"error", err,
		)
		m.bus.Publish(Event{
			Type:      EventTransitionRejected,
			From:      rec.From,
			To:        to,
			Reason:    reason,
			Timestamp: time.Now(),
			Err:       err,
		})
		return err
	}
	if !changed {
		return nil
	}

	m.logger.Info("state changed",
		"from", rec.From,
		"to", rec.To,
		"reason", reason,
		"previous_state_ms", rec.Duration.Milliseconds(),
	)
	m.bus.Publish(Event{
		Type:      EventStateChanged,
		From:      rec.From,
		To:        rec.To,
		Reason:    rec.Reason,
		Timestamp: rec.Timestamp,
		Duration:  rec.Duration,
	})
	return nil
}

func (m *Machine) apply(to State, reason string, check guard) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := State(m.fsm.Current())
	rec := Record{From: from, To: to, Reason: reason}

	if check != nil {
		if err := check(from); err != nil {
			return rec, false, err
		}
	}
	if !to.Valid() {
		return rec, false, &TransitionError{From: from, To: to, Reason: reason, Err: ErrUnknownState}
	}
	// Repeated emergency stops are absorbed without a new record.
	if from == StateEmergencyStop && to == StateEmergencyStop {
		return rec, false, nil
	}
	if !IsAllowed(from, to) {
		return rec, false, &TransitionError{From: from, To: to, Reason: reason, Err: ErrIllegalTransition}
	}

	if err := m.fsm.Event(context.Background(), eventName(to), reason); err != nil {
		return rec, false, &TransitionError{
			From:   from,
			To:     to,
			Reason: reason,
			Err:    fmt.Errorf("%w: %w", ErrIllegalTransition, err),
		}
	}

	now := time.Now()
	rec.Timestamp = now
	rec.Duration = now.Sub(m.enteredAt)
	m.enteredAt = now
	m.history.push(rec)
	return rec, true, nil
}

// ─── Convenience wrappers ───────────────────────────────────────────────────

// StartOpening moves to opening.
func (m *Machine) StartOpening() bool {
	return m.Transition(StateOpening, "start opening")
}

// StartClosing moves to closing.
func (m *Machine) StartClosing() bool {
	return m.Transition(StateClosing, "start closing")
}

// CompleteOpening moves from opening to open.
func (m *Machine) CompleteOpening() bool {
	return m.Transition(StateOpen, "opening complete")
}

// CompleteClosing moves from closing to closed.
func (m *Machine) CompleteClosing() bool {
	return m.Transition(StateClosed, "closing complete")
}

// PauseMotion moves a moving actuator to paused.
func (m *Machine) PauseMotion() bool {
	return m.Transition(StatePaused, "motion paused")
}

// ResumeMotion returns to whichever of opening/closing preceded the most
// recent entry into paused. It fails when the machine is not paused or the
// direction cannot be recovered from history.
func (m *Machine) ResumeMotion() bool {
	_, ok := m.Resume("motion resumed")
	return ok
}

// Resume is ResumeMotion with a reason; it returns the resumed direction.
func (m *Machine) Resume(reason string) (State, bool) {
	var target State
	err := m.transitionTo(func(from State) (State, error) {
		if from != StatePaused {
			return "", &TransitionError{From: from, To: "", Reason: reason, Err: ErrIllegalTransition}
		}
		dir, ok := m.history.pausedFrom()
		if !ok {
			return "", &TransitionError{From: from, To: "", Reason: reason, Err: fmt.Errorf("%w: no motion to resume", ErrIllegalTransition)}
		}
		target = dir
		return dir, nil
	}, reason)
	return target, err == nil
}

// transitionTo resolves the target under the lock and then transitions.
// The resolved target is re-validated by apply, so a concurrent change
// between resolution and apply is still rejected.
func (m *Machine) transitionTo(resolve func(from State) (State, error), reason string) error {
	m.mu.Lock()
	from := State(m.fsm.Current())
	to, err := resolve(from)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("state transition rejected", "from", from, "reason", reason, "error", err)
		m.bus.Publish(Event{
			Type:      EventTransitionRejected,
			From:      from,
			Reason:    reason,
			Timestamp: time.Now(),
			Err:       err,
		})
		return err
	}
	return m.transition(to, reason, func(cur State) error {
		if cur != from {
			return &TransitionError{From: cur, To: to, Reason: reason, Err: ErrIllegalTransition}
		}
		return nil
	})
}

// EmergencyStop moves to emergency_stop from any state. It is idempotent:
// when already stopped it returns true without publishing another event.
func (m *Machine) EmergencyStop(reason string) bool {
	if reason == "" {
		reason = "emergency stop"
	}
	return m.Transition(StateEmergencyStop, reason)
}

// ResetEmergencyStop returns from emergency_stop to idle.
// It fails from any other state.
func (m *Machine) ResetEmergencyStop(reason string) bool {
	if reason == "" {
		reason = "emergency stop reset"
	}
	err := m.transition(StateIdle, reason, func(from State) error {
		if from != StateEmergencyStop {
			return &TransitionError{From: from, To: StateIdle, Reason: reason, Err: ErrIllegalTransition}
		}
		return nil
	})
	return err == nil
}
