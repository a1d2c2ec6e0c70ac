package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/eventbus"
)

// Logger defines the logging interface used by the Manager.
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

// Evaluator evaluates one condition against the latest snapshot.
type Evaluator interface {
	Evaluate(c condition.Condition) (condition.Result, error)
}

// EmergencyStopper handles TriggerEmergencyStop.
type EmergencyStopper interface {
	EmergencyStop(ctx context.Context, reason string) error
}

// Callback is a named function run by TriggerCustom.
type Callback func(ctx context.Context, m Monitor, res condition.Result) error

// Hooks connect pause and abort triggers to the owning execution.
// Hooks run on the monitor goroutine and must not call Manager.Stop.
type Hooks struct {
	Pause func(m Monitor)
	Abort func(m Monitor)
}

// Manager owns the active monitor set.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	evaluator Evaluator
	stopper   EmergencyStopper
	interval  time.Duration
	policy    Policy
	logger    Logger
	bus       *eventbus.Bus[Event]

	lifeMu sync.Mutex // serialises Start and Stop

	mu        sync.Mutex
	callbacks map[string]Callback
	run       *run

	startedTotal atomic.Int64
}

// run is one Start call's set of monitor goroutines.
type run struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	hooks  Hooks

	mu     sync.Mutex
	active map[string]*Status
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets the check interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithPolicy sets the refire policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		if p != "" {
			m.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager. stopper may be nil, in which case
// emergency_stop triggers are reported as errors.
func NewManager(evaluator Evaluator, stopper EmergencyStopper, opts ...Option) *Manager {
	m := &Manager{
		evaluator: evaluator,
		stopper:   stopper,
		interval:  DefaultInterval,
		policy:    PolicyEveryTick,
		logger:    noopLogger{},
		bus:       eventbus.New[Event](),
		callbacks: make(map[string]Callback),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers an event handler.
func (m *Manager) Subscribe(h func(Event)) func() {
	return m.bus.Subscribe(h)
}

// RegisterCallback makes fn available to custom triggers under name.
func (m *Manager) RegisterCallback(name string, fn Callback) {
	m.mu.Lock()
	m.callbacks[name] = fn
	m.mu.Unlock()
}

// Start validates monitors and replaces the active set with them. On a
// validation error nothing is started and the current set is left running.
// Monitors stop when ctx ends or on Stop.
func (m *Manager) Start(ctx context.Context, monitors []Monitor, hooks Hooks) error {
	seen := make(map[string]bool, len(monitors))
	for _, mon := range monitors {
		if err := mon.Validate(); err != nil {
			return err
		}
		if seen[mon.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidMonitor, mon.ID)
		}
		seen[mon.ID] = true
	}

	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.stop()
	if len(monitors) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel: cancel,
		hooks:  hooks,
		active: make(map[string]*Status, len(monitors)),
	}
	now := time.Now()
	for _, mon := range monitors {
		r.active[mon.ID] = &Status{Monitor: mon, StartedAt: now}
	}

	m.mu.Lock()
	m.run = r
	m.mu.Unlock()

	for _, mon := range monitors {
		r.wg.Add(1)
		m.startedTotal.Add(1)
		go m.watch(runCtx, r, mon)

		m.logger.Debug("monitor started", "monitor_id", mon.ID, "type", mon.Type, "on_trigger", mon.OnTrigger)
		m.bus.Publish(Event{
			Type:      EventMonitorStarted,
			MonitorID: mon.ID,
			Trigger:   mon.OnTrigger,
			Timestamp: now,
		})
	}
	return nil
}

// Stop cancels every active check, waits for them to exit and clears the
// registry. It is safe to call with nothing running.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	m.stop()
}

func (m *Manager) stop() {
	m.mu.Lock()
	r := m.run
	m.run = nil
	m.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	n := len(r.active)
	r.active = nil
	r.mu.Unlock()

	m.logger.Debug("monitors stopped", "count", n)
	m.bus.Publish(Event{
		Type:      EventMonitorsStopped,
		Count:     n,
		Timestamp: time.Now(),
	})
}

// ActiveCount returns the number of active monitors.
func (m *Manager) ActiveCount() int {
	return len(m.Active())
}

// Active returns the active monitors ordered by ID.
func (m *Manager) Active() []Status {
	m.mu.Lock()
	r := m.run
	m.mu.Unlock()
	if r == nil {
		return nil
	}

	r.mu.Lock()
	out := make([]Status, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Monitor.ID < out[j].Monitor.ID })
	return out
}

// StartedTotal returns how many monitors have ever been started.
func (m *Manager) StartedTotal() int64 {
	return m.startedTotal.Load()
}

func (m *Manager) watch(ctx context.Context, r *run, mon Monitor) {
	defer r.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	cond := mon.Condition()
	wasTrue := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		res, err := m.evaluator.Evaluate(cond)
		if err != nil {
			m.logger.Warn("monitor evaluation failed", "monitor_id", mon.ID, "error", err)
			m.bus.Publish(Event{
				Type:      EventMonitorError,
				MonitorID: mon.ID,
				Message:   err.Error(),
				Err:       err,
				Timestamp: time.Now(),
			})
			continue
		}

		fire := res.Success
		if m.policy == PolicyOnEdge {
			fire = res.Success && !wasTrue
		}
		wasTrue = res.Success
		if !fire {
			continue
		}

		r.mu.Lock()
		if s, ok := r.active[mon.ID]; ok {
			s.Fired++
		}
		r.mu.Unlock()

		m.dispatch(ctx, r.hooks, mon, res)
	}
}

func (m *Manager) dispatch(ctx context.Context, hooks Hooks, mon Monitor, res condition.Result) {
	msg := mon.Message
	if msg == "" {
		msg = fmt.Sprintf("monitor %s triggered: %s (actual %v)", mon.ID, mon.Condition(), res.Actual)
	}

	m.bus.Publish(Event{
		Type:      EventMonitorTriggered,
		MonitorID: mon.ID,
		Trigger:   mon.OnTrigger,
		Message:   msg,
		Result:    &res,
		Timestamp: time.Now(),
	})

	switch mon.OnTrigger {
	case TriggerEmergencyStop:
		m.logger.Warn("monitor triggered emergency stop", "monitor_id", mon.ID, "actual", res.Actual)
		if m.stopper == nil {
			m.reportError(mon, fmt.Errorf("monitor %s: no emergency stopper wired", mon.ID))
			return
		}
		if err := m.stopper.EmergencyStop(ctx, msg); err != nil {
			m.reportError(mon, err)
		}
	case TriggerPause:
		m.logger.Info("monitor triggered pause", "monitor_id", mon.ID)
		if hooks.Pause != nil {
			hooks.Pause(mon)
		}
	case TriggerAbort:
		m.logger.Warn("monitor triggered abort", "monitor_id", mon.ID)
		if hooks.Abort != nil {
			hooks.Abort(mon)
		}
	case TriggerLog:
		m.logger.Info(msg, "monitor_id", mon.ID, "actual", res.Actual)
	case TriggerCustom:
		m.runCallback(ctx, mon, res)
	}
}

// runCallback invokes a custom callback. Its errors and panics are logged
// and published, never propagated.
func (m *Manager) runCallback(ctx context.Context, mon Monitor, res condition.Result) {
	m.mu.Lock()
	fn, ok := m.callbacks[mon.Callback]
	m.mu.Unlock()
	if !ok {
		m.reportError(mon, fmt.Errorf("%w: %q", ErrUnknownCallback, mon.Callback))
		return
	}

	defer func() {
		if p := recover(); p != nil {
			m.reportError(mon, fmt.Errorf("monitor %s: callback %q panicked: %v", mon.ID, mon.Callback, p))
		}
	}()
	if err := fn(ctx, mon, res); err != nil {
		m.reportError(mon, err)
	}
}

func (m *Manager) reportError(mon Monitor, err error) {
	m.logger.Error("monitor trigger failed", "monitor_id", mon.ID, "trigger", mon.OnTrigger, "error", err)
	m.bus.Publish(Event{
		Type:      EventMonitorError,
		MonitorID: mon.ID,
		Trigger:   mon.OnTrigger,
		Message:   err.Error(),
		Err:       err,
		Timestamp: time.Now(),
	})
}
