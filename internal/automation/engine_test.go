package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/monitor"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockRunner records every action the engine executes.
type mockRunner struct {
	mu     sync.Mutex
	calls  []action.Kind
	failOn map[action.Kind]error
	awaits int
}

func newMockRunner() *mockRunner {
	return &mockRunner{failOn: make(map[action.Kind]error)}
}

func (m *mockRunner) Execute(_ context.Context, kind action.Kind, params action.Params, meta action.Meta) (*action.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind)
	res := &action.Result{ExecutionID: meta.ExecutionID, Kind: kind, Params: params}
	if err := m.failOn[kind]; err != nil {
		return res, err
	}
	res.Success = true
	return res, nil
}

func (m *mockRunner) AwaitMotion(context.Context, time.Duration) error {
	m.mu.Lock()
	m.awaits++
	m.mu.Unlock()
	return nil
}

func (m *mockRunner) kinds() []action.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]action.Kind(nil), m.calls...)
}

// mockMonitors counts Start/Stop calls and can fire hooks.
type mockMonitors struct {
	mu           sync.Mutex
	starts       int
	stops        int
	started      []monitor.Monitor
	abortOnStart bool
}

func (m *mockMonitors) Start(_ context.Context, mons []monitor.Monitor, hooks monitor.Hooks) error {
	m.mu.Lock()
	m.starts++
	m.started = mons
	abort := m.abortOnStart
	m.mu.Unlock()

	if abort && hooks.Abort != nil {
		go func() {
			time.Sleep(10 * time.Millisecond)
			hooks.Abort(mons[0])
		}()
	}
	return nil
}

func (m *mockMonitors) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *mockMonitors) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// fakeProvider is a snapshot provider the test can change.
type fakeProvider struct {
	mu   sync.Mutex
	snap vehicle.Snapshot
}

func (p *fakeProvider) Snapshot() vehicle.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *fakeProvider) set(fn func(*vehicle.Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	p.mu.Unlock()
}

type fixedState struct {
	mu sync.Mutex
	s  statemachine.State
}

func (f *fixedState) Current() statemachine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

// mockHub captures broadcasts.
type mockHub struct {
	mu       sync.Mutex
	channels []string
}

func (h *mockHub) Broadcast(channel string, _ any) {
	h.mu.Lock()
	h.channels = append(h.channels, channel)
	h.mu.Unlock()
}

// engineEvents records engine events.
type engineEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *engineEvents) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *engineEvents) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type testEngine struct {
	*Engine
	runner   *mockRunner
	monitors *mockMonitors
	provider *fakeProvider
	state    *fixedState
	repo     *MemoryRepository
	library  *Library
	hub      *mockHub
	events   *engineEvents
}

func newTestEngine(t *testing.T, opts ...func(*EngineDeps)) *testEngine {
	t.Helper()

	provider := &fakeProvider{snap: vehicle.Snapshot{SystemReady: true, ActuatorReady: true}}
	te := &testEngine{
		runner:   newMockRunner(),
		monitors: &mockMonitors{},
		provider: provider,
		state:    &fixedState{s: statemachine.StateClosed},
		repo:     NewMemoryRepository(),
		hub:      &mockHub{},
		events:   &engineEvents{},
	}
	te.library = NewLibrary(te.repo)

	deps := EngineDeps{
		Library:      te.library,
		Executor:     te.runner,
		Evaluator:    condition.NewEvaluator(provider, condition.WithInterval(5*time.Millisecond)),
		Monitors:     te.monitors,
		State:        te.state,
		Hub:          te.hub,
		PollInterval: 5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	te.Engine = NewEngine(deps)
	te.Subscribe(te.events.add)
	return te
}

func actionStep(kind action.Kind) Step {
	return Step{Type: StepAction, Action: kind}
}

func speedMonitor() monitor.Monitor {
	return monitor.Monitor{
		ID:        "speed",
		Type:      condition.TypeVehicleSpeed,
		Operator:  condition.OpGreater,
		Value:     5.0,
		OnTrigger: monitor.TriggerEmergencyStop,
	}
}

func testConfig(steps ...Step) *Config {
	return &Config{
		ID:          "test-config",
		Name:        "Test Config",
		Steps:       steps,
		Monitors:    []monitor.Monitor{speedMonitor()},
		PostActions: []action.Action{{Kind: action.KindUpdateStatus, Params: action.Params{"message": "done"}}},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ─── Validation & Preconditions ─────────────────────────────────────────────

func TestExecuteConfig_InvalidHasNoSideEffects(t *testing.T) {
	te := newTestEngine(t)
	cfg := testConfig(Step{Type: StepAction, Action: "fly"})

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{Type: "manual"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("ExecuteConfig() error = %v, want ErrInvalidConfig", err)
	}
	if exec != nil {
		t.Errorf("exec = %+v, want nil", exec)
	}
	if calls := te.runner.kinds(); len(calls) != 0 {
		t.Errorf("runner calls = %v, want none", calls)
	}
	if starts, _ := te.monitors.counts(); starts != 0 {
		t.Errorf("monitor starts = %d, want 0", starts)
	}
	if execs, _ := te.repo.ListExecutions(context.Background(), "", 10); len(execs) != 0 {
		t.Errorf("recorded executions = %d, want 0", len(execs))
	}
	if got := te.events.count(EventExecutionError); got != 1 {
		t.Errorf("execution_error events = %d, want 1", got)
	}
}

func TestExecuteConfig_MissingIDRejected(t *testing.T) {
	te := newTestEngine(t)
	cfg := testConfig(actionStep(action.KindOpen))
	cfg.ID = ""

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{Type: "manual"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("ExecuteConfig() error = %v, want ErrInvalidConfig", err)
	}
	if exec != nil {
		t.Errorf("exec = %+v, want nil", exec)
	}
	if calls := te.runner.kinds(); len(calls) != 0 {
		t.Errorf("runner calls = %v, want none", calls)
	}
	if starts, _ := te.monitors.counts(); starts != 0 {
		t.Errorf("monitor starts = %d, want 0", starts)
	}
	if execs, _ := te.repo.ListExecutions(context.Background(), "", 10); len(execs) != 0 {
		t.Errorf("recorded executions = %d, want 0", len(execs))
	}
	if got := te.events.count(EventExecutionError); got != 1 {
		t.Errorf("execution_error events = %d, want 1", got)
	}
}

func TestExecuteConfig_AbortingPreconditionRunsNothing(t *testing.T) {
	te := newTestEngine(t)
	te.provider.set(func(s *vehicle.Snapshot) { s.VehicleSpeed = 30 })

	cfg := testConfig(actionStep(action.KindOpen))
	cfg.Preconditions = []Precondition{{
		Condition: condition.Condition{Type: condition.TypeVehicleSpeed, Operator: condition.OpLess, Value: 5},
		Message:   "vehicle moving",
	}}

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{Type: "manual"})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("ExecuteConfig() error = %v, want ErrPreconditionFailed", err)
	}
	if exec == nil || exec.Status != StatusRejected {
		t.Fatalf("exec = %+v, want status rejected", exec)
	}
	if exec.StepsCompleted != 0 || exec.StepsSkipped != 1 {
		t.Errorf("steps completed/skipped = %d/%d, want 0/1", exec.StepsCompleted, exec.StepsSkipped)
	}
	if calls := te.runner.kinds(); len(calls) != 0 {
		t.Errorf("runner calls = %v, want none", calls)
	}
	if starts, _ := te.monitors.counts(); starts != 0 {
		t.Errorf("monitor starts = %d, want 0", starts)
	}
	if got := te.events.count(EventPreconditionFailed); got != 1 {
		t.Errorf("precondition_failed events = %d, want 1", got)
	}
	if got := te.events.count(EventExecutionError); got != 1 {
		t.Errorf("execution_error events = %d, want 1", got)
	}
}

func TestExecuteConfig_WarningPreconditionContinues(t *testing.T) {
	te := newTestEngine(t)
	te.provider.set(func(s *vehicle.Snapshot) { s.Temperature = -30 })

	cfg := testConfig(actionStep(action.KindOpen))
	cfg.Preconditions = []Precondition{{
		Condition: condition.Condition{Type: condition.TypeTemperature, Operator: condition.OpGreater, Value: -20},
		OnFail:    OnFailWarn,
	}}

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	if err != nil {
		t.Fatalf("ExecuteConfig() error = %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", exec.Status)
	}
	if got := te.events.count(EventPreconditionFailed); got != 1 {
		t.Errorf("precondition_failed events = %d, want 1", got)
	}
}

// ─── Steps ──────────────────────────────────────────────────────────────────

func TestExecuteConfig_RunsStepsInOrder(t *testing.T) {
	te := newTestEngine(t)
	cfg := testConfig(
		actionStep(action.KindOpen),
		Step{Type: StepWait, DurationMS: 10},
		Step{Type: StepCondition, Condition: &condition.Condition{Type: condition.TypeSystemReady, Operator: condition.OpEqual, Value: true}},
		actionStep(action.KindClose),
	)

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{Type: "manual", Source: "test"})
	if err != nil {
		t.Fatalf("ExecuteConfig() error = %v", err)
	}

	want := []action.Kind{action.KindOpen, action.KindClose, action.KindUpdateStatus}
	got := te.runner.kinds()
	if len(got) != len(want) {
		t.Fatalf("runner calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if exec.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", exec.Status)
	}
	if exec.StepsCompleted != 4 || exec.StepsFailed != 0 {
		t.Errorf("completed/failed = %d/%d, want 4/0", exec.StepsCompleted, exec.StepsFailed)
	}
	if exec.TriggerSource == nil || *exec.TriggerSource != "test" {
		t.Errorf("TriggerSource = %v, want test", exec.TriggerSource)
	}
	if starts, stops := te.monitors.counts(); starts != 1 || stops != 1 {
		t.Errorf("monitor starts/stops = %d/%d, want 1/1", starts, stops)
	}
	if got := te.events.count(EventStepCompleted); got != 4 {
		t.Errorf("step_completed events = %d, want 4", got)
	}
	if got := te.events.count(EventExecutionCompleted); got != 1 {
		t.Errorf("execution_completed events = %d, want 1", got)
	}

	stored, err := te.repo.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("stored Status = %q, want completed", stored.Status)
	}
	if len(te.hub.channels) != 1 || te.hub.channels[0] != "config.executed" {
		t.Errorf("broadcasts = %v, want [config.executed]", te.hub.channels)
	}
}

func TestExecuteConfig_EmergencyStopStepSkipsAwait(t *testing.T) {
	te := newTestEngine(t)
	cfg := testConfig(actionStep(action.KindEmergencyStop))
	cfg.PostActions = nil

	if _, err := te.ExecuteConfig(context.Background(), cfg, Trigger{}); err != nil {
		t.Fatalf("ExecuteConfig() error = %v", err)
	}
	if te.runner.awaits != 0 {
		t.Errorf("AwaitMotion calls = %d, want 0", te.runner.awaits)
	}
}

func TestExecuteConfig_StepFailureStopsRun(t *testing.T) {
	te := newTestEngine(t)
	te.runner.failOn[action.KindOpen] = statemachine.ErrIllegalTransition
	cfg := testConfig(actionStep(action.KindOpen), actionStep(action.KindClose))

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 0 {
		t.Fatalf("ExecuteConfig() error = %v, want *StepError at 0", err)
	}
	if !errors.Is(err, statemachine.ErrIllegalTransition) {
		t.Errorf("error = %v, want wrapping ErrIllegalTransition", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", exec.Status)
	}
	if exec.StepsFailed != 1 || exec.StepsSkipped != 1 {
		t.Errorf("failed/skipped = %d/%d, want 1/1", exec.StepsFailed, exec.StepsSkipped)
	}
	if len(exec.Failures) != 1 || exec.Failures[0].ErrorCode != "ILLEGAL_TRANSITION" {
		t.Errorf("Failures = %+v", exec.Failures)
	}
	for _, k := range te.runner.kinds() {
		if k == action.KindUpdateStatus {
			t.Error("post action ran after failure")
		}
	}
	if starts, stops := te.monitors.counts(); starts != 1 || stops != 1 {
		t.Errorf("monitor starts/stops = %d/%d, want 1/1", starts, stops)
	}
	if got := te.events.count(EventExecutionError); got != 1 {
		t.Errorf("execution_error events = %d, want 1", got)
	}
}

func TestExecuteConfig_ContinueOnErrorIsPartial(t *testing.T) {
	te := newTestEngine(t)
	te.runner.failOn[action.KindOpen] = errors.New("driver hiccup")
	first := actionStep(action.KindOpen)
	first.ContinueOnError = true
	cfg := testConfig(first, actionStep(action.KindClose))

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	if err != nil {
		t.Fatalf("ExecuteConfig() error = %v", err)
	}
	if exec.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", exec.Status)
	}
	if exec.StepsCompleted != 1 || exec.StepsFailed != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", exec.StepsCompleted, exec.StepsFailed)
	}
	calls := te.runner.kinds()
	if calls[len(calls)-1] != action.KindUpdateStatus {
		t.Errorf("post action did not run on partial: %v", calls)
	}
}

func TestExecuteConfig_ConditionStepNotMet(t *testing.T) {
	te := newTestEngine(t)
	cfg := testConfig(Step{
		Type:      StepCondition,
		Condition: &condition.Condition{Type: condition.TypeTailgateState, Operator: condition.OpEqual, Value: "open"},
	})

	_, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	if !errors.Is(err, ErrConditionNotMet) {
		t.Errorf("ExecuteConfig() error = %v, want ErrConditionNotMet", err)
	}
}

func TestExecuteConfig_WaitConditionTimeout(t *testing.T) {
	te := newTestEngine(t)
	cfg := testConfig(Step{
		Type:      StepWait,
		Condition: &condition.Condition{Type: condition.TypeObstacleDetected, Operator: condition.OpEqual, Value: true},
		TimeoutMS: 50,
	})

	start := time.Now()
	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	if !errors.Is(err, condition.ErrConditionTimeout) {
		t.Fatalf("ExecuteConfig() error = %v, want ErrConditionTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, want >= 50ms", elapsed)
	}
	if exec.Failures[0].ErrorCode != "CONDITION_TIMEOUT" {
		t.Errorf("ErrorCode = %q, want CONDITION_TIMEOUT", exec.Failures[0].ErrorCode)
	}
}

func TestExecuteConfig_EmergencyDuringStep(t *testing.T) {
	te := newTestEngine(t)
	te.state.s = statemachine.StateEmergencyStop
	step := actionStep(action.KindOpen)
	step.ContinueOnError = true
	cfg := testConfig(step, actionStep(action.KindClose))

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	if !errors.Is(err, ErrEmergencyStopped) {
		t.Fatalf("ExecuteConfig() error = %v, want ErrEmergencyStopped", err)
	}
	if exec.StepsSkipped != 1 {
		t.Errorf("StepsSkipped = %d, want 1 (continue_on_error ignored)", exec.StepsSkipped)
	}
}

// ─── Control ────────────────────────────────────────────────────────────────

func TestExecuteConfig_SingleFlightAndStop(t *testing.T) {
	te := newTestEngine(t)
	long := testConfig(Step{Type: StepWait, DurationMS: 5000})

	type outcome struct {
		exec *Execution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		exec, err := te.ExecuteConfig(context.Background(), long, Trigger{})
		done <- outcome{exec, err}
	}()
	waitFor(t, "execution to start", te.IsRunning)

	if _, err := te.ExecuteConfig(context.Background(), testConfig(actionStep(action.KindOpen)), Trigger{}); !errors.Is(err, ErrExecutionAlreadyRunning) {
		t.Errorf("second ExecuteConfig() error = %v, want ErrExecutionAlreadyRunning", err)
	}

	if err := te.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case out := <-done:
		if !errors.Is(out.err, ErrExecutionStopped) {
			t.Errorf("error = %v, want ErrExecutionStopped", out.err)
		}
		if out.exec.Status != StatusStopped {
			t.Errorf("Status = %q, want stopped", out.exec.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the wait step")
	}

	if te.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
	if _, stops := te.monitors.counts(); stops != 1 {
		t.Errorf("monitor stops = %d, want 1", stops)
	}
}

func TestPauseResume_HoldsAtStepBoundary(t *testing.T) {
	te := newTestEngine(t)
	te.provider.set(func(s *vehicle.Snapshot) { s.SystemReady = false })

	cfg := testConfig(
		Step{Type: StepWait, Condition: &condition.Condition{Type: condition.TypeSystemReady, Operator: condition.OpEqual, Value: true}, TimeoutMS: 2000},
		actionStep(action.KindOpen),
	)
	cfg.PostActions = nil

	done := make(chan error, 1)
	go func() {
		_, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
		done <- err
	}()
	waitFor(t, "execution to start", te.IsRunning)

	if err := te.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	te.provider.set(func(s *vehicle.Snapshot) { s.SystemReady = true })
	time.Sleep(50 * time.Millisecond)

	if calls := te.runner.kinds(); len(calls) != 0 {
		t.Fatalf("runner calls while paused = %v, want none", calls)
	}
	if !te.IsPaused() {
		t.Error("IsPaused() = false")
	}

	if err := te.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("ExecuteConfig() error = %v", err)
	}
	if calls := te.runner.kinds(); len(calls) != 1 || calls[0] != action.KindOpen {
		t.Errorf("runner calls = %v, want [open]", calls)
	}
	if te.events.count(EventExecutionPaused) != 1 || te.events.count(EventExecutionResumed) != 1 {
		t.Error("missing pause/resume events")
	}
}

func TestMonitorAbort(t *testing.T) {
	te := newTestEngine(t)
	te.monitors.abortOnStart = true
	cfg := testConfig(Step{Type: StepWait, DurationMS: 5000}, actionStep(action.KindOpen))

	exec, err := te.ExecuteConfig(context.Background(), cfg, Trigger{})
	if !errors.Is(err, ErrExecutionAborted) {
		t.Fatalf("ExecuteConfig() error = %v, want ErrExecutionAborted", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", exec.Status)
	}
	if calls := te.runner.kinds(); len(calls) != 0 {
		t.Errorf("runner calls = %v, want none", calls)
	}
	if _, stops := te.monitors.counts(); stops != 1 {
		t.Errorf("monitor stops = %d, want 1", stops)
	}
}

func TestControl_NotRunning(t *testing.T) {
	te := newTestEngine(t)
	for name, fn := range map[string]func() error{"Stop": te.Stop, "Pause": te.Pause, "Resume": te.Resume} {
		if err := fn(); !errors.Is(err, ErrNotRunning) {
			t.Errorf("%s() error = %v, want ErrNotRunning", name, err)
		}
	}
}

// ─── History ────────────────────────────────────────────────────────────────

func TestExecutions_BoundedNewestFirst(t *testing.T) {
	te := newTestEngine(t, func(d *EngineDeps) { d.HistorySize = 2 })

	var ids []string
	for range 3 {
		exec, err := te.ExecuteConfig(context.Background(), testConfig(actionStep(action.KindOpen)), Trigger{})
		if err != nil {
			t.Fatalf("ExecuteConfig() error = %v", err)
		}
		ids = append(ids, exec.ID)
	}

	got := te.Executions(0)
	if len(got) != 2 {
		t.Fatalf("Executions() len = %d, want 2", len(got))
	}
	if got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Errorf("Executions() = [%s %s], want [%s %s]", got[0].ID, got[1].ID, ids[2], ids[1])
	}

	// Evicted from memory, still found in the repository.
	old, err := te.Execution(context.Background(), ids[0])
	if err != nil || old.ID != ids[0] {
		t.Errorf("Execution(%s) = %v, %v", ids[0], old, err)
	}
}

func TestExecute_ByID(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	if _, err := te.Execute(ctx, "missing", Trigger{}); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Execute(missing) error = %v, want ErrConfigNotFound", err)
	}

	if err := te.library.Add(ctx, testConfig(actionStep(action.KindOpen))); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	exec, err := te.Execute(ctx, "test-config", Trigger{Type: "manual"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if exec.ConfigID != "test-config" || exec.ConfigName != "Test Config" {
		t.Errorf("exec = %+v", exec)
	}
}
