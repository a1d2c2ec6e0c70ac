package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/actuator"
	"github.com/nerrad567/tailgate-core/internal/automation"
	"github.com/nerrad567/tailgate-core/internal/condition"
	"github.com/nerrad567/tailgate-core/internal/controller"
	"github.com/nerrad567/tailgate-core/internal/history"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/config"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/database"
	"github.com/nerrad567/tailgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/tailgate-core/internal/metrics"
	"github.com/nerrad567/tailgate-core/internal/orchestrator"
	"github.com/nerrad567/tailgate-core/internal/statemachine"
	"github.com/nerrad567/tailgate-core/internal/vehicle"
	_ "github.com/nerrad567/tailgate-core/migrations"
)

// rig holds the control core behind a test server.
type rig struct {
	machine *statemachine.Machine
	sim     *actuator.Simulator
	store   *vehicle.Store
	library *automation.Library
	engine  *automation.Engine
	orch    *orchestrator.Orchestrator
}

// testServer creates a Server over a real machine, simulator, store,
// controller, config engine and orchestrator. The simulator runs at
// 900 deg/s so a full open takes about 100ms.
func testServer(t *testing.T, opts ...func(*Deps)) (*Server, *rig) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	machine, err := statemachine.New(statemachine.WithInitialState(statemachine.StateClosed))
	if err != nil {
		t.Fatalf("statemachine.New: %v", err)
	}
	sim := actuator.NewSimulator(actuator.SimulatorConfig{FullSpeed: 900, Tick: 2 * time.Millisecond})
	t.Cleanup(sim.Close)

	store := vehicle.NewStore(vehicle.DefaultSensors())
	store.Bind(sim, machine)

	executor := action.NewExecutor(machine, sim, action.WithPollInterval(2*time.Millisecond))
	evaluator := condition.NewEvaluator(store, condition.WithInterval(2*time.Millisecond))

	ctrl := controller.New(controller.Deps{
		VehicleID: "van-1",
		Machine:   machine,
		Executor:  executor,
		Store:     store,
		Evaluator: evaluator,
	})
	ctrl.Start()
	t.Cleanup(ctrl.Close)

	library := automation.NewLibrary(automation.NewMemoryRepository())
	engine := automation.NewEngine(automation.EngineDeps{
		Library:      library,
		Executor:     executor,
		Evaluator:    evaluator,
		State:        machine,
		PollInterval: 2 * time.Millisecond,
	})
	orch := orchestrator.New(executor,
		orchestrator.WithEngine(engine),
		orchestrator.WithPollInterval(2*time.Millisecond),
	)

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:       log,
		VehicleID:    "van-1",
		Machine:      machine,
		Controller:   ctrl,
		Executor:     executor,
		Store:        store,
		Library:      library,
		Engine:       engine,
		Orchestrator: orch,
		Version:      "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // test cleanup

	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, &rig{
		machine: machine,
		sim:     sim,
		store:   store,
		library: library,
		engine:  engine,
		orch:    orch,
	}
}

// do sends a request through the router and returns the recorder.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ─── Constructor Tests ─────────────────────────────────────────────

func TestNew_RequiresCore(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if _, err := New(Deps{}); err == nil {
		t.Error("New(empty) should fail without a logger")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() should fail without a state machine")
	}
}

// ─── Health Tests ──────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["vehicle_id"] != "van-1" {
		t.Errorf("vehicle_id = %v, want van-1", resp["vehicle_id"])
	}
	if resp["state"] != string(statemachine.StateClosed) {
		t.Errorf("state = %v, want closed", resp["state"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestHealth_DatabaseCheck(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	srv, _ := testServer(t, func(d *Deps) { d.DB = db })
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	checks, _ := decode(t, w)["checks"].(map[string]any)
	if checks["database"] != "ok" {
		t.Errorf("checks.database = %v, want ok", checks["database"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRequestSource_ClientID(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		header string
		want   string
	}{
		{"", "api"},
		{"dashboard", "api:dashboard"},
		{"Key-Fob", "api:key-fob"},
		{"no spaces allowed", "api"},
		{strings.Repeat("x", 40), "api"},
	}

	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.header, func(t *testing.T) {
			var got string
			h := srv.requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = requestSource(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
			if tt.header != "" {
				req.Header.Set("X-Client-ID", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("requestSource() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://dash.local"}
	})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── State Tests ───────────────────────────────────────────────────

func TestGetState(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp stateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.State != statemachine.StateClosed {
		t.Errorf("state = %q, want closed", resp.State)
	}
	if resp.IsMoving {
		t.Error("is_moving = true, want false")
	}
	if resp.Actuator == nil {
		t.Fatal("actuator status missing")
	}
	if len(resp.Allowed) == 0 {
		t.Error("allowed_transitions is empty")
	}
}

func TestStateHistory_Memory(t *testing.T) {
	srv, r := testServer(t)
	r.machine.Transition(statemachine.StateOpening, "test")
	r.machine.Transition(statemachine.StatePaused, "test")

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/state/history?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode(t, w)
	if resp["source"] != "memory" {
		t.Errorf("source = %v, want memory", resp["source"])
	}
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestStateHistory_BadLimit(t *testing.T) {
	srv, _ := testServer(t)

	for _, q := range []string{"limit=abc", "limit=-1", "source=disk"} {
		w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/state/history?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestStateHistory_PersistedUnavailable(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/state/history?source=persisted", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestStateHistory_Persisted(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := history.NewSQLiteRepository(db.DB)

	srv, r := testServer(t, func(d *Deps) { d.History = repo })
	t.Cleanup(history.NewRecorder(repo, "van-1", nil).Attach(r.machine))

	r.machine.Transition(statemachine.StateOpening, "test")

	router := srv.buildRouter()
	var resp map[string]any
	waitFor(t, "persisted transition", func() bool {
		resp = decode(t, do(t, router, http.MethodGet, "/api/v1/state/history?source=persisted", ""))
		return resp["count"] == float64(1)
	})

	entries, _ := resp["transitions"].([]any)
	first, _ := entries[0].(map[string]any)
	if first["to"] != string(statemachine.StateOpening) {
		t.Errorf("to = %v, want opening", first["to"])
	}
}

func TestTransitionTable(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/state/transitions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), string(statemachine.StateEmergencyStop)) {
		t.Error("transition table does not mention emergency_stop")
	}
}

// ─── Vehicle Tests ─────────────────────────────────────────────────

func TestSetSensor(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPut, "/api/v1/vehicle/sensors/vehicle_speed", `{"value": 12.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if got := r.store.Sensors().VehicleSpeed; got != 12.5 {
		t.Errorf("VehicleSpeed = %v, want 12.5", got)
	}
}

func TestSetSensor_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown sensor", "/api/v1/vehicle/sensors/humidity", `{"value": 3}`, http.StatusBadRequest},
		{"bad bool", "/api/v1/vehicle/sensors/obstacle_detected", `{"value": "maybe"}`, http.StatusBadRequest},
		{"missing value", "/api/v1/vehicle/sensors/temperature", `{}`, http.StatusBadRequest},
		{"bad json", "/api/v1/vehicle/sensors/temperature", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSetSensors_Batch(t *testing.T) {
	srv, r := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/vehicle/sensors",
		`{"obstacle_detected": true, "temperature": -5, "system_ready": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	s := r.store.Sensors()
	if !s.ObstacleDetected {
		t.Error("ObstacleDetected = false, want true")
	}
	if s.Temperature != -5 {
		t.Errorf("Temperature = %v, want -5", s.Temperature)
	}
	if r.store.Snapshot().SystemReady {
		t.Error("SystemReady = true, want false")
	}
}

func TestFaults_RaiseAndClear(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/vehicle/faults", `{"kind": "motor", "message": "overcurrent"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("raise status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	if n := len(r.store.Faults()); n != 1 {
		t.Fatalf("faults = %d, want 1", n)
	}

	w = do(t, router, http.MethodGet, "/api/v1/vehicle/faults", "")
	if decode(t, w)["count"] != float64(1) {
		t.Errorf("listed faults = %v, want 1", decode(t, w)["count"])
	}

	w = do(t, router, http.MethodDelete, "/api/v1/vehicle/faults/motor", "")
	if w.Code != http.StatusOK {
		t.Errorf("clear status = %d, want 200", w.Code)
	}

	w = do(t, router, http.MethodDelete, "/api/v1/vehicle/faults/motor", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second clear status = %d, want 404", w.Code)
	}
}

func TestFaults_UnknownKind(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/vehicle/faults", `{"kind": "gremlins"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFaults_ClearAll(t *testing.T) {
	srv, r := testServer(t)
	r.store.RaiseFault(vehicle.FaultMotor, "a")
	r.store.RaiseFault(vehicle.FaultSensor, "b")

	w := do(t, srv.buildRouter(), http.MethodDelete, "/api/v1/vehicle/faults", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["cleared"]; got != float64(2) {
		t.Errorf("cleared = %v, want 2", got)
	}
}

// ─── Action Tests ──────────────────────────────────────────────────

func TestListActions(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/actions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	actions, _ := decode(t, w)["actions"].([]any)
	if len(actions) != len(action.AllKinds()) {
		t.Errorf("actions = %d, want %d", len(actions), len(action.AllKinds()))
	}
}

func TestRunAction_OpenAndWait(t *testing.T) {
	srv, r := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/actions", `{"action": "open", "wait": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
	waitFor(t, "open", func() bool { return r.machine.Is(statemachine.StateOpen) })
}

func TestRunAction_Unsafe(t *testing.T) {
	srv, r := testServer(t)
	r.store.SetVehicleSpeed(30)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/actions", `{"action": "open"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}

	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if apiErr.Code != ErrCodeUnsafe {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeUnsafe)
	}
	if !r.machine.Is(statemachine.StateClosed) {
		t.Errorf("state = %s, want closed", r.machine.Current())
	}
}

func TestRunAction_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
	}{
		{"unknown action", `{"action": "fly"}`},
		{"bad json", `not json`},
		{"negative timeout", `{"action": "open", "timeout_ms": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/api/v1/actions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSafety(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()

	if resp := decode(t, do(t, router, http.MethodGet, "/api/v1/actions/safety", "")); resp["safe"] != true {
		t.Errorf("safe = %v, want true", resp["safe"])
	}

	r.store.SetObstacle(true, 10)
	resp := decode(t, do(t, router, http.MethodGet, "/api/v1/actions/safety", ""))
	if resp["safe"] != false {
		t.Errorf("safe = %v, want false", resp["safe"])
	}
	if resp["reason"] == nil {
		t.Error("reason missing for unsafe vehicle")
	}
}

func TestEmergencyStop_AndReset(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/actions/emergency-stop", `{"reason": "test"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if !r.machine.Is(statemachine.StateEmergencyStop) {
		t.Fatalf("state = %s, want emergency_stop", r.machine.Current())
	}

	// Blocked while a fault is active.
	r.store.RaiseFault(vehicle.FaultHardware, "relay")
	w = do(t, router, http.MethodPost, "/api/v1/actions/emergency-stop/reset", "")
	if w.Code != http.StatusConflict {
		t.Errorf("reset with fault status = %d, want 409", w.Code)
	}

	r.store.ClearAllFaults()
	w = do(t, router, http.MethodPost, "/api/v1/actions/emergency-stop/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if !r.machine.Is(statemachine.StateIdle) {
		t.Errorf("state = %s, want idle", r.machine.Current())
	}
}

func TestResetEmergencyStop_NotStopped(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/actions/emergency-stop/reset", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestEmergencyStop_ReasonTooLong(t *testing.T) {
	srv, _ := testServer(t)

	body := fmt.Sprintf(`{"reason": %q}`, strings.Repeat("x", maxQueryParamLen+1))
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/actions/emergency-stop", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ─── Config Library Tests ──────────────────────────────────────────

const waitConfig = `{
	"id": "short-wait",
	"name": "Short Wait",
	"category": "diagnostics",
	"tags": ["test"],
	"steps": [{"type": "wait", "name": "pause", "duration_ms": 10}]
}`

func TestConfigs_CRUD(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/configs", waitConfig)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (%s)", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/api/v1/configs", waitConfig)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodGet, "/api/v1/configs/short-wait", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["name"]; got != "Short Wait" {
		t.Errorf("name = %v, want Short Wait", got)
	}

	updated := strings.Replace(waitConfig, `"Short Wait"`, `"Renamed"`, 1)
	w = do(t, router, http.MethodPut, "/api/v1/configs/short-wait", updated)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if got := decode(t, w)["name"]; got != "Renamed" {
		t.Errorf("updated name = %v, want Renamed", got)
	}

	w = do(t, router, http.MethodDelete, "/api/v1/configs/short-wait", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}

	w = do(t, router, http.MethodGet, "/api/v1/configs/short-wait", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestConfigs_CreateInvalid(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/configs", `{"id": "empty", "name": "Empty", "steps": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestConfigs_UpdateMissing(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/configs/ghost", waitConfig)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConfigs_ListFilters(t *testing.T) {
	srv, r := testServer(t)
	ctx := context.Background()
	for _, cfg := range automation.DefaultConfigs(0) {
		c := cfg
		if err := r.library.Add(ctx, &c); err != nil {
			t.Fatalf("Add(%s): %v", c.ID, err)
		}
	}
	router := srv.buildRouter()

	all := decode(t, do(t, router, http.MethodGet, "/api/v1/configs", ""))
	if all["count"] != float64(len(automation.DefaultConfigs(0))) {
		t.Errorf("count = %v, want %d", all["count"], len(automation.DefaultConfigs(0)))
	}

	demo := decode(t, do(t, router, http.MethodGet, "/api/v1/configs?category=demo", ""))
	if demo["count"] != float64(1) {
		t.Errorf("demo count = %v, want 1", demo["count"])
	}

	search := decode(t, do(t, router, http.MethodGet, "/api/v1/configs?q=garage", ""))
	if search["count"] != float64(1) {
		t.Errorf("search count = %v, want 1", search["count"])
	}
}

func TestConfigs_ExportImport(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()

	if w := do(t, router, http.MethodPost, "/api/v1/configs", waitConfig); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := do(t, router, http.MethodGet, "/api/v1/configs/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}
	exported := w.Body.String()

	// Re-importing without overwrite skips the existing ID.
	w = do(t, router, http.MethodPost, "/api/v1/configs/import", exported)
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	if err := r.library.Remove(context.Background(), "short-wait"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	w = do(t, router, http.MethodPost, "/api/v1/configs/import?overwrite=true", exported)
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, want 200", w.Code)
	}
	if r.library.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.library.Count())
	}
}

func TestConfigs_ImportMalformed(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/configs/import", `[{"id": `)
	if w.Code == http.StatusOK {
		t.Errorf("status = %d, want an error", w.Code)
	}
}

func TestExecuteConfig_Wait(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()
	if w := do(t, router, http.MethodPost, "/api/v1/configs", waitConfig); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := do(t, router, http.MethodPost, "/api/v1/configs/short-wait/execute?wait=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("execute status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["status"] != string(automation.StatusCompleted) {
		t.Errorf("status = %v, want completed", resp["status"])
	}
	if resp["trigger_type"] != "manual" {
		t.Errorf("trigger_type = %v, want manual", resp["trigger_type"])
	}

	id, _ := resp["id"].(string)
	w = do(t, router, http.MethodGet, "/api/v1/engine/executions/"+id, "")
	if w.Code != http.StatusOK {
		t.Errorf("get execution status = %d, want 200", w.Code)
	}
}

func TestExecuteConfig_Async(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()
	if w := do(t, router, http.MethodPost, "/api/v1/configs", waitConfig); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := do(t, router, http.MethodPost, "/api/v1/configs/short-wait/execute", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("execute status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	if id := decode(t, w)["execution_id"]; id == "" || id == nil {
		t.Error("execution_id missing")
	}

	waitFor(t, "execution to finish", func() bool {
		return !r.engine.IsRunning() && len(r.engine.Executions(1)) == 1
	})
}

func TestExecuteConfig_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/configs/ghost/execute", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Engine Tests ──────────────────────────────────────────────────

func TestEngine_Status(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/engine", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["running"]; got != false {
		t.Errorf("running = %v, want false", got)
	}
}

func TestEngine_StopWhenIdle(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	for _, path := range []string{"/api/v1/engine/stop", "/api/v1/engine/pause", "/api/v1/engine/resume"} {
		if w := do(t, router, http.MethodPost, path, ""); w.Code != http.StatusConflict {
			t.Errorf("%s status = %d, want 409", path, w.Code)
		}
	}
}

func TestEngine_Unavailable(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Engine = nil
		d.Library = nil
		d.Orchestrator = nil
	})
	router := srv.buildRouter()

	for _, path := range []string{"/api/v1/engine", "/api/v1/configs", "/api/v1/sequence"} {
		if w := do(t, router, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestEngine_ExecutionNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/engine/executions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Sequence Tests ────────────────────────────────────────────────

func TestSequence_EnqueueAndClear(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/sequence/queue", `{"actions": [{"action": "open"}, {"action": "close"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("enqueue status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if n := len(r.orch.Queue()); n != 2 {
		t.Errorf("queue = %d, want 2", n)
	}

	w = do(t, router, http.MethodDelete, "/api/v1/sequence/queue", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", w.Code)
	}
	if n := len(r.orch.Queue()); n != 0 {
		t.Errorf("queue after clear = %d, want 0", n)
	}
}

func TestSequence_StartEmptyQueue(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/sequence/start", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

// sequenceDone returns a channel that receives the first terminal
// sequence event.
func sequenceDone(t *testing.T, o *orchestrator.Orchestrator) <-chan orchestrator.Event {
	t.Helper()
	done := make(chan orchestrator.Event, 1)
	t.Cleanup(o.Subscribe(func(ev orchestrator.Event) {
		switch ev.Type {
		case orchestrator.EventSequenceCompleted, orchestrator.EventSequenceError,
			orchestrator.EventSequenceStopped, orchestrator.EventSequenceRejected:
			select {
			case done <- ev:
			default:
			}
		}
	}))
	return done
}

func awaitSequence(t *testing.T, done <-chan orchestrator.Event) orchestrator.Event {
	t.Helper()
	select {
	case ev := <-done:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("sequence did not finish")
		return orchestrator.Event{}
	}
}

func TestSequence_StartRunsToCompletion(t *testing.T) {
	srv, r := testServer(t)
	done := sequenceDone(t, r.orch)

	body := `{"name": "api-cycle", "actions": [{"action": "open"}, {"action": "close"}]}`
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/sequence/start", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}

	if ev := awaitSequence(t, done); ev.Type != orchestrator.EventSequenceCompleted {
		t.Fatalf("sequence ended with %s: %s", ev.Type, ev.Message)
	}
	if !r.machine.Is(statemachine.StateClosed) {
		t.Errorf("state = %s, want closed", r.machine.Current())
	}
}

func TestSequence_QueueFrozenWhileRunning(t *testing.T) {
	srv, r := testServer(t)
	router := srv.buildRouter()
	done := sequenceDone(t, r.orch)

	w := do(t, router, http.MethodPost, "/api/v1/sequence/start",
		`{"name": "long-wait", "actions": [{"action": "wait", "params": {"duration": 60000}}]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	waitFor(t, "sequence to run", r.orch.IsExecuting)

	w = do(t, router, http.MethodPost, "/api/v1/sequence/start", `{"name": "second", "actions": [{"action": "open"}, {"action": "close"}]}`)
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/api/v1/sequence/queue", `{"actions": [{"action": "open"}]}`)
	if w.Code != http.StatusConflict {
		t.Errorf("enqueue status = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/api/v1/sequence/queue", "")
	if w.Code != http.StatusConflict {
		t.Errorf("clear status = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/api/v1/scenarios/full-cycle/run", "")
	if w.Code != http.StatusConflict {
		t.Errorf("scenario run status = %d, want 409", w.Code)
	}

	q := r.orch.Queue()
	if len(q) != 1 || q[0].Kind != action.KindWait {
		t.Errorf("queue = %+v, want the running wait action only", q)
	}
	if st := r.orch.Status(); st.CurrentSequence != "long-wait" {
		t.Errorf("CurrentSequence = %q, want long-wait", st.CurrentSequence)
	}

	if err := r.orch.StopSequence(); err != nil {
		t.Fatalf("StopSequence() error = %v", err)
	}
	if ev := awaitSequence(t, done); ev.Type != orchestrator.EventSequenceStopped {
		t.Errorf("sequence ended with %s, want %s", ev.Type, orchestrator.EventSequenceStopped)
	}
}

func TestSequence_RecoverUnavailable(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/sequence/start", `{"recover": true, "actions": [{"action": "open"}]}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSequence_ControlWhenIdle(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/sequence/pause", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestSequence_Parallel(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"actions": [{"action": "updateStatus", "params": {"message": "a"}}, {"action": "updateStatus", "params": {"message": "b"}}]}`
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/sequence/parallel", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	if resp["success"] != true {
		t.Errorf("success = %v, want true (%v)", resp["success"], resp["error"])
	}
	if results, _ := resp["results"].([]any); len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
}

func TestScenarios_List(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/scenarios", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["count"]; got != float64(len(orchestrator.BuiltinScenarios())) {
		t.Errorf("count = %v, want %d", got, len(orchestrator.BuiltinScenarios()))
	}
}

func TestScenarios_RunUnknown(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/scenarios/moonwalk/run", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestScenarios_RunPartialOpen(t *testing.T) {
	srv, r := testServer(t)
	done := sequenceDone(t, r.orch)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/scenarios/partial-open/run", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	if ev := awaitSequence(t, done); ev.Sequence != "partial-open" {
		t.Errorf("sequence = %q, want partial-open", ev.Sequence)
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestSystemMetrics(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Tailgate.State != statemachine.StateClosed {
		t.Errorf("tailgate.state = %q, want closed", m.Tailgate.State)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	srv, r := testServer(t, func(d *Deps) { d.Gatherer = reg })
	t.Cleanup(collectors.ObserveMachine(r.machine))
	r.machine.Transition(statemachine.StateOpening, "test")

	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tailgate_") {
		t.Error("scrape output has no tailgate_ series")
	}
}

func TestPrometheusEndpoint_NotMounted(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	srv, _ := testServer(t)
	hub := srv.hub

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelState: {}},
	}
	hub.Register(client)
	defer hub.Unregister(client)

	hub.Broadcast(ChannelState, map[string]string{"state": "opening"})

	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent {
			t.Errorf("type = %s, want event", msg.Type)
		}
		if msg.EventType != ChannelState {
			t.Errorf("event_type = %s, want %s", msg.EventType, ChannelState)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	srv, _ := testServer(t)
	hub := srv.hub

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelFault: {}},
	}
	hub.Register(client)
	defer hub.Unregister(client)

	hub.Broadcast(ChannelState, map[string]string{"state": "opening"})

	select {
	case <-client.send:
		t.Error("unsubscribed client received a message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	srv, _ := testServer(t)
	hub := srv.hub

	if hub.ClientCount() != 0 {
		t.Errorf("initial count = %d, want 0", hub.ClientCount())
	}

	c1 := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{}}
	c2 := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize), subscriptions: map[string]struct{}{}}
	hub.Register(c1)
	hub.Register(c2)
	if hub.ClientCount() != 2 {
		t.Errorf("count = %d, want 2", hub.ClientCount())
	}

	hub.Unregister(c1)
	if hub.ClientCount() != 1 {
		t.Errorf("count after unregister = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(c2)
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

// testServerWithRealListener starts a server on port and returns its address.
func testServerWithRealListener(t *testing.T, port int) (*Server, *rig, string) {
	t.Helper()

	srv, r := testServer(t, func(d *Deps) { d.Config.Port = port })
	srv.hub = nil // Start creates and runs its own hub

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	waitFor(t, "server to listen", func() bool {
		resp, err := http.Get("http://" + addr + "/api/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	})
	return srv, r, addr
}

func connectWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v, want response sub-1", resp)
	}
}

// readFrame reads frames until one of type want arrives.
func readFrame(t *testing.T, ws *websocket.Conn, want string) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read %s frame: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _, addr := testServerWithRealListener(t, 19080)

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_HealthCheckNotStarted(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start, want error")
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func TestWebSocket_FullConnection(t *testing.T) {
	srv, _, addr := testServerWithRealListener(t, 19081)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	subscribe(t, ws, ChannelState)

	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19082)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	subscribe(t, ws, ChannelState, ChannelFault)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelFault}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}

	// Snapshots for both channels may arrive first.
	resp := readFrame(t, ws, WSTypeResponse)
	if resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response ID = %s, want unsub-1", resp.ID)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19083)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong {
		t.Errorf("response type = %s, want pong", resp.Type)
	}
	if resp.ID != "ping-1" {
		t.Errorf("response ID = %s, want ping-1", resp.ID)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19084)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}
}

func TestWebSocket_StateRelay(t *testing.T) {
	_, r, addr := testServerWithRealListener(t, 19085)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	subscribe(t, ws, ChannelState)

	snap := readFrame(t, ws, WSTypeSnapshot)
	if snap.EventType != ChannelState {
		t.Errorf("snapshot event_type = %s, want %s", snap.EventType, ChannelState)
	}
	if p, ok := snap.Payload.(map[string]any); !ok || p["state"] != "closed" {
		t.Errorf("snapshot payload = %v, want state closed", snap.Payload)
	}

	r.machine.Transition(statemachine.StateOpening, "relay test")

	msg := readFrame(t, ws, WSTypeEvent)
	if msg.EventType != ChannelState {
		t.Errorf("event_type = %s, want %s", msg.EventType, ChannelState)
	}
	if msg.Seq == 0 {
		t.Error("seq = 0, want a broadcast sequence number")
	}
}

func TestWebSocket_FaultRelay(t *testing.T) {
	_, r, addr := testServerWithRealListener(t, 19086)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	subscribe(t, ws, ChannelFault)
	readFrame(t, ws, WSTypeSnapshot)

	r.store.RaiseFault(vehicle.FaultSensor, "relay test")

	msg := readFrame(t, ws, WSTypeEvent)
	if msg.EventType != ChannelFault {
		t.Errorf("event_type = %s, want %s", msg.EventType, ChannelFault)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19087)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-bad",
		Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	msg := readFrame(t, ws, WSTypeError)
	if msg.ID != "sub-bad" {
		t.Errorf("error ID = %s, want sub-bad", msg.ID)
	}
}

func TestWebSocket_PartialSubscribe(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19088)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-mixed",
		Payload: WSSubscribePayload{Channels: []string{ChannelSequence, "bogus"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readFrame(t, ws, WSTypeResponse)
	payload, ok := resp.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want object", resp.Payload)
	}
	rejected, _ := payload["rejected"].([]any) //nolint:errcheck // checked below
	if len(rejected) != 1 || rejected[0] != "bogus" {
		t.Errorf("rejected = %v, want [bogus]", payload["rejected"])
	}
}

func TestWebSocket_Wildcard(t *testing.T) {
	_, r, addr := testServerWithRealListener(t, 19089)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	subscribe(t, ws, ChannelAll)

	r.store.RaiseFault(vehicle.FaultSensor, "wildcard test")

	// Snapshots for state and faults come first, then the live event.
	deadline := time.Now().Add(2 * time.Second)
	ws.SetReadDeadline(deadline) //nolint:errcheck // test deadline
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("no fault event on wildcard subscription: %v", err)
		}
		if msg.Type == WSTypeEvent && msg.EventType == ChannelFault {
			return
		}
	}
}

// ─── Hub Stats Tests ───────────────────────────────────────────────

func TestHub_StatsCountDrops(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	full := &WSClient{hub: hub, send: make(chan []byte), subscriptions: map[string]struct{}{ChannelState: {}}}
	ok := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]struct{}{ChannelState: {}}}
	hub.Register(full)
	hub.Register(ok)
	defer hub.Unregister(full)
	defer hub.Unregister(ok)

	hub.Broadcast(ChannelState, "a")
	hub.Broadcast(ChannelFault, "ignored")

	stats := hub.Stats()
	if stats.Clients != 2 {
		t.Errorf("Clients = %d, want 2", stats.Clients)
	}
	if stats.Broadcasts != 2 {
		t.Errorf("Broadcasts = %d, want 2", stats.Broadcasts)
	}
	if stats.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", stats.Delivered)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
}

func TestHub_SnapshotRegistry(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	hub.SetSnapshot(ChannelState, func() any { return "closed" })
	if _, ok := hub.snapshot(ChannelState); !ok {
		t.Fatal("snapshot not registered")
	}
	hub.SetSnapshot(ChannelState, nil)
	if _, ok := hub.snapshot(ChannelState); ok {
		t.Error("snapshot still registered after nil")
	}
}

func TestIsChannel(t *testing.T) {
	for _, ch := range Channels() {
		if !IsChannel(ch) {
			t.Errorf("IsChannel(%q) = false", ch)
		}
	}
	if !IsChannel(ChannelAll) {
		t.Error("IsChannel(*) = false")
	}
	if IsChannel("device.state_changed") {
		t.Error("IsChannel(device.state_changed) = true")
	}
}
