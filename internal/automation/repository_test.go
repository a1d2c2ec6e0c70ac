package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/condition"
)

// setupTestDB creates an in-memory SQLite database with the configs schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)

	// Matches migrations/20260301_120000_configs.up.sql
	schema := `
		CREATE TABLE configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			category TEXT,
			tags TEXT,
			definition TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE config_executions (
			id TEXT PRIMARY KEY,
			config_id TEXT NOT NULL,
			config_name TEXT NOT NULL,
			triggered_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			trigger_type TEXT NOT NULL DEFAULT 'manual',
			trigger_source TEXT,
			status TEXT NOT NULL,
			steps_total INTEGER NOT NULL DEFAULT 0,
			steps_completed INTEGER NOT NULL DEFAULT 0,
			steps_failed INTEGER NOT NULL DEFAULT 0,
			steps_skipped INTEGER NOT NULL DEFAULT 0,
			failures TEXT,
			error TEXT,
			duration_ms INTEGER
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Config CRUD ────────────────────────────────────────────────────────────

func TestSQLiteRepository_ConfigRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := validConfig()
	cfg.Description = "round trip"
	cfg.Category = CategoryDemo
	cfg.Tags = []string{"one", "two"}
	cfg.PostActions = []action.Action{{Kind: action.KindUpdateStatus, Params: action.Params{"message": "ok"}}}

	if err := repo.Create(ctx, cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if cfg.CreatedAt.IsZero() || cfg.UpdatedAt.IsZero() {
		t.Error("Create() did not stamp timestamps")
	}

	got, err := repo.GetByID(ctx, "valid")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Valid" || got.Description != "round trip" || got.Category != CategoryDemo {
		t.Errorf("GetByID() = %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "two" {
		t.Errorf("Tags = %v, want [one two]", got.Tags)
	}
	if len(got.Steps) != 3 || got.Steps[0].Action != action.KindMoveToAngle {
		t.Fatalf("Steps = %+v", got.Steps)
	}
	if got.Steps[0].Params["angle"] != 45.0 {
		t.Errorf("Params[angle] = %v, want 45", got.Steps[0].Params["angle"])
	}
	if got.Steps[2].Condition == nil || got.Steps[2].Condition.Type != condition.TypeTailgateAngle {
		t.Errorf("Steps[2].Condition = %+v", got.Steps[2].Condition)
	}
	if len(got.Preconditions) != 1 || got.Preconditions[0].Type != condition.TypeVehicleSpeed {
		t.Errorf("Preconditions = %+v", got.Preconditions)
	}
	if len(got.Monitors) != 1 || got.Monitors[0].ID != "speed" {
		t.Errorf("Monitors = %+v", got.Monitors)
	}
	if err := ValidateConfig(got); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, validConfig()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, validConfig()); !errors.Is(err, ErrConfigExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrConfigExists", err)
	}
}

func TestSQLiteRepository_UpdateDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	cfg := validConfig()
	if err := repo.Create(ctx, cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cfg.Name = "Renamed"
	if err := repo.Update(ctx, cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, cfg.ID)
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}

	missing := validConfig()
	missing.ID = "missing"
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrConfigNotFound", err)
	}

	if err := repo.Delete(ctx, cfg.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, cfg.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrConfigNotFound", err)
	}
	if err := repo.Delete(ctx, cfg.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Delete(deleted) error = %v, want ErrConfigNotFound", err)
	}
}

func TestSQLiteRepository_ListOrdered(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"Zulu", "Alpha", "Mike"} {
		cfg := validConfig()
		cfg.ID = GenerateSlug(name)
		cfg.Name = name
		if err := repo.Create(ctx, cfg); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	configs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(configs) != 3 || configs[0].Name != "Alpha" || configs[2].Name != "Zulu" {
		t.Errorf("List() order = %v", []string{configs[0].Name, configs[1].Name, configs[2].Name})
	}
}

// ─── Execution Log ──────────────────────────────────────────────────────────

func TestSQLiteRepository_ExecutionLifecycle(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	started := time.Now().UTC()
	source := "api"
	exec := &Execution{
		ID:            GenerateID(),
		ConfigID:      "valid",
		ConfigName:    "Valid",
		TriggeredAt:   started,
		StartedAt:     &started,
		TriggerType:   "manual",
		TriggerSource: &source,
		Status:        StatusRunning,
		StepsTotal:    3,
	}
	if err := repo.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	completed := started.Add(1500 * time.Millisecond)
	duration := 1500
	exec.CompletedAt = &completed
	exec.DurationMS = &duration
	exec.Status = StatusFailed
	exec.StepsCompleted = 1
	exec.StepsFailed = 1
	exec.StepsSkipped = 1
	exec.Error = "step 1 (action open): boom"
	exec.Failures = []StepFailure{{StepIndex: 1, StepType: StepAction, Action: action.KindOpen, ErrorCode: "EXECUTION_FAILED", ErrorMsg: "boom"}}
	if err := repo.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}

	got, err := repo.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != StatusFailed || got.StepsFailed != 1 || got.Error != exec.Error {
		t.Errorf("GetExecution() = %+v", got)
	}
	if got.TriggerSource == nil || *got.TriggerSource != "api" {
		t.Errorf("TriggerSource = %v, want api", got.TriggerSource)
	}
	if got.DurationMS == nil || *got.DurationMS != 1500 {
		t.Errorf("DurationMS = %v, want 1500", got.DurationMS)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if len(got.Failures) != 1 || got.Failures[0].Action != action.KindOpen {
		t.Errorf("Failures = %+v", got.Failures)
	}

	if _, err := repo.GetExecution(ctx, "nope"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("GetExecution(nope) error = %v, want ErrExecutionNotFound", err)
	}
	missing := *exec
	missing.ID = "nope"
	if err := repo.UpdateExecution(ctx, &missing); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("UpdateExecution(nope) error = %v, want ErrExecutionNotFound", err)
	}
}

func TestSQLiteRepository_ListExecutions(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC()
	for i, cfgID := range []string{"a", "b", "a", "a"} {
		exec := &Execution{
			ID:          GenerateID(),
			ConfigID:    cfgID,
			ConfigName:  cfgID,
			TriggeredAt: base.Add(time.Duration(i) * time.Millisecond),
			TriggerType: "manual",
			Status:      StatusCompleted,
		}
		if err := repo.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution() error = %v", err)
		}
	}

	all, err := repo.ListExecutions(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListExecutions(all) len = %d, want 4", len(all))
	}
	if !all[0].TriggeredAt.After(all[3].TriggeredAt) {
		t.Error("ListExecutions() not newest first")
	}

	onlyA, _ := repo.ListExecutions(ctx, "a", 2)
	if len(onlyA) != 2 {
		t.Errorf("ListExecutions(a, 2) len = %d, want 2", len(onlyA))
	}
	for _, e := range onlyA {
		if e.ConfigID != "a" {
			t.Errorf("ConfigID = %q, want a", e.ConfigID)
		}
	}
}

// ─── Memory Repository ──────────────────────────────────────────────────────

func TestMemoryRepository_MatchesContract(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	cfg := validConfig()
	if err := repo.Create(ctx, cfg); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, validConfig()); !errors.Is(err, ErrConfigExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrConfigExists", err)
	}

	got, _ := repo.GetByID(ctx, cfg.ID)
	got.Steps[0].Params["angle"] = 1.0
	again, _ := repo.GetByID(ctx, cfg.ID)
	if again.Steps[0].Params["angle"] != 45.0 {
		t.Error("GetByID() returned shared state")
	}

	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrConfigNotFound", err)
	}

	for i := range 3 {
		exec := &Execution{ID: GenerateID(), ConfigID: cfg.ID, StepsTotal: i}
		if err := repo.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution() error = %v", err)
		}
	}
	recent, _ := repo.ListExecutions(ctx, cfg.ID, 2)
	if len(recent) != 2 || recent[0].StepsTotal != 2 {
		t.Errorf("ListExecutions() = %+v, want newest two", recent)
	}
}
