package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/tailgate-core/internal/action"
	"github.com/nerrad567/tailgate-core/internal/monitor"
)

// Repository defines the interface for config persistence.
// This abstraction allows different implementations (SQLite, memory)
// and enables unit testing without database dependencies.
type Repository interface {
	// Config CRUD
	GetByID(ctx context.Context, id string) (*Config, error)
	List(ctx context.Context) ([]Config, error)
	Create(ctx context.Context, cfg *Config) error
	Update(ctx context.Context, cfg *Config) error
	Delete(ctx context.Context, id string) error

	// Execution logging
	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, configID string, limit int) ([]Execution, error)
}

// definition is the JSON column holding a config's behaviour.
type definition struct {
	Preconditions []Precondition    `json:"preconditions,omitempty"`
	Steps         []Step            `json:"steps"`
	Monitors      []monitor.Monitor `json:"monitors,omitempty"`
	PostActions   []action.Action   `json:"post_actions,omitempty"`
}

// configColumns is the SELECT column list for config queries.
const configColumns = `id, name, description, category, tags, definition, created_at, updated_at`

// executionColumns is the SELECT column list for execution queries.
const executionColumns = `id, config_id, config_name, triggered_at, started_at, completed_at,
			trigger_type, trigger_source, status, steps_total, steps_completed,
			steps_failed, steps_skipped, failures, error, duration_ms`

// execTimeLayout keeps execution timestamps fixed-width so they sort as text.
const execTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a config by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Config, error) {
	query := `SELECT ` + configColumns + ` FROM configs WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	cfg, err := scanConfigRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("querying config by id: %w", err)
	}
	return cfg, nil
}

// List retrieves all configs ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Config, error) {
	query := `SELECT ` + configColumns + ` FROM configs ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying configs: %w", err)
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		cfg, scanErr := scanConfigRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning config: %w", scanErr)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating configs: %w", err)
	}
	return configs, nil
}

// Create inserts a new config.
func (r *SQLiteRepository) Create(ctx context.Context, cfg *Config) error {
	tags, def, err := marshalConfig(cfg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	query := `
		INSERT INTO configs (
			id, name, description, category, tags, definition, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		nullableString(cfg.Description),
		nullableString(string(cfg.Category)),
		tags,
		def,
		cfg.CreatedAt.Format(time.RFC3339),
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrConfigExists, cfg.ID)
		}
		return fmt.Errorf("inserting config: %w", err)
	}
	return nil
}

// Update modifies an existing config.
func (r *SQLiteRepository) Update(ctx context.Context, cfg *Config) error {
	tags, def, err := marshalConfig(cfg)
	if err != nil {
		return err
	}

	cfg.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE configs SET
			name = ?, description = ?, category = ?, tags = ?, definition = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		cfg.Name,
		nullableString(cfg.Description),
		nullableString(string(cfg.Category)),
		tags,
		def,
		cfg.UpdatedAt.Format(time.RFC3339),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// Delete removes a config by ID. Its execution log is kept.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// CreateExecution inserts a new execution log entry.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *Execution) error {
	failures, err := marshalFailures(exec.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		INSERT INTO config_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.ConfigID,
		exec.ConfigName,
		exec.TriggeredAt.UTC().Format(execTimeLayout),
		nullableTime(exec.StartedAt),
		nullableTime(exec.CompletedAt),
		exec.TriggerType,
		nullableStringPtr(exec.TriggerSource),
		string(exec.Status),
		exec.StepsTotal,
		exec.StepsCompleted,
		exec.StepsFailed,
		exec.StepsSkipped,
		failures,
		nullableString(exec.Error),
		nullableInt(exec.DurationMS),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// UpdateExecution updates an existing execution log entry.
func (r *SQLiteRepository) UpdateExecution(ctx context.Context, exec *Execution) error {
	failures, err := marshalFailures(exec.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		UPDATE config_executions SET
			started_at = ?, completed_at = ?, status = ?,
			steps_total = ?, steps_completed = ?, steps_failed = ?, steps_skipped = ?,
			failures = ?, error = ?, duration_ms = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableTime(exec.StartedAt),
		nullableTime(exec.CompletedAt),
		string(exec.Status),
		exec.StepsTotal,
		exec.StepsCompleted,
		exec.StepsFailed,
		exec.StepsSkipped,
		failures,
		nullableString(exec.Error),
		nullableInt(exec.DurationMS),
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM config_executions WHERE id = ?`

	exec, err := scanExecutionRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions, newest first. An empty
// configID lists executions of every config.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, configID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if configID == "" {
		query := `SELECT ` + executionColumns + ` FROM config_executions
			ORDER BY triggered_at DESC LIMIT ?`
		rows, err = r.db.QueryContext(ctx, query, limit)
	} else {
		query := `SELECT ` + executionColumns + ` FROM config_executions
			WHERE config_id = ? ORDER BY triggered_at DESC LIMIT ?`
		rows, err = r.db.QueryContext(ctx, query, configID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		exec, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfigRow(scanner rowScanner) (*Config, error) {
	var (
		c           Config
		description sql.NullString
		category    sql.NullString
		tagsJSON    sql.NullString
		defJSON     string
		createdAt   string
		updatedAt   string
	)

	err := scanner.Scan(
		&c.ID,
		&c.Name,
		&description,
		&category,
		&tagsJSON,
		&defJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.Category = Category(category.String)

	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if jsonErr := json.Unmarshal([]byte(tagsJSON.String), &c.Tags); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling tags: %w", jsonErr)
		}
	}

	var def definition
	if jsonErr := json.Unmarshal([]byte(defJSON), &def); jsonErr != nil {
		return nil, fmt.Errorf("unmarshalling definition: %w", jsonErr)
	}
	c.Preconditions = def.Preconditions
	c.Steps = def.Steps
	c.Monitors = def.Monitors
	c.PostActions = def.PostActions

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		c.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		c.UpdatedAt = t
	}

	return &c, nil
}

func scanExecutionRow(scanner rowScanner) (*Execution, error) {
	var (
		e             Execution
		triggeredAt   string
		startedAt     sql.NullString
		completedAt   sql.NullString
		triggerSource sql.NullString
		status        string
		failuresJSON  sql.NullString
		errMsg        sql.NullString
		durationMS    sql.NullInt64
	)

	err := scanner.Scan(
		&e.ID,
		&e.ConfigID,
		&e.ConfigName,
		&triggeredAt,
		&startedAt,
		&completedAt,
		&e.TriggerType,
		&triggerSource,
		&status,
		&e.StepsTotal,
		&e.StepsCompleted,
		&e.StepsFailed,
		&e.StepsSkipped,
		&failuresJSON,
		&errMsg,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	e.Status = ExecutionStatus(status)
	e.Error = errMsg.String
	if t, parseErr := time.Parse(time.RFC3339Nano, triggeredAt); parseErr == nil {
		e.TriggeredAt = t
	}
	if startedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, startedAt.String); parseErr == nil {
			e.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, completedAt.String); parseErr == nil {
			e.CompletedAt = &t
		}
	}
	if triggerSource.Valid {
		e.TriggerSource = &triggerSource.String
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		e.DurationMS = &d
	}

	if failuresJSON.Valid && failuresJSON.String != "" && failuresJSON.String != "null" {
		if jsonErr := json.Unmarshal([]byte(failuresJSON.String), &e.Failures); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling failures: %w", jsonErr)
		}
	}

	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalConfig(cfg *Config) (sql.NullString, string, error) {
	var tags sql.NullString
	if len(cfg.Tags) > 0 {
		data, err := json.Marshal(cfg.Tags)
		if err != nil {
			return tags, "", fmt.Errorf("marshalling tags: %w", err)
		}
		tags = sql.NullString{String: string(data), Valid: true}
	}

	def, err := json.Marshal(definition{
		Preconditions: cfg.Preconditions,
		Steps:         cfg.Steps,
		Monitors:      cfg.Monitors,
		PostActions:   cfg.PostActions,
	})
	if err != nil {
		return tags, "", fmt.Errorf("marshalling definition: %w", err)
	}
	return tags, string(def), nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullableString(*s)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(execTimeLayout), Valid: true}
}

func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func marshalFailures(failures []StepFailure) (sql.NullString, error) {
	if len(failures) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
