// Package history persists state machine transitions.
//
// The state machine keeps a bounded in-memory ring of recent transitions.
// This package keeps the long tail in SQLite so operators can inspect what
// the tailgate did across restarts. A Recorder subscribes to a Machine and
// writes every accepted transition through a Repository.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tailgate-core/internal/statemachine"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// recordTimeout bounds a single insert made from an event handler.
	recordTimeout = 5 * time.Second

	// timeLayout is fixed-width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrVehicleRequired is returned when an entry has no vehicle ID.
var ErrVehicleRequired = errors.New("history: vehicle id is required")

// Entry is one persisted transition.
type Entry struct {
	ID        int64              `json:"id"`
	VehicleID string             `json:"vehicle_id"`
	From      statemachine.State `json:"from"`
	To        statemachine.State `json:"to"`
	Reason    string             `json:"reason,omitempty"`
	// Duration is the time spent in From before the transition.
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// Repository stores and retrieves transitions.
type Repository interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, vehicleID string, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the state_transitions table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. A zero CreatedAt is stamped with the current time.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.VehicleID == "" {
		return ErrVehicleRequired
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO state_transitions (vehicle_id, from_state, to_state, reason, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.VehicleID,
		string(e.From),
		string(e.To),
		e.Reason,
		e.Duration.Milliseconds(),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// List returns up to limit entries for a vehicle, newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) List(ctx context.Context, vehicleID string, limit int) ([]Entry, error) {
	if vehicleID == "" {
		return nil, ErrVehicleRequired
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, vehicle_id, from_state, to_state, reason, duration_ms, created_at
		 FROM state_transitions
		 WHERE vehicle_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		vehicleID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			from, to   string
			reason     sql.NullString
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.VehicleID, &from, &to, &reason, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		e.From = statemachine.State(from)
		e.To = statemachine.State(to)
		e.Reason = reason.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_transitions WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting transitions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Logger is the logging interface used by the Recorder.
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

// Subscriber is the part of statemachine.Machine the Recorder needs.
type Subscriber interface {
	Subscribe(h func(statemachine.Event)) func()
}

// Recorder writes accepted transitions to a Repository.
type Recorder struct {
	repo      Repository
	vehicleID string
	logger    Logger
}

// NewRecorder creates a Recorder for one vehicle. logger may be nil.
func NewRecorder(repo Repository, vehicleID string, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, vehicleID: vehicleID, logger: logger}
}

// Attach subscribes to m and returns the unsubscribe function.
// Rejected transitions are not persisted.
func (rc *Recorder) Attach(m Subscriber) func() {
	return m.Subscribe(rc.handle)
}

func (rc *Recorder) handle(ev statemachine.Event) {
	if ev.Type != statemachine.EventStateChanged {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := rc.repo.Record(ctx, Entry{
		VehicleID: rc.vehicleID,
		From:      ev.From,
		To:        ev.To,
		Reason:    ev.Reason,
		Duration:  ev.Duration,
		CreatedAt: ev.Timestamp,
	})
	if err != nil {
		rc.logger.Warn("failed to persist transition",
			"from", ev.From,
			"to", ev.To,
			"error", err,
		)
	}
}
