package executor

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// AuditEvent is one recorded step outcome.
type AuditEvent struct {
	PlanID     string
	Skill      string
	StepIndex  int
	Command    string
	Status     string
	Output     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	PlanID string
	Skill  string
	Status string
	Limit  int
}

// AuditStore persists step outcomes.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// SQLiteAuditStore persists audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenAuditDB opens (or creates) the audit database at path and
// ensures the schema exists.
func OpenAuditDB(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageUnavailable, "open audit db", err)
	}
	return NewSQLiteAuditStore(db)
}

// NewSQLiteAuditStore wraps an existing database handle and ensures
// the schema exists.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeStorageUnavailable, "audit db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, errors.Wrap(errors.CodeStorageUnavailable, "ensure audit schema", err)
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteAuditStore) Close() error { return s.db.Close() }

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_audit_events (
			plan_id, skill, step_index, command, status, output, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.PlanID,
		event.Skill,
		event.StepIndex,
		event.Command,
		event.Status,
		event.Output,
		event.Error,
		normalizeAuditTime(event.StartedAt),
		normalizeAuditTime(event.FinishedAt),
	)
	if err != nil {
		return errors.Wrap(errors.CodeStorageUnavailable, "record audit event", err)
	}
	return nil
}

// List returns audit events matching the filter, oldest first.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT plan_id, skill, step_index, command, status, output, error_text, started_at, finished_at
		FROM action_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.PlanID != "" {
		addFilter("plan_id = ?", filter.PlanID)
	}
	if filter.Skill != "" {
		addFilter("skill = ?", filter.Skill)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageUnavailable, "list audit events", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event    AuditEvent
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.PlanID,
			&event.Skill,
			&event.StepIndex,
			&event.Command,
			&event.Status,
			&event.Output,
			&event.Error,
			&started,
			&finished,
		); err != nil {
			return nil, errors.Wrap(errors.CodeStorageUnavailable, "scan audit event", err)
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeStorageUnavailable, "iterate audit events", err)
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS action_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL,
			skill TEXT,
			step_index INTEGER NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_action_audit_plan ON action_audit_events(plan_id);
		CREATE INDEX IF NOT EXISTS idx_action_audit_status ON action_audit_events(status);
	`)
	return err
}

func normalizeAuditTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
