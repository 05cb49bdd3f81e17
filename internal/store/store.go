// Package store provides the record store contract and its SQLite backend.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the callqueue SQLite database.
type Store struct {
	db *sql.DB
}

var _ RecordStore = (*Store)(nil)

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL so the console and the record server can share one file
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		contact_name TEXT NOT NULL,
		phone TEXT,
		notes TEXT,
		outcome TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		assignee TEXT NOT NULL DEFAULT '',
		due_date DATETIME,
		history TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		operator TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
	CREATE INDEX IF NOT EXISTS idx_records_assignee ON records(assignee);
	CREATE INDEX IF NOT EXISTS idx_decisions_task_id ON decisions(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Record Operations ---

const recordColumns = `id, contact_name, phone, notes, outcome, status, priority, assignee, due_date, history, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var phone, notes, outcome sql.NullString
	var dueDate sql.NullTime
	var history string

	if err := row.Scan(&rec.ID, &rec.ContactName, &phone, &notes, &outcome, &rec.Status, &rec.Priority,
		&rec.Assignee, &dueDate, &history, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Phone = phone.String
	rec.Notes = notes.String
	rec.Outcome = outcome.String
	if dueDate.Valid {
		d := dueDate.Time
		rec.DueDate = &d
	}
	if history != "" {
		if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// Create inserts a new record. An empty ID is replaced with a fresh UUID.
func (s *Store) Create(ctx context.Context, rec models.Record) (*models.Record, error) {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = string(models.TaskStatusPending)
	}
	if rec.Priority == "" {
		rec.Priority = string(models.PriorityMedium)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	history, err := json.Marshal(nonNilHistory(rec.History))
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ContactName, rec.Phone, rec.Notes, rec.Outcome, rec.Status, rec.Priority,
		rec.Assignee, nullTime(rec.DueDate), string(history), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return &rec, nil
}

// GetByID retrieves a record by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// List returns records matching the filter, oldest first.
func (s *Store) List(ctx context.Context, filter models.Filter) ([]models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records`
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Assignee != "" {
		if filter.IncludeUnassigned {
			where = append(where, "(assignee = ? OR assignee = '')")
		} else {
			where = append(where, "assignee = ?")
		}
		args = append(args, filter.Assignee)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Update applies a partial write. Only the named columns are touched, so two
// writers that set different fields both survive; writers of the same field
// resolve as last-writer-wins.
func (s *Store) Update(ctx context.Context, id string, upd models.Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*upd.Priority))
	}
	if upd.Assignee != nil {
		sets = append(sets, "assignee = ?")
		args = append(args, *upd.Assignee)
	}
	if upd.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, upd.DueDate.UTC())
	} else if upd.ClearDueDate {
		sets = append(sets, "due_date = NULL")
	}
	if upd.Outcome != nil {
		sets = append(sets, "outcome = ?")
		args = append(args, *upd.Outcome)
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *upd.Notes)
	}

	if len(upd.AppendHistory) > 0 {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT history FROM records WHERE id = ?`, id).Scan(&raw)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		var history []models.HistoryEntry
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &history); err != nil {
				return fmt.Errorf("decode history: %w", err)
			}
		}
		encoded, err := json.Marshal(append(history, upd.AppendHistory...))
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		sets = append(sets, "history = ?")
		args = append(args, string(encoded))
	}

	args = append(args, id)
	result, err := tx.ExecContext(ctx, `UPDATE records SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Decision Operations ---

// WriteDecision persists an audit decision record.
func (s *Store) WriteDecision(ctx context.Context, d models.Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, action, inputs_hash, outcome, task_id, operator, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Action, d.InputsHash, d.Outcome, d.TaskID, d.Operator, d.Details, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// DecisionsForTask returns audit decisions for a task, newest first.
func (s *Store) DecisionsForTask(ctx context.Context, taskID string) ([]models.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, task_id, operator, details, timestamp FROM decisions WHERE task_id = ? ORDER BY timestamp DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var taskIDCol, operator, details sql.NullString
		if err := rows.Scan(&d.ID, &d.Action, &d.InputsHash, &d.Outcome, &taskIDCol, &operator, &details, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.TaskID = taskIDCol.String
		d.Operator = operator.String
		d.Details = details.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nonNilHistory(h []models.HistoryEntry) []models.HistoryEntry {
	if h == nil {
		return []models.HistoryEntry{}
	}
	return h
}
