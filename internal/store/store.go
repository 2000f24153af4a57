// Package store is the durable side of the system: execution rows in
// SQLite and raw per-execution log files on disk. The live message bus
// is never persisted; whatever must survive a restart lives here.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Execution statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusKilled    = "killed"
)

// ErrNotFound is returned when no execution has the requested id.
var ErrNotFound = errors.New("store: execution not found")

// Execution is the persistent record of one spawned process.
type Execution struct {
	ID           string
	ExecutorType string
	Prompt       string
	WorkDir      string
	Status       string
	ExitCode     *int
	SessionID    string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Finished reports whether the execution reached a terminal status.
func (e *Execution) Finished() bool {
	return e.Status != StatusRunning
}

// Store wraps the SQLite database and the log file tree.
type Store struct {
	db      *sql.DB
	dataDir string
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	executor_type TEXT NOT NULL,
	prompt        TEXT NOT NULL DEFAULT '',
	work_dir      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	exit_code     INTEGER,
	session_id    TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	finished_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
`

// Open opens (creating if needed) the database at dbPath and roots the
// log file tree at dataDir.
func Open(dbPath, dataDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite handles one writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, dataDir: dataDir}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateExecution inserts a new running execution.
func (s *Store) CreateExecution(e *Execution) error {
	if e.Status == "" {
		e.Status = StatusRunning
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO executions (id, executor_type, prompt, work_dir, status, session_id, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ExecutorType, e.Prompt, e.WorkDir, e.Status, e.SessionID,
		e.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// FindExecution loads one execution by id.
func (s *Store) FindExecution(id string) (*Execution, error) {
	row := s.db.QueryRow(
		`SELECT id, executor_type, prompt, work_dir, status, exit_code, session_id, started_at, finished_at
		 FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutions returns the most recent executions, newest first.
func (s *Store) ListExecutions(limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, executor_type, prompt, work_dir, status, exit_code, session_id, started_at, finished_at
		 FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateCompletion records the terminal status and exit code.
func (s *Store) UpdateCompletion(id, status string, exitCode int) error {
	_, err := s.db.Exec(
		`UPDATE executions SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?`,
		status, exitCode, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update completion %s: %w", id, err)
	}
	return nil
}

// SetSessionID stores the agent session identifier once discovered, so
// follow-up runs can resume the same session.
func (s *Store) SetSessionID(id, sessionID string) error {
	_, err := s.db.Exec(`UPDATE executions SET session_id = ? WHERE id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("set session id %s: %w", id, err)
	}
	return nil
}

// MarkOrphansFailed flips every execution still marked running to
// failed. Called once at startup: a row left running by a crashed
// process has no live OS process to re-attach to. Returns the number of
// rows recovered.
func (s *Store) MarkOrphansFailed() (int, error) {
	res, err := s.db.Exec(
		`UPDATE executions SET status = ?, finished_at = ? WHERE status = ?`,
		StatusFailed, time.Now().UTC().Format(time.RFC3339Nano), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e          Execution
		exitCode   sql.NullInt64
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.ExecutorType, &e.Prompt, &e.WorkDir, &e.Status,
		&exitCode, &e.SessionID, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		e.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			e.FinishedAt = &t
		}
	}
	return &e, nil
}
