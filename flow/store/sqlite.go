package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps runs and checkpoint logs in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments that need durable recovery
//   - Prototyping before migrating to MySQL or Redis
//
// Features:
//   - Single file database (e.g., "./runs.db"), or ":memory:" for tests
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//
// Checkpoint ordering is the insertion order of the autoincrement
// primary key, so ListCheckpoints reads the log back exactly as the
// runtime appended it.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./runs.db" - file in current directory
//   - "/var/lib/stepflow/runs.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and tables if they
// don't exist, enables WAL mode, and sets a busy timeout.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore[S]{
		db:   db,
		path: path,
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT NOT NULL PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step_id TEXT NOT NULL DEFAULT '',
			input TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			executor_id TEXT NOT NULL,
			status TEXT NOT NULL,
			data TEXT,
			error TEXT,
			timestamp TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create workflow_checkpoints table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON workflow_checkpoints(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_run_id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_run_step ON workflow_checkpoints(run_id, step_id)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_run_step: %w", err)
	}

	return nil
}

// SaveRun inserts or replaces the run record.
func (s *SQLiteStore[S]) SaveRun(ctx context.Context, run Run[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	stateJSON, err := json.Marshal(run.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (run_id, workflow_type, status, current_step_id, input, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			current_step_id = excluded.current_step_id,
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Type,
		string(run.Status),
		run.CurrentStepID,
		string(inputJSON),
		string(stateJSON),
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run record by ID.
//
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore[S]) GetRun(ctx context.Context, runID string) (Run[S], error) {
	var zero Run[S]
	if err := s.checkOpen(); err != nil {
		return zero, err
	}

	query := `
		SELECT run_id, workflow_type, status, current_step_id, input, state, created_at, updated_at
		FROM workflow_runs
		WHERE run_id = ?
	`

	var run Run[S]
	var status, inputJSON, stateJSON, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.Type, &status, &run.CurrentStepID,
		&inputJSON, &stateJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load run: %w", err)
	}

	run.Status = Status(status)
	if err := json.Unmarshal([]byte(inputJSON), &run.Input); err != nil {
		return zero, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &run.State); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return zero, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return zero, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return run, nil
}

// AppendCheckpoint appends a checkpoint to the run's log.
//
// Every call inserts a new row; existing checkpoints are never touched.
func (s *SQLiteStore[S]) AppendCheckpoint(ctx context.Context, runID string, cp Checkpoint) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var errJSON []byte
	if cp.Error != nil {
		var err error
		errJSON, err = json.Marshal(cp.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal error detail: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_checkpoints (run_id, step_id, executor_id, status, data, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		cp.StepID,
		cp.ExecutorID,
		string(cp.Status),
		nullableString(cp.Data),
		nullableString(errJSON),
		cp.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	return nil
}

// ListCheckpoints returns the run's checkpoint log in creation order.
func (s *SQLiteStore[S]) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT step_id, executor_id, status, data, error, timestamp
		FROM workflow_checkpoints
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}

	return result, nil
}

// LatestForStep returns the most recently appended checkpoint for a step.
//
// Returns ErrNotFound if the step has no checkpoints.
func (s *SQLiteStore[S]) LatestForStep(ctx context.Context, runID, stepID string) (Checkpoint, error) {
	var zero Checkpoint
	if err := s.checkOpen(); err != nil {
		return zero, err
	}

	query := `
		SELECT step_id, executor_id, status, data, error, timestamp
		FROM workflow_checkpoints
		WHERE run_id = ? AND step_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, runID, stepID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return cp, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close releases the database connection. The store is unusable afterwards.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCheckpoint decodes one checkpoint row. Scan errors (including
// sql.ErrNoRows) are returned unwrapped so callers can map them.
func scanCheckpoint(r rowScanner) (Checkpoint, error) {
	var cp Checkpoint
	var status, timestamp string
	var data, errDetail sql.NullString

	if err := r.Scan(&cp.StepID, &cp.ExecutorID, &status, &data, &errDetail, &timestamp); err != nil {
		return cp, err
	}

	cp.Status = CheckpointStatus(status)
	if data.Valid && data.String != "" {
		cp.Data = json.RawMessage(data.String)
	}
	if errDetail.Valid && errDetail.String != "" {
		var detail ErrorDetail
		if err := json.Unmarshal([]byte(errDetail.String), &detail); err != nil {
			return cp, fmt.Errorf("failed to unmarshal error detail: %w", err)
		}
		cp.Error = &detail
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return cp, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	cp.Timestamp = ts

	return cp, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
