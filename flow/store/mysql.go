package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// It stores run records and checkpoint logs in a relational database.
// Designed for:
//   - Production deployments requiring durable recovery
//   - Long-running workflows that survive process restarts
//   - Audit trails over checkpoint history
//
// MySQLStore uses connection pooling; checkpoint ordering is the
// insertion order of the AUTO_INCREMENT primary key.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/workflows
//	user:password@tcp(127.0.0.1:3306)/workflows?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	store, err := NewMySQLStore[State](dsn)
//
// The store automatically creates required tables and configures the
// connection pool.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore[S]{db: db}

	if err := store.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			workflow_type VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			current_step_id VARCHAR(255) NOT NULL DEFAULT '',
			input JSON NOT NULL,
			state JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step_id VARCHAR(255) NOT NULL,
			executor_id VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			data JSON NULL,
			error JSON NULL,
			timestamp DATETIME(6) NOT NULL,
			INDEX idx_run_id (run_id),
			INDEX idx_run_step (run_id, step_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create workflow_checkpoints table: %w", err)
	}

	return nil
}

// mysqlTimeLayout matches DATETIME(6) columns without requiring
// parseTime=true in the DSN.
const mysqlTimeLayout = "2006-01-02 15:04:05.000000"

// SaveRun inserts or replaces the run record.
func (m *MySQLStore[S]) SaveRun(ctx context.Context, run Run[S]) error {
	if err := m.checkOpen(); err != nil {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			current_step_id = VALUES(current_step_id),
			state = VALUES(state),
			updated_at = VALUES(updated_at)
	`

	_, err = m.db.ExecContext(ctx, query,
		run.ID,
		run.Type,
		string(run.Status),
		run.CurrentStepID,
		string(inputJSON),
		string(stateJSON),
		run.CreatedAt.UTC().Format(mysqlTimeLayout),
		run.UpdatedAt.UTC().Format(mysqlTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run record by ID.
//
// Returns ErrNotFound if the run doesn't exist.
func (m *MySQLStore[S]) GetRun(ctx context.Context, runID string) (Run[S], error) {
	var zero Run[S]
	if err := m.checkOpen(); err != nil {
		return zero, err
	}

	query := `
		SELECT run_id, workflow_type, status, current_step_id, input, state, created_at, updated_at
		FROM workflow_runs
		WHERE run_id = ?
	`

	var run Run[S]
	var status, inputJSON, stateJSON, createdAt, updatedAt string
	err := m.db.QueryRowContext(ctx, query, runID).Scan(
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
	if run.CreatedAt, err = time.Parse(mysqlTimeLayout, createdAt); err != nil {
		return zero, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if run.UpdatedAt, err = time.Parse(mysqlTimeLayout, updatedAt); err != nil {
		return zero, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return run, nil
}

// AppendCheckpoint appends a checkpoint to the run's log.
func (m *MySQLStore[S]) AppendCheckpoint(ctx context.Context, runID string, cp Checkpoint) error {
	if err := m.checkOpen(); err != nil {
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

	_, err := m.db.ExecContext(ctx, query,
		runID,
		cp.StepID,
		cp.ExecutorID,
		string(cp.Status),
		nullableString(cp.Data),
		nullableString(errJSON),
		cp.Timestamp.UTC().Format(mysqlTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	return nil
}

// ListCheckpoints returns the run's checkpoint log in creation order.
func (m *MySQLStore[S]) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT step_id, executor_id, status, data, error, timestamp
		FROM workflow_checkpoints
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := m.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []Checkpoint
	for rows.Next() {
		cp, err := m.scanCheckpoint(rows)
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
func (m *MySQLStore[S]) LatestForStep(ctx context.Context, runID, stepID string) (Checkpoint, error) {
	var zero Checkpoint
	if err := m.checkOpen(); err != nil {
		return zero, err
	}

	query := `
		SELECT step_id, executor_id, status, data, error, timestamp
		FROM workflow_checkpoints
		WHERE run_id = ? AND step_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	cp, err := m.scanCheckpoint(m.db.QueryRowContext(ctx, query, runID, stepID))
	if err == sql.ErrNoRows {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return cp, nil
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close releases the connection pool. The store is unusable afterwards.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// scanCheckpoint decodes one checkpoint row. Scan errors (including
// sql.ErrNoRows) are returned unwrapped so callers can map them.
func (m *MySQLStore[S]) scanCheckpoint(r rowScanner) (Checkpoint, error) {
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

	ts, err := time.Parse(mysqlTimeLayout, timestamp)
	if err != nil {
		return cp, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	cp.Timestamp = ts

	return cp, nil
}
