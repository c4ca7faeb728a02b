// Package persistence records execution history: task lifecycle,
// sub-task attempts, and consensus rounds. The store is optional; the
// orchestrator treats write failures as log-and-continue.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentic/conclave/internal/scheduler"
)

// AttemptRecord is one sub-task execution attempt.
type AttemptRecord struct {
	SubTaskID string
	AgentID   string
	Attempt   int
	Outcome   string // "completed" or "failed"
	Score     float64
	Duration  time.Duration
	Error     string
	Timestamp time.Time
}

// ConsensusRecord is one consensus round outcome.
type ConsensusRecord struct {
	TaskID    string
	SubTaskID string
	Round     int
	Score     float64
	Decision  string
	Timestamp time.Time
}

// Store is the execution history interface.
type Store interface {
	SaveTask(ctx context.Context, task *scheduler.Task) error
	SaveSubTask(ctx context.Context, st *scheduler.SubTask) error
	RecordAttempt(ctx context.Context, taskID string, rec AttemptRecord) error
	RecordConsensus(ctx context.Context, rec ConsensusRecord) error
	GetTask(ctx context.Context, taskID string) (*scheduler.Task, error)
	ListTasks(ctx context.Context) ([]*scheduler.Task, error)
	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the history database at path,
// creating parent directories as needed. WAL mode and a busy timeout keep
// concurrent writers from tripping over each other.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory store for tests. A shared cache lets
// multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared")
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		status INTEGER NOT NULL,
		failure_kind TEXT,
		final_score REAL,
		created_at DATETIME,
		completed_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		capability TEXT NOT NULL,
		depends_on TEXT,
		status INTEGER NOT NULL,
		assigned_agent TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		revision_round INTEGER NOT NULL DEFAULT 0,
		score REAL,
		error TEXT,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_subtasks_task_id ON subtasks(task_id);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		subtask_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		score REAL,
		duration_ms INTEGER,
		error TEXT,
		timestamp DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_subtask ON attempts(subtask_id);

	CREATE TABLE IF NOT EXISTS consensus_rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		subtask_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		score REAL NOT NULL,
		decision TEXT NOT NULL,
		timestamp DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_consensus_subtask ON consensus_rounds(subtask_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
