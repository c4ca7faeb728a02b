package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentic/conclave/internal/scheduler"
)

// SaveTask upserts a task row. Idempotent across status transitions.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	var completedAt any
	if !task.CompletedAt.IsZero() {
		completedAt = task.CompletedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, category, status, failure_kind, final_score, created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failure_kind = excluded.failure_kind,
			final_score = excluded.final_score,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, task.Description, string(task.Category), int(task.Status), task.FailureKind,
		task.FinalScore, task.CreatedAt, completedAt)
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", task.ID, err)
	}
	return nil
}

// SaveSubTask upserts a sub-task row.
func (s *SQLiteStore) SaveSubTask(ctx context.Context, st *scheduler.SubTask) error {
	score := 0.0
	if st.Result != nil {
		score = st.Result.Score
	}
	errStr := ""
	if st.Err != nil {
		errStr = st.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, task_id, name, capability, depends_on, status, assigned_agent, attempts, revision_round, score, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_agent = excluded.assigned_agent,
			attempts = excluded.attempts,
			score = excluded.score,
			error = excluded.error
	`, st.ID, st.ParentID, st.Name, string(st.RequiredCapability), strings.Join(st.DependsOn, ","),
		int(st.Status), st.AssignedAgent, st.Attempts, st.RevisionRound, score, errStr)
	if err != nil {
		return fmt.Errorf("upserting subtask %s: %w", st.ID, err)
	}
	return nil
}

// RecordAttempt appends one execution attempt.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, taskID string, rec AttemptRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (task_id, subtask_id, agent_id, attempt, outcome, score, duration_ms, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, taskID, rec.SubTaskID, rec.AgentID, rec.Attempt, rec.Outcome, rec.Score,
		rec.Duration.Milliseconds(), rec.Error, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("recording attempt for subtask %s: %w", rec.SubTaskID, err)
	}
	return nil
}

// RecordConsensus appends one consensus round outcome.
func (s *SQLiteStore) RecordConsensus(ctx context.Context, rec ConsensusRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consensus_rounds (task_id, subtask_id, round, score, decision, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.TaskID, rec.SubTaskID, rec.Round, rec.Score, rec.Decision, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("recording consensus for subtask %s: %w", rec.SubTaskID, err)
	}
	return nil
}

// GetTask loads a task snapshot with its sub-tasks.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, category, status, failure_kind, final_score, created_at, completed_at
		FROM tasks WHERE id = ?
	`, taskID)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, capability, depends_on, status, assigned_agent, attempts, revision_round, score, error
		FROM subtasks WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading subtasks of %s: %w", taskID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st      scheduler.SubTask
			deps    string
			status  int
			score   float64
			errStr  string
			capName string
		)
		if err := rows.Scan(&st.ID, &st.Name, &capName, &deps, &status, &st.AssignedAgent,
			&st.Attempts, &st.RevisionRound, &score, &errStr); err != nil {
			return nil, fmt.Errorf("scanning subtask: %w", err)
		}
		st.ParentID = taskID
		st.RequiredCapability = scheduler.Capability(capName)
		if deps != "" {
			st.DependsOn = strings.Split(deps, ",")
		}
		st.Status = scheduler.Status(status)
		if errStr != "" {
			st.Err = fmt.Errorf("%s", errStr)
		}
		if score != 0 {
			st.Result = &scheduler.ExecutionResult{SubTaskID: st.ID, AgentID: st.AssignedAgent, Score: score}
		}
		task.SubTasks = append(task.SubTasks, &st)
	}
	return task, rows.Err()
}

// ListTasks loads all task rows without their sub-tasks, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, category, status, failure_kind, final_score, created_at, completed_at
		FROM tasks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	var (
		task        scheduler.Task
		category    string
		status      int
		failureKind sql.NullString
		finalScore  sql.NullFloat64
		createdAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.Description, &category, &status,
		&failureKind, &finalScore, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	task.Category = scheduler.Category(category)
	task.Status = scheduler.Status(status)
	task.FailureKind = failureKind.String
	task.FinalScore = finalScore.Float64
	if createdAt.Valid {
		task.CreatedAt = createdAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = completedAt.Time
	}
	return &task, nil
}
