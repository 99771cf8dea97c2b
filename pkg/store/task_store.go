package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/octoagent/octoagent/pkg/models"
)

// TaskStore reads the task projection. The projection is derived from the
// event log and mutated only by the Writer (and the rebuilder).
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a TaskStore over db.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `task_id, created_at, updated_at, status, title, thread_id, scope_id, requester, risk_level, pointers`

func insertTask(ctx context.Context, q querier, task *models.Task) error {
	requester, err := json.Marshal(task.Requester)
	if err != nil {
		return fmt.Errorf("failed to marshal requester: %w", err)
	}
	pointers, err := json.Marshal(task.Pointers)
	if err != nil {
		return fmt.Errorf("failed to marshal pointers: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.CreatedAt.UTC().Format(timeFormat), task.UpdatedAt.UTC().Format(timeFormat),
		string(task.Status), task.Title, task.ThreadID, task.ScopeID,
		string(requester), string(task.RiskLevel), string(pointers),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		task      models.Task
		createdAt string
		updatedAt string
		status    string
		risk      string
		requester string
		pointers  string
	)
	err := row.Scan(&task.TaskID, &createdAt, &updatedAt, &status, &task.Title,
		&task.ThreadID, &task.ScopeID, &requester, &risk, &pointers)
	if err != nil {
		return nil, err
	}
	if task.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	task.Status = models.TaskStatus(status)
	task.RiskLevel = models.RiskLevel(risk)
	if err := json.Unmarshal([]byte(requester), &task.Requester); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requester: %w", err)
	}
	if err := json.Unmarshal([]byte(pointers), &task.Pointers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pointers: %w", err)
	}
	return &task, nil
}

func getTask(ctx context.Context, q querier, taskID string) (*models.Task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetTask returns one task by id. Returns ErrNotFound when missing.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return getTask(ctx, s.db, taskID)
}

// ListTasks returns tasks ordered by created_at descending, optionally
// filtered by status.
func (s *TaskStore) ListTasks(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at DESC`
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// updateProjection refreshes the derived columns of a task row inside an
// ongoing transaction. status is only written when non-empty.
func updateProjection(ctx context.Context, q querier, taskID string, status models.TaskStatus, updatedAt time.Time, latestEventID string) error {
	pointers, err := json.Marshal(models.TaskPointers{LatestEventID: latestEventID})
	if err != nil {
		return fmt.Errorf("failed to marshal pointers: %w", err)
	}

	var res sql.Result
	if status != "" {
		res, err = q.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ?, pointers = ? WHERE task_id = ?`,
			string(status), updatedAt.UTC().Format(timeFormat), string(pointers), taskID)
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE tasks SET updated_at = ?, pointers = ? WHERE task_id = ?`,
			updatedAt.UTC().Format(timeFormat), string(pointers), taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to update projection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ForceStatus overwrites a task's status directly, bypassing the event log.
// Last-resort path so a task never stays RUNNING when even the failure
// event cannot be appended.
func (s *TaskStore) ForceStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(status), time.Now().UTC().Format(timeFormat), taskID)
	if err != nil {
		return fmt.Errorf("failed to force status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
