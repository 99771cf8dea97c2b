package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/octoagent/octoagent/pkg/models"
)

// Rebuilder recomputes the task projection from the event log. Offline
// maintenance tool: run it against an idle database.
type Rebuilder struct {
	db     *sql.DB
	events *EventStore
}

// NewRebuilder creates a Rebuilder over db.
func NewRebuilder(db *sql.DB) *Rebuilder {
	return &Rebuilder{db: db, events: NewEventStore(db)}
}

// Rebuild replays every event in (task_id, task_seq) order, computes the
// projection rows in memory, then truncates and reinserts the tasks table in
// a single transaction. Foreign-key enforcement is suspended around the
// truncation and restored afterwards.
func (r *Rebuilder) Rebuild(ctx context.Context) (int, error) {
	events, err := r.events.AllEventsOrdered(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read event log: %w", err)
	}

	tasks := make(map[string]*models.Task)
	order := make([]string, 0)
	for _, ev := range events {
		task, ok := tasks[ev.TaskID]
		if !ok {
			if ev.Type != models.EventTaskCreated {
				slog.Warn("Event log starts mid-stream for task, skipping until TASK_CREATED",
					"task_id", ev.TaskID, "type", ev.Type)
				continue
			}
			task = &models.Task{
				TaskID:    ev.TaskID,
				Status:    models.StatusCreated,
				RiskLevel: models.RiskLow,
				CreatedAt: ev.TS,
			}
			tasks[ev.TaskID] = task
			order = append(order, ev.TaskID)
		}

		switch ev.Type {
		case models.EventTaskCreated:
			var p models.TaskCreatedPayload
			if err := ev.DecodePayload(&p); err != nil {
				return 0, fmt.Errorf("failed to decode TASK_CREATED for task %s: %w", ev.TaskID, err)
			}
			task.Title = p.Title
			task.ThreadID = p.ThreadID
			task.ScopeID = p.ScopeID
			task.Requester = models.Requester{Channel: p.Channel, SenderID: p.SenderID}
		case models.EventStateTransition:
			var p models.StateTransitionPayload
			if err := ev.DecodePayload(&p); err != nil {
				return 0, fmt.Errorf("failed to decode STATE_TRANSITION for task %s: %w", ev.TaskID, err)
			}
			task.Status = p.ToStatus
		}

		task.UpdatedAt = ev.TS
		task.Pointers.LatestEventID = ev.EventID
	}

	// The pragma is connection-level and a no-op inside a transaction, so
	// toggle it around the rewrite.
	if _, err := r.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return 0, fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	defer func() {
		if _, err := r.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			slog.Error("Failed to re-enable foreign keys after rebuild", "error", err)
		}
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return 0, fmt.Errorf("failed to truncate projection: %w", err)
	}
	for _, taskID := range order {
		if err := insertTask(ctx, tx, tasks[taskID]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rebuilt projection: %w", err)
	}

	slog.Info("Projection rebuilt", "tasks", len(order), "events", len(events))
	return len(order), nil
}
