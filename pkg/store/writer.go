package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/octoagent/octoagent/pkg/models"
)

// MaxSeqRetries bounds how many times a commit is retried on a sequence
// conflict before it escalates.
const MaxSeqRetries = 3

// seqRetryDelay spaces sequence-conflict retries.
const seqRetryDelay = 10 * time.Millisecond

// Writer is the only component that mutates the log and the projection. It
// commits (event append, projection update) atomically, serialized per task
// through the TaskLocker.
type Writer struct {
	db     *sql.DB
	locker *TaskLocker
}

// NewWriter creates a Writer over db with its own lock table.
func NewWriter(db *sql.DB, locker *TaskLocker) *Writer {
	return &Writer{db: db, locker: locker}
}

// Locker exposes the per-task lock table shared with other writers.
func (w *Writer) Locker() *TaskLocker {
	return w.locker
}

// CommitInitial inserts the projection row and the initial events (seq 1..n)
// in one transaction. Returns ErrIdempotencyConflict if a concurrent
// duplicate committed first.
func (w *Writer) CommitInitial(ctx context.Context, task *models.Task, events []*models.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("commit initial requires at least one event")
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	task.Pointers.LatestEventID = events[len(events)-1].EventID
	if err := insertTask(ctx, tx, task); err != nil {
		return err
	}
	for i, ev := range events {
		ev.TaskSeq = int64(i + 1)
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return translateConstraintError(err)
	}
	return nil
}

// CommitTransition appends a STATE_TRANSITION event and updates the
// projection's status in one transaction. When expected is non-nil and the
// current row status differs, the commit fails with a StatusConflictError
// and nothing is written; edges the state machine does not allow fail with
// ErrIllegalTransition. Terminal transitions retire the task's lock entry.
func (w *Writer) CommitTransition(ctx context.Context, ev *models.Event, newStatus models.TaskStatus, expected *models.TaskStatus) error {
	unlock := w.locker.Lock(ev.TaskID)
	defer unlock()

	err := w.retrySeqConflicts(func() error {
		return w.commitLocked(ctx, ev, newStatus, expected)
	})
	if err != nil {
		return err
	}

	if newStatus.IsTerminal() {
		w.locker.Retire(ev.TaskID)
	}
	return nil
}

// CommitProgress appends a non-transition event and refreshes updated_at and
// the latest-event pointer; status is untouched.
func (w *Writer) CommitProgress(ctx context.Context, ev *models.Event) error {
	unlock := w.locker.Lock(ev.TaskID)
	defer unlock()

	return w.retrySeqConflicts(func() error {
		return w.commitLocked(ctx, ev, "", nil)
	})
}

// commitLocked performs one transactional attempt. Caller holds the task
// lock.
func (w *Writer) commitLocked(ctx context.Context, ev *models.Event, newStatus models.TaskStatus, expected *models.TaskStatus) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	task, err := getTask(ctx, tx, ev.TaskID)
	if err != nil {
		return err
	}
	if expected != nil && task.Status != *expected {
		return &StatusConflictError{
			TaskID:   ev.TaskID,
			Expected: string(*expected),
			Actual:   string(task.Status),
		}
	}
	if newStatus != "" {
		if err := models.ValidateTransition(task.Status, newStatus); err != nil {
			return fmt.Errorf("%w: %v", ErrIllegalTransition, err)
		}
	}

	seq, err := nextTaskSeq(ctx, tx, ev.TaskID)
	if err != nil {
		return err
	}
	ev.TaskSeq = seq

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	if err := updateProjection(ctx, tx, ev.TaskID, newStatus, ev.TS, ev.EventID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateConstraintError(err)
	}
	return nil
}

// ForceFailed overwrites the projection status to FAILED without appending
// an event. Last-resort escape hatch for the driver's failure handler; the
// log will not reflect this transition until a rebuild is run against a
// corrected store.
func (w *Writer) ForceFailed(ctx context.Context, taskID string) error {
	unlock := w.locker.Lock(taskID)
	defer unlock()

	_, err := w.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(models.StatusFailed), time.Now().UTC().Format(timeFormat), taskID)
	if err != nil {
		return fmt.Errorf("failed to force FAILED status: %w", err)
	}
	w.locker.Retire(taskID)
	return nil
}

// retrySeqConflicts retries op on sequence conflicts up to MaxSeqRetries
// attempts, then escalates the conflict as an internal failure.
func (w *Writer) retrySeqConflicts(op func() error) error {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSequenceConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(seqRetryDelay), MaxSeqRetries-1)
	err := backoff.Retry(wrapped, policy)
	if errors.Is(err, ErrSequenceConflict) {
		return fmt.Errorf("sequence conflict persisted after %d attempts: %w", attempts, err)
	}
	return err
}
