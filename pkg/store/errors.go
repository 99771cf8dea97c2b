// Package store implements the append-only event log, the derived task
// projection, the artifact store, and the transactional writer that keeps
// them consistent.
package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a task, event, or artifact does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrSequenceConflict is returned when an insert collides on
	// (task_id, task_seq). The writer retries these internally.
	ErrSequenceConflict = errors.New("task sequence conflict")

	// ErrIdempotencyConflict is returned when an idempotency key is reused.
	// Ingress resolves it by re-reading the existing task.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")

	// ErrAlreadyTerminal is returned when mutating a task in an absorbing
	// state.
	ErrAlreadyTerminal = errors.New("task already in terminal state")

	// ErrIllegalTransition is returned when a transition commit names an
	// edge the task state machine does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// StatusConflictError is returned by guarded transitions when the projection
// row's status no longer matches what the caller expected.
type StatusConflictError struct {
	TaskID   string
	Expected string
	Actual   string
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("status conflict on task %s: expected %s, found %s",
		e.TaskID, e.Expected, e.Actual)
}

// IsStatusConflict checks if an error is a status conflict.
func IsStatusConflict(err error) bool {
	var sc *StatusConflictError
	return errors.As(err, &sc)
}

// translateConstraintError maps SQLite unique-constraint violations onto the
// typed conflicts callers act on. The driver reports which index tripped in
// the error text.
func translateConstraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	if strings.Contains(msg, "events.idempotency_key") || strings.Contains(msg, "idx_events_idempotency_key") {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, msg)
	}
	if strings.Contains(msg, "events.task_id, events.task_seq") || strings.Contains(msg, "idx_events_task_seq") {
		return fmt.Errorf("%w: %s", ErrSequenceConflict, msg)
	}
	return err
}
