// Package models contains the domain types shared across the engine:
// tasks, events, artifacts, and their typed payloads.
package models

import "fmt"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusCreated   TaskStatus = "CREATED"
	StatusRunning   TaskStatus = "RUNNING"
	StatusSucceeded TaskStatus = "SUCCEEDED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"

	// Reserved statuses. Accepted by the enum but not reachable through
	// any transition today.
	StatusQueued          TaskStatus = "QUEUED"
	StatusWaitingInput    TaskStatus = "WAITING_INPUT"
	StatusWaitingApproval TaskStatus = "WAITING_APPROVAL"
	StatusPaused          TaskStatus = "PAUSED"
	StatusRejected        TaskStatus = "REJECTED"
)

// validTransitions maps a status to the set of statuses it may move to.
// Terminal statuses have no outgoing edges.
var validTransitions = map[TaskStatus][]TaskStatus{
	StatusCreated: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// terminalStatuses are absorbing: once entered, no further transition is legal.
var terminalStatuses = map[TaskStatus]bool{
	StatusSucceeded: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// allStatuses is the full enum, reserved statuses included.
var allStatuses = map[TaskStatus]bool{
	StatusCreated: true, StatusRunning: true, StatusSucceeded: true,
	StatusFailed: true, StatusCancelled: true,
	StatusQueued: true, StatusWaitingInput: true, StatusWaitingApproval: true,
	StatusPaused: true, StatusRejected: true,
}

// IsValid reports whether s is a known status value.
func (s TaskStatus) IsValid() bool {
	return allStatuses[s]
}

// IsTerminal reports whether s is an absorbing state.
func (s TaskStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// ValidateTransition returns an error if from → to is not a legal edge of
// the task state machine.
func ValidateTransition(from, to TaskStatus) error {
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", from, to)
}
