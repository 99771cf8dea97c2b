package models

import "github.com/google/uuid"

// NewID returns a time-ordered 128-bit id whose canonical string form sorts
// lexicographically by creation time. Used for task, event, and artifact ids.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; at that point
		// nothing else in the process works either.
		panic(err)
	}
	return id.String()
}

// NewTraceID derives the trace id carried by every event of a task.
func NewTraceID(taskID string) string {
	return "trace-" + taskID
}
