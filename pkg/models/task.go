package models

import "time"

// RiskLevel classifies how much scrutiny a task's actions deserve.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MaxTitleLength bounds the task title derived from the first user text.
const MaxTitleLength = 100

// Requester identifies where a task came from.
type Requester struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
}

// TaskPointers holds derived navigation pointers maintained by the writer.
type TaskPointers struct {
	LatestEventID string `json:"latest_event_id"`
}

// Task is the projection row derived from the event log. It is created
// exactly once by the ingress writer, mutated only by the transactional
// writer, and never deleted.
type Task struct {
	TaskID    string       `json:"task_id"`
	Status    TaskStatus   `json:"status"`
	Title     string       `json:"title"`
	ThreadID  string       `json:"thread_id"`
	ScopeID   string       `json:"scope_id,omitempty"`
	Requester Requester    `json:"requester"`
	RiskLevel RiskLevel    `json:"risk_level"`
	Pointers  TaskPointers `json:"pointers"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// DeriveTitle produces the task title from the first user text, truncated
// to MaxTitleLength runes.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTitleLength {
		return text
	}
	return string(runes[:MaxTitleLength])
}
