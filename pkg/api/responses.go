package api

import "github.com/octoagent/octoagent/pkg/models"

// ErrorBody is the inner object of the error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope every error response uses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// MessageResponse is returned from POST /api/message. Created is false when
// the submission replayed an existing task.
type MessageResponse struct {
	TaskID  string            `json:"task_id"`
	Status  models.TaskStatus `json:"status"`
	Created bool              `json:"created"`
}

// CancelResponse is returned from POST /api/tasks/:id/cancel.
type CancelResponse struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

// TaskDetailResponse bundles a task projection with its event history and
// artifact metadata.
type TaskDetailResponse struct {
	Task      *models.Task       `json:"task"`
	Events    []*models.Event    `json:"events"`
	Artifacts []*models.Artifact `json:"artifacts"`
}

// TaskListResponse wraps GET /api/tasks.
type TaskListResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Count int            `json:"count"`
}

// LivenessResponse is returned from GET /health, always with status "ok".
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is returned from GET /ready. Checks values are "ok",
// "skipped", "unreachable", an "error: …" string, or the free-disk number
// for disk_space_mb.
type ReadyResponse struct {
	Status  string         `json:"status"`
	Profile string         `json:"profile"`
	Checks  map[string]any `json:"checks"`
}
