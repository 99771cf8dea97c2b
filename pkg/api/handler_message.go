package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// submitMessageHandler handles POST /api/message.
// Creates a task from a normalized message and starts the model call, or
// replays the existing task when the idempotency key was already consumed
// (201 on create, 200 on replay).
func (s *Server) submitMessageHandler(c *echo.Context) error {
	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeValidation, err.Error())
	}

	result, err := s.tasks.CreateTask(c.Request().Context(), req.toMessage())
	if err != nil {
		return writeServiceError(c, err)
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	return c.JSON(status, &MessageResponse{
		TaskID:  result.TaskID,
		Status:  result.Status,
		Created: result.Created,
	})
}
