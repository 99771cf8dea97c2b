package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/octoagent/pkg/services"
	"github.com/octoagent/octoagent/pkg/store"
)

// Error codes carried in the error envelope.
const (
	codeValidation      = "VALIDATION_ERROR"
	codeTaskNotFound    = "TASK_NOT_FOUND"
	codeAlreadyTerminal = "TASK_ALREADY_TERMINAL"
	codeStatusConflict  = "STATUS_CONFLICT"
	codeInternal        = "INTERNAL_ERROR"
)

// writeServiceError renders a service-layer error as the error envelope
// {"error": {"code", "message"}} with the matching HTTP status.
func writeServiceError(c *echo.Context, err error) error {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return writeError(c, http.StatusBadRequest, codeValidation, validErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return writeError(c, http.StatusNotFound, codeTaskNotFound, "task does not exist")
	}
	if errors.Is(err, store.ErrAlreadyTerminal) {
		return writeError(c, http.StatusConflict, codeAlreadyTerminal, "task is already in a terminal state")
	}
	if store.IsStatusConflict(err) {
		return writeError(c, http.StatusConflict, codeStatusConflict, "task changed status concurrently")
	}

	// Unexpected error: log the cause, keep the response generic.
	slog.Error("Unexpected service error", "error", err)
	return writeError(c, http.StatusInternalServerError, codeInternal, "internal server error")
}

func writeError(c *echo.Context, status int, code, message string) error {
	return c.JSON(status, &ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}
