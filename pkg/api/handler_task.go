package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listTasksHandler handles GET /api/tasks.
// Tasks are returned newest first; ?status= filters by lifecycle state.
func (s *Server) listTasksHandler(c *echo.Context) error {
	tasks, err := s.tasks.ListTasks(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

// getTaskHandler handles GET /api/tasks/:id.
// Returns the projection plus the full event history and artifact metadata.
func (s *Server) getTaskHandler(c *echo.Context) error {
	detail, err := s.tasks.GetTaskDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &TaskDetailResponse{
		Task:      detail.Task,
		Events:    detail.Events,
		Artifacts: detail.Artifacts,
	})
}

// cancelTaskHandler handles POST /api/tasks/:id/cancel.
// 200 with the resulting status, 404 for unknown tasks, 409 when the task
// is already terminal.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	task, err := s.tasks.CancelTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{TaskID: task.TaskID, Status: task.Status})
}
