package api

import (
	echo "github.com/labstack/echo/v5"
)

// streamTaskHandler handles GET /api/stream/task/:id.
// Serves the task's event history followed by live events over SSE. The
// stream closes after the terminal transition; reconnecting clients resume
// from the Last-Event-ID header (or ?last_event_id=).
func (s *Server) streamTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")

	// 404 before committing to a stream response.
	if _, err := s.tasks.GetTask(c.Request().Context(), taskID); err != nil {
		return writeServiceError(c, err)
	}

	lastEventID := c.Request().Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = c.QueryParam("last_event_id")
	}

	return s.streamer.Stream(c.Request().Context(), c.Response(), taskID, lastEventID)
}
