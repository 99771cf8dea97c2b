package api

import (
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/octoagent/pkg/models"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogger logs one line per completed request, carrying the task's
// trace id on task-scoped routes. Stream endpoints log on disconnect, which
// can be minutes after the request started.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)

			status := 0
			if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
				status = res.Status
			}
			attrs := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if taskID := c.Param("id"); taskID != "" {
				attrs = append(attrs, "trace_id", models.NewTraceID(taskID))
			}
			slog.Info("Request handled", attrs...)
			return err
		}
	}
}
