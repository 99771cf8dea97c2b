package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/octoagent/pkg/database"
	"github.com/octoagent/octoagent/pkg/events"
	"github.com/octoagent/octoagent/pkg/services"
)

// ProxyHealthChecker probes the model proxy for the readiness endpoint.
type ProxyHealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Server is the HTTP API: message ingress, task reads, cancellation, and
// event streaming.
type Server struct {
	echo     *echo.Echo
	http     *http.Server
	tasks    *services.TaskService
	streamer *events.Streamer
	dbClient *database.Client

	artifactsRoot string
	llmChecker    ProxyHealthChecker // nil when running in echo mode
}

// NewServer creates the API server and registers all routes.
func NewServer(tasks *services.TaskService, streamer *events.Streamer, dbClient *database.Client,
	artifactsRoot string, llmChecker ProxyHealthChecker) *Server {
	if tasks == nil {
		panic("NewServer: tasks must not be nil")
	}
	if streamer == nil {
		panic("NewServer: streamer must not be nil")
	}
	if dbClient == nil {
		panic("NewServer: dbClient must not be nil")
	}

	s := &Server{
		tasks:         tasks,
		streamer:      streamer,
		dbClient:      dbClient,
		artifactsRoot: artifactsRoot,
		llmChecker:    llmChecker,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestLogger())

	e.POST("/api/message", s.submitMessageHandler)
	e.GET("/api/tasks", s.listTasksHandler)
	e.GET("/api/tasks/:id", s.getTaskHandler)
	e.POST("/api/tasks/:id/cancel", s.cancelTaskHandler)
	e.GET("/api/stream/task/:id", s.streamTaskHandler)
	e.GET("/health", s.healthHandler)
	e.GET("/ready", s.readyHandler)

	s.echo = e
	s.http = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline. Open event streams are cut.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
