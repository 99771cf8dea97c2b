package api

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/octoagent/octoagent/pkg/database"
)

// Readiness profiles: core checks only the engine's own storage; llm and
// full additionally probe the model proxy.
const (
	profileCore = "core"
	profileLLM  = "llm"
	profileFull = "full"
)

// healthHandler handles GET /health. Pure liveness: always up.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &LivenessResponse{Status: "ok"})
}

// readyHandler handles GET /ready.
// Verifies database connectivity, artifact directory accessibility, and free
// disk space. With ?profile=llm or full, the model proxy liveliness endpoint
// is probed too; in echo mode that check reports "skipped".
func (s *Server) readyHandler(c *echo.Context) error {
	profile := c.QueryParam("profile")
	if profile == "" {
		profile = profileCore
	}
	if profile != profileCore && profile != profileLLM && profile != profileFull {
		return writeError(c, http.StatusBadRequest, codeValidation, "profile must be core, llm, or full")
	}

	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	checks := make(map[string]any)
	ready := true

	if dbHealth, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		checks["sqlite"] = "error: " + err.Error()
		ready = false
	} else if dbHealth.Status != "healthy" {
		checks["sqlite"] = "error: journal mode " + dbHealth.JournalMode
		ready = false
	} else {
		checks["sqlite"] = "ok"
	}

	if info, err := os.Stat(s.artifactsRoot); err != nil || !info.IsDir() {
		checks["artifacts_dir"] = "error: directory does not exist"
		ready = false
	} else {
		checks["artifacts_dir"] = "ok"
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		checks["disk_space_mb"] = 0
		ready = false
	} else {
		checks["disk_space_mb"] = stat.Bavail * uint64(stat.Bsize) / (1024 * 1024)
	}

	if profile == profileCore || s.llmChecker == nil {
		checks["litellm_proxy"] = "skipped"
	} else if s.llmChecker.HealthCheck(reqCtx) {
		checks["litellm_proxy"] = "ok"
	} else {
		checks["litellm_proxy"] = "unreachable"
		ready = false
	}

	status, httpStatus := "ready", http.StatusOK
	if !ready {
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &ReadyResponse{Status: status, Profile: profile, Checks: checks})
}
