// OctoAgent task engine server — provides HTTP ingress, the append-only
// event log, and the model-call driver.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/octoagent/octoagent/pkg/api"
	"github.com/octoagent/octoagent/pkg/config"
	"github.com/octoagent/octoagent/pkg/database"
	"github.com/octoagent/octoagent/pkg/driver"
	"github.com/octoagent/octoagent/pkg/events"
	"github.com/octoagent/octoagent/pkg/llm"
	"github.com/octoagent/octoagent/pkg/services"
	"github.com/octoagent/octoagent/pkg/store"
)

func main() {
	rebuild := flag.Bool("rebuild-projections", false,
		"Rebuild the tasks projection from the event log and exit")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.LogFormat, cfg.LogLevel)

	ctx := context.Background()

	// 1. Database (migrations run on open)
	dbClient, err := database.NewClient(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", cfg.DBPath)

	if *rebuild {
		n, err := store.NewRebuilder(dbClient.DB()).Rebuild(ctx)
		if err != nil {
			slog.Error("Projection rebuild failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Projection rebuild complete", "tasks", n)
		return
	}

	slog.Info("Starting OctoAgent", "http_port", cfg.HTTPPort, "llm_mode", cfg.LLMMode)

	// 2. Stores and the transactional writer
	if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
		slog.Error("Failed to create artifacts directory", "error", err, "path", cfg.ArtifactsDir)
		os.Exit(1)
	}
	eventStore := store.NewEventStore(dbClient.DB())
	taskStore := store.NewTaskStore(dbClient.DB())
	artifactStore := store.NewArtifactStore(dbClient.DB(), cfg.ArtifactsDir, cfg.ArtifactInlineThreshold)
	writer := store.NewWriter(dbClient.DB(), store.NewTaskLocker())

	// 3. Model backends: alias registry + primary/fallback chain
	registry, err := llm.LoadAliasRegistry(cfg.AliasesFile)
	if err != nil {
		slog.Error("Failed to load model aliases", "error", err, "path", cfg.AliasesFile)
		os.Exit(1)
	}

	var primary llm.Caller
	var proxyChecker api.ProxyHealthChecker
	if cfg.LLMMode == config.LLMModeLiteLLM {
		proxy := llm.NewProxyClient(cfg.ProxyURL, cfg.ProxyKey, cfg.LLMTimeout)
		primary = proxy
		proxyChecker = proxy
		slog.Info("LLM proxy configured", "url", cfg.ProxyURL)
	} else {
		primary = llm.NewEchoAdapter()
		slog.Info("Echo adapter configured as primary")
	}
	fallbackMgr := llm.NewFallbackManager(registry, primary, llm.NewEchoAdapter())

	// 4. Event fan-out and streaming
	hub := events.NewHub()
	streamer := events.NewStreamer(hub, eventStore, cfg.SSEHeartbeatInterval)

	// 5. Task driver and service layer
	taskDriver := driver.New(writer, artifactStore, fallbackMgr, hub,
		cfg.EventPayloadMaxBytes, cfg.LLMTimeout)
	taskService := services.NewTaskService(writer, eventStore, taskStore, artifactStore, hub, taskDriver)

	// 6. HTTP server (non-blocking)
	httpServer := api.NewServer(taskService, streamer, dbClient, cfg.ArtifactsDir, proxyChecker)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: let in-flight model calls finish, then stop HTTP
	driverCtx, driverCancel := context.WithTimeout(ctx, cfg.LLMTimeout+10*time.Second)
	defer driverCancel()

	done := make(chan struct{})
	go func() {
		taskDriver.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Driver drained gracefully")
	case <-driverCtx.Done():
		slog.Warn("Driver shutdown timeout exceeded — in-flight tasks will fail on restart")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
