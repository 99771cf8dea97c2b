package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/octoagent/pkg/database"
	"github.com/octoagent/octoagent/pkg/events"
	"github.com/octoagent/octoagent/pkg/models"
	"github.com/octoagent/octoagent/pkg/services"
	"github.com/octoagent/octoagent/pkg/store"
)

type noopRunner struct{}

func (r *noopRunner) Start(taskID, userText string) {}

type stubProxyChecker struct{ healthy bool }

func (s *stubProxyChecker) HealthCheck(ctx context.Context) bool { return s.healthy }

type apiFixture struct {
	server *Server
}

func newAPIFixture(t *testing.T, checker ProxyHealthChecker) *apiFixture {
	t.Helper()
	client, err := database.NewClient(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	db := client.DB()

	eventStore := store.NewEventStore(db)
	taskStore := store.NewTaskStore(db)
	artifactsRoot := filepath.Join(t.TempDir(), "artifacts")
	require.NoError(t, os.MkdirAll(artifactsRoot, 0o755))
	artifacts := store.NewArtifactStore(db, artifactsRoot, 4096)
	writer := store.NewWriter(db, store.NewTaskLocker())

	hub := events.NewHub()
	streamer := events.NewStreamer(hub, eventStore, 15*time.Second)
	service := services.NewTaskService(writer, eventStore, taskStore, artifacts, hub, &noopRunner{})

	return &apiFixture{
		server: NewServer(service, streamer, client, artifactsRoot, checker),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func submitBody(key string) *SubmitMessageRequest {
	return &SubmitMessageRequest{
		Channel:        "api",
		SenderID:       "u1",
		Text:           "Hello",
		IdempotencyKey: key,
	}
}

func TestSubmitMessageHandler(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/message", submitBody("key-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, models.StatusCreated, resp.Status)
	assert.True(t, resp.Created)

	t.Run("replay returns 200 with same task", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/message", submitBody("key-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		var replay MessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
		assert.Equal(t, resp.TaskID, replay.TaskID)
		assert.False(t, replay.Created)
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/message", submitBody(""))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeValidation, decodeError(t, rec).Code)
	})

	t.Run("security headers set", func(t *testing.T) {
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})
}

func TestTaskHandlers(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/message", submitBody("key-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	t.Run("get task detail", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks/"+created.TaskID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var detail TaskDetailResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		assert.Equal(t, created.TaskID, detail.Task.TaskID)
		assert.Len(t, detail.Events, 2)
		assert.Empty(t, detail.Artifacts)
	})

	t.Run("get unknown task", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks/no-such-task", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, codeTaskNotFound, decodeError(t, rec).Code)
	})

	t.Run("list tasks", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list TaskListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Equal(t, 1, list.Count)
	})

	t.Run("list with bad status filter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks?status=BOGUS", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel then cancel again", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks/"+created.TaskID+"/cancel", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var cancel CancelResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancel))
		assert.Equal(t, created.TaskID, cancel.TaskID)
		assert.Equal(t, models.StatusCancelled, cancel.Status)

		rec = f.do(t, http.MethodPost, "/api/tasks/"+created.TaskID+"/cancel", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, codeAlreadyTerminal, decodeError(t, rec).Code)
	})

	t.Run("cancel unknown task", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks/no-such-task/cancel", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, codeTaskNotFound, decodeError(t, rec).Code)
	})
}

func TestStreamTaskHandler(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/message", submitBody("key-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Terminal task: the stream replays history and closes on its own.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/cancel", created.TaskID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/stream/task/%s", created.TaskID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 3, strings.Count(body, "id: "), "all three events replayed")
	assert.Contains(t, body, `"type":"STATE_TRANSITION"`)
	assert.Contains(t, body, `"final":true`)

	t.Run("stream of unknown task", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/stream/task/no-such-task", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthHandlers(t *testing.T) {
	t.Run("liveness is always up", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp LivenessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("ready default profile skips proxy", func(t *testing.T) {
		f := newAPIFixture(t, &stubProxyChecker{healthy: false})
		rec := f.do(t, http.MethodGet, "/ready", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, profileCore, resp.Profile)
		assert.Equal(t, "ok", resp.Checks["sqlite"])
		assert.Equal(t, "ok", resp.Checks["artifacts_dir"])
		assert.Equal(t, "skipped", resp.Checks["litellm_proxy"])
		assert.Greater(t, resp.Checks["disk_space_mb"].(float64), 0.0)
	})

	t.Run("ready llm profile with healthy proxy", func(t *testing.T) {
		f := newAPIFixture(t, &stubProxyChecker{healthy: true})
		rec := f.do(t, http.MethodGet, "/ready?profile=llm", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "ok", resp.Checks["litellm_proxy"])
	})

	t.Run("ready llm profile with unreachable proxy", func(t *testing.T) {
		f := newAPIFixture(t, &stubProxyChecker{healthy: false})
		rec := f.do(t, http.MethodGet, "/ready?profile=llm", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "unreachable", resp.Checks["litellm_proxy"])
	})

	t.Run("ready llm profile in echo mode skips proxy", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/ready?profile=full", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "skipped", resp.Checks["litellm_proxy"])
	})

	t.Run("ready rejects unknown profile", func(t *testing.T) {
		f := newAPIFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/ready?profile=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
