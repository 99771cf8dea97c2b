// Package driver runs the background model call for each task: transition
// to RUNNING, call the model through the fallback chain, persist the
// response artifact, and commit the terminal transition.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/octoagent/octoagent/pkg/llm"
	"github.com/octoagent/octoagent/pkg/models"
	"github.com/octoagent/octoagent/pkg/store"
)

// requestSummaryLength bounds the request_summary in MODEL_CALL_STARTED.
const requestSummaryLength = 100

// truncationMarker is appended to a response_summary that was cut short.
const truncationMarker = "... [truncated, see artifact]"

// failedCallMessage is the fixed user-facing text in MODEL_CALL_FAILED
// payloads. The raw error carries secrets-adjacent detail (URLs, key names)
// and goes to logs only.
const failedCallMessage = "The model call could not be completed. See server logs for details."

// artifactName is what the response artifact is called.
const artifactName = "llm-response"

// Publisher receives committed events for live distribution.
type Publisher interface {
	Publish(ev *models.Event)
}

// Driver executes one model call per task in a background goroutine.
// Cancellation is cooperative: an in-flight call is never aborted; the
// guarded transitions detect that the task left RUNNING and the driver
// stops writing status, keeping whatever response already arrived as an
// artifact.
type Driver struct {
	writer    *store.Writer
	artifacts *store.ArtifactStore
	fallback  *llm.FallbackManager
	publisher Publisher

	summaryMaxBytes int
	callTimeout     time.Duration
	modelAlias      string

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// New creates a Driver. summaryMaxBytes bounds response_summary payloads;
// callTimeout bounds each model call.
func New(writer *store.Writer, artifacts *store.ArtifactStore, fallback *llm.FallbackManager,
	publisher Publisher, summaryMaxBytes int, callTimeout time.Duration) *Driver {
	return &Driver{
		writer:          writer,
		artifacts:       artifacts,
		fallback:        fallback,
		publisher:       publisher,
		summaryMaxBytes: summaryMaxBytes,
		callTimeout:     callTimeout,
		modelAlias:      "executor",
		active:          make(map[string]struct{}),
	}
}

// Start launches the model call for taskID in the background. userText is
// the message that created the task. The run is never aborted from outside;
// user cancellation surfaces as status conflicts on the guarded transitions.
func (d *Driver) Start(taskID, userText string) {
	d.mu.Lock()
	d.active[taskID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.active, taskID)
			d.mu.Unlock()
		}()
		d.process(context.Background(), taskID, userText)
	}()
}

// ActiveCount reports how many tasks are being driven right now.
func (d *Driver) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Wait blocks until all in-flight drivers finish. Used during shutdown.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// process runs the full driver sequence for one task.
func (d *Driver) process(ctx context.Context, taskID, userText string) {
	log := slog.With("task_id", taskID)

	// CREATED → RUNNING. A conflict means the task was cancelled before we
	// got here; exit without appending anything.
	if ok := d.transition(ctx, taskID, models.StatusCreated, models.StatusRunning, "model_call_started"); !ok {
		log.Info("Task no longer in CREATED, driver exiting")
		return
	}

	started, err := models.NewEvent(taskID, models.EventModelCallStarted, models.ActorWorker,
		models.ModelCallStartedPayload{
			ModelAlias:     d.modelAlias,
			RequestSummary: requestSummary(userText),
		})
	if err == nil {
		err = d.commitProgress(ctx, started)
	}
	if err != nil {
		log.Error("Failed to record model call start", "error", err)
		d.fail(taskID, d.modelAlias, nil, 0, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	callStart := time.Now()
	result, err := d.fallback.Call(callCtx, []llm.Message{{Role: llm.RoleUser, Content: userText}}, d.modelAlias)
	if err != nil {
		log.Error("Model call failed", "error", err, "duration_ms", time.Since(callStart).Milliseconds())
		d.fail(taskID, d.modelAlias, nil, time.Since(callStart).Milliseconds(), err)
		return
	}

	artifact := &models.Artifact{
		TaskID:      taskID,
		Name:        artifactName,
		Description: "Model response for task",
	}
	if err := d.artifacts.Put(ctx, artifact, []byte(result.Content)); err != nil {
		log.Error("Failed to store response artifact", "error", err)
		d.fail(taskID, d.modelAlias, result, result.DurationMS, err)
		return
	}

	completed, err := models.NewEvent(taskID, models.EventModelCallCompleted, models.ActorWorker,
		models.ModelCallCompletedPayload{
			ModelAlias:      result.ModelAlias,
			ModelName:       result.ModelName,
			Provider:        result.Provider,
			ResponseSummary: d.responseSummary(result.Content),
			DurationMS:      result.DurationMS,
			TokenUsage:      result.TokenUsage,
			CostUSD:         result.CostUSD,
			CostUnavailable: result.CostUnavailable,
			IsFallback:      result.IsFallback,
			FallbackReason:  result.FallbackReason,
			ArtifactRef:     artifact.ArtifactID,
		})
	if err == nil {
		err = d.commitProgress(ctx, completed)
	}
	if err != nil {
		log.Error("Failed to record model call completion", "error", err)
		d.fail(taskID, d.modelAlias, result, result.DurationMS, err)
		return
	}

	created, err := models.NewEvent(taskID, models.EventArtifactCreated, models.ActorWorker,
		models.ArtifactCreatedPayload{
			ArtifactID: artifact.ArtifactID,
			Name:       artifact.Name,
			Size:       artifact.Size,
			PartCount:  len(artifact.Parts),
		})
	if err == nil {
		err = d.commitProgress(ctx, created)
	}
	if err != nil {
		log.Error("Failed to record artifact creation", "error", err)
		d.fail(taskID, d.modelAlias, result, result.DurationMS, err)
		return
	}

	// RUNNING → SUCCEEDED. A conflict (cancelled mid-flight) is logged and
	// ignored; the cancel transition already closed the task.
	if ok := d.transition(ctx, taskID, models.StatusRunning, models.StatusSucceeded, "model_call_succeeded"); !ok {
		log.Info("Task left RUNNING before completion, result kept as artifact")
	}
}

// transition commits a guarded STATE_TRANSITION. Returns false on a status
// conflict; any other failure is escalated through the failure handler.
func (d *Driver) transition(ctx context.Context, taskID string, from, to models.TaskStatus, reason string) bool {
	ev, err := models.NewEvent(taskID, models.EventStateTransition, models.ActorWorker,
		models.StateTransitionPayload{FromStatus: from, ToStatus: to, Reason: reason})
	if err != nil {
		slog.Error("Failed to build transition event", "task_id", taskID, "error", err)
		return false
	}
	err = d.writer.CommitTransition(ctx, ev, to, &from)
	if err != nil {
		if store.IsStatusConflict(err) {
			return false
		}
		slog.Error("Failed to commit transition", "task_id", taskID, "to", to, "error", err)
		return false
	}
	d.publisher.Publish(ev)
	return true
}

func (d *Driver) commitProgress(ctx context.Context, ev *models.Event) error {
	if err := d.writer.CommitProgress(ctx, ev); err != nil {
		return err
	}
	d.publisher.Publish(ev)
	return nil
}

// fail is the failure handler: record MODEL_CALL_FAILED with a sanitized
// message, then transition to FAILED. A task must never stay RUNNING, so if
// even the failure event cannot be appended, the projection is forced
// directly.
//
// Failure commits use a fresh context: the call timeout may already have
// expired, and the failure record must survive regardless.
func (d *Driver) fail(taskID, alias string, result *llm.CallResult, durationMS int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := models.ModelCallFailedPayload{
		ModelAlias:   alias,
		ErrorType:    errorType(cause),
		ErrorMessage: failedCallMessage,
		DurationMS:   durationMS,
	}
	if result != nil {
		payload.ModelName = result.ModelName
		payload.Provider = result.Provider
		payload.IsFallback = result.IsFallback
	}

	failed, err := models.NewEvent(taskID, models.EventModelCallFailed, models.ActorWorker, payload)
	if err == nil {
		err = d.commitProgress(ctx, failed)
	}
	if err != nil {
		slog.Error("task_force_failed_without_event",
			"task_id", taskID, "cause", cause, "append_error", err)
		if forceErr := d.writer.ForceFailed(ctx, taskID); forceErr != nil {
			slog.Error("Failed to force task into FAILED", "task_id", taskID, "error", forceErr)
		}
		return
	}

	if ok := d.transition(ctx, taskID, models.StatusRunning, models.StatusFailed, "model_call_failed"); !ok {
		slog.Info("Task left RUNNING before failure transition", "task_id", taskID)
	}
}

// errorType labels the failure class recorded in the event payload.
func errorType(err error) string {
	var unreachable *llm.ProxyUnreachableError
	if errors.As(err, &unreachable) {
		return "ProxyUnreachable"
	}
	var provider *llm.ProviderError
	if errors.As(err, &provider) {
		return "ProviderError"
	}
	if err == nil {
		return "unknown"
	}
	return "Internal"
}

// requestSummary is the first 100 characters of the user text, prefixed the
// way downstream dashboards expect.
func requestSummary(text string) string {
	runes := []rune(text)
	if len(runes) > requestSummaryLength {
		text = string(runes[:requestSummaryLength])
	}
	return "User asks: " + text
}

// responseSummary truncates content to the payload byte budget without
// splitting a UTF-8 sequence, appending the truncation marker when content
// was cut. Content exactly at the budget passes through untouched.
func (d *Driver) responseSummary(content string) string {
	if len(content) <= d.summaryMaxBytes {
		return content
	}
	cut := d.summaryMaxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + truncationMarker
}

// String implements fmt.Stringer.
func (d *Driver) String() string {
	return fmt.Sprintf("Driver(alias=%s, active=%d)", d.modelAlias, d.ActiveCount())
}
