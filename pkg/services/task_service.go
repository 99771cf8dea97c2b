package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/octoagent/octoagent/pkg/models"
	"github.com/octoagent/octoagent/pkg/store"
)

// Runner drives tasks through the model-call lifecycle after they are
// committed. Cancellation is not signalled: a running driver discovers it
// through status conflicts on its guarded transitions.
type Runner interface {
	Start(taskID, userText string)
}

// Publisher fans committed events out to live stream subscribers.
type Publisher interface {
	Publish(ev *models.Event)
}

// CreateTaskResult reports the outcome of a message submission. Created is
// false when the idempotency key matched an existing task and the stored
// result was returned instead.
type CreateTaskResult struct {
	TaskID  string
	Status  models.TaskStatus
	Created bool
}

// TaskDetail bundles a task with its full event history and artifacts.
type TaskDetail struct {
	Task      *models.Task
	Events    []*models.Event
	Artifacts []*models.Artifact
}

// TaskService handles message ingestion, task lifecycle, and reads.
type TaskService struct {
	writer    *store.Writer
	events    *store.EventStore
	tasks     *store.TaskStore
	artifacts *store.ArtifactStore
	publisher Publisher
	runner    Runner
}

// NewTaskService creates a new TaskService.
func NewTaskService(writer *store.Writer, events *store.EventStore, tasks *store.TaskStore,
	artifacts *store.ArtifactStore, publisher Publisher, runner Runner) *TaskService {
	if writer == nil {
		panic("NewTaskService: writer must not be nil")
	}
	if events == nil {
		panic("NewTaskService: events must not be nil")
	}
	if tasks == nil {
		panic("NewTaskService: tasks must not be nil")
	}
	if artifacts == nil {
		panic("NewTaskService: artifacts must not be nil")
	}
	return &TaskService{
		writer:    writer,
		events:    events,
		tasks:     tasks,
		artifacts: artifacts,
		publisher: publisher,
		runner:    runner,
	}
}

// CreateTask turns a normalized inbound message into a task. Submissions
// are idempotent on the message's idempotency key: a replay returns the
// existing task with Created=false and starts nothing.
func (s *TaskService) CreateTask(ctx context.Context, msg *models.NormalizedMessage) (*CreateTaskResult, error) {
	if msg.IdempotencyKey == "" {
		return nil, NewValidationError("idempotency_key", "idempotency key is required")
	}
	if msg.Channel == "" {
		return nil, NewValidationError("channel", "channel is required")
	}
	if msg.SenderID == "" {
		return nil, NewValidationError("sender_id", "sender id is required")
	}

	// Fast path: the key was already consumed.
	if taskID, err := s.events.FindByIdempotency(ctx, msg.IdempotencyKey); err == nil {
		return s.replayResult(ctx, taskID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	now := time.Now().UTC()
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = "default"
	}
	scopeID := msg.ScopeID
	if scopeID == "" {
		scopeID = fmt.Sprintf("chat:%s:%s", msg.Channel, threadID)
	}
	task := &models.Task{
		TaskID:   models.NewID(),
		Status:   models.StatusCreated,
		Title:    models.DeriveTitle(msg.Text),
		ThreadID: threadID,
		ScopeID:  scopeID,
		Requester: models.Requester{
			Channel:  msg.Channel,
			SenderID: msg.SenderID,
		},
		RiskLevel: models.RiskLow,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := models.NewEvent(task.TaskID, models.EventTaskCreated, models.ActorSystem,
		models.TaskCreatedPayload{
			Title:    task.Title,
			ThreadID: task.ThreadID,
			ScopeID:  task.ScopeID,
			Channel:  msg.Channel,
			SenderID: msg.SenderID,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to build task created event: %w", err)
	}
	key := msg.IdempotencyKey
	created.IdempotencyKey = &key

	userMsg, err := models.NewEvent(task.TaskID, models.EventUserMessage, models.ActorUser,
		models.UserMessagePayload{
			TextPreview:     models.Preview(msg.Text),
			TextLength:      len([]rune(msg.Text)),
			AttachmentCount: len(msg.Attachments),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to build user message event: %w", err)
	}

	err = s.writer.CommitInitial(ctx, task, []*models.Event{created, userMsg})
	if errors.Is(err, store.ErrIdempotencyConflict) {
		// Lost the race against a concurrent submission with the same key.
		taskID, findErr := s.events.FindByIdempotency(ctx, msg.IdempotencyKey)
		if findErr != nil {
			return nil, fmt.Errorf("failed to resolve idempotency conflict: %w", findErr)
		}
		return s.replayResult(ctx, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit task: %w", err)
	}

	s.publish(created)
	s.publish(userMsg)

	slog.Info("Task created", "task_id", task.TaskID, "channel", msg.Channel, "thread_id", task.ThreadID)

	if s.runner != nil {
		s.runner.Start(task.TaskID, msg.Text)
	}

	return &CreateTaskResult{TaskID: task.TaskID, Status: models.StatusCreated, Created: true}, nil
}

func (s *TaskService) replayResult(ctx context.Context, taskID string) (*CreateTaskResult, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing task %s: %w", taskID, err)
	}
	return &CreateTaskResult{TaskID: task.TaskID, Status: task.Status, Created: false}, nil
}

// CancelTask requests cancellation of a task. Terminal tasks cannot be
// cancelled; a conflict with a concurrent transition is reported as
// ErrAlreadyTerminal when the task ended up terminal.
func (s *TaskService) CancelTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, store.ErrAlreadyTerminal
	}
	if err := models.ValidateTransition(task.Status, models.StatusCancelled); err != nil {
		return nil, err
	}

	from := task.Status
	ev, err := models.NewEvent(taskID, models.EventStateTransition, models.ActorUser,
		models.StateTransitionPayload{
			FromStatus: from,
			ToStatus:   models.StatusCancelled,
			Reason:     "user cancelled",
		})
	if err != nil {
		return nil, fmt.Errorf("failed to build cancel event: %w", err)
	}

	err = s.writer.CommitTransition(ctx, ev, models.StatusCancelled, &from)
	if store.IsStatusConflict(err) {
		// Someone moved the task first. Report terminal outcomes as such.
		current, getErr := s.tasks.GetTask(ctx, taskID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status.IsTerminal() {
			return nil, store.ErrAlreadyTerminal
		}
		return nil, fmt.Errorf("task %s changed status during cancellation: %w", taskID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	s.publish(ev)

	slog.Info("Task cancelled", "task_id", taskID, "from_status", from)

	return s.tasks.GetTask(ctx, taskID)
}

// GetTask returns the task projection.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.tasks.GetTask(ctx, taskID)
}

// GetTaskDetail returns the task with its event history and artifacts.
func (s *TaskService) GetTaskDetail(ctx context.Context, taskID string) (*TaskDetail, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.EventsFor(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for task %s: %w", taskID, err)
	}
	artifacts, err := s.artifacts.ArtifactsFor(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts for task %s: %w", taskID, err)
	}
	return &TaskDetail{Task: task, Events: events, Artifacts: artifacts}, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
// An empty status means no filter.
func (s *TaskService) ListTasks(ctx context.Context, status string) ([]*models.Task, error) {
	filter := models.TaskStatus(status)
	if filter != "" && !filter.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status '%s'", status))
	}
	return s.tasks.ListTasks(ctx, filter)
}

func (s *TaskService) publish(ev *models.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
}
