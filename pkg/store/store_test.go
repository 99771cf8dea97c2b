package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/octoagent/pkg/database"
	"github.com/octoagent/octoagent/pkg/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	client, err := database.NewClient(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

func newTestWriter(t *testing.T, db *sql.DB) *Writer {
	t.Helper()
	return NewWriter(db, NewTaskLocker())
}

// seedTask commits a fresh task with its TASK_CREATED and USER_MESSAGE
// events and returns it.
func seedTask(t *testing.T, w *Writer, idempotencyKey string) *models.Task {
	t.Helper()
	now := time.Now().UTC()
	task := &models.Task{
		TaskID:    models.NewID(),
		Status:    models.StatusCreated,
		Title:     "hello",
		ThreadID:  "default",
		Requester: models.Requester{Channel: "api", SenderID: "u1"},
		RiskLevel: models.RiskLow,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := models.NewEvent(task.TaskID, models.EventTaskCreated, models.ActorSystem,
		models.TaskCreatedPayload{Title: "hello", ThreadID: "default", Channel: "api", SenderID: "u1"})
	require.NoError(t, err)
	created.IdempotencyKey = &idempotencyKey

	userMsg, err := models.NewEvent(task.TaskID, models.EventUserMessage, models.ActorUser,
		models.UserMessagePayload{TextPreview: "hello", TextLength: 5})
	require.NoError(t, err)

	require.NoError(t, w.CommitInitial(context.Background(), task, []*models.Event{created, userMsg}))
	return task
}

func TestCommitInitialAssignsSequence(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")

	events, err := NewEventStore(db).EventsFor(context.Background(), task.TaskID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].TaskSeq)
	assert.Equal(t, models.EventTaskCreated, events[0].Type)
	assert.Equal(t, int64(2), events[1].TaskSeq)
	assert.Equal(t, models.EventUserMessage, events[1].Type)

	got, err := NewTaskStore(db).GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status)
	assert.Equal(t, events[1].EventID, got.Pointers.LatestEventID)
}

func TestCommitInitialDuplicateIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	first := seedTask(t, w, "dup")

	now := time.Now().UTC()
	second := &models.Task{
		TaskID: models.NewID(), Status: models.StatusCreated,
		CreatedAt: now, UpdatedAt: now,
	}
	key := "dup"
	ev, err := models.NewEvent(second.TaskID, models.EventTaskCreated, models.ActorSystem,
		models.TaskCreatedPayload{Title: "again"})
	require.NoError(t, err)
	ev.IdempotencyKey = &key

	err = w.CommitInitial(context.Background(), second, []*models.Event{ev})
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	// Rollback must leave neither the task row nor the event behind.
	_, err = NewTaskStore(db).GetTask(context.Background(), second.TaskID)
	assert.ErrorIs(t, err, ErrNotFound)

	taskID, err := NewEventStore(db).FindByIdempotency(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, taskID)
}

func TestCommitProgressExtendsSequence(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")

	ev, err := models.NewEvent(task.TaskID, models.EventModelCallStarted, models.ActorWorker,
		models.ModelCallStartedPayload{ModelAlias: "executor", RequestSummary: "User asks: hello"})
	require.NoError(t, err)
	require.NoError(t, w.CommitProgress(context.Background(), ev))
	assert.Equal(t, int64(3), ev.TaskSeq)

	got, err := NewTaskStore(db).GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status, "progress must not touch status")
	assert.Equal(t, ev.EventID, got.Pointers.LatestEventID)
}

func TestCommitTransitionGuardsExpectedStatus(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	running := models.StatusRunning
	created := models.StatusCreated

	ev, err := models.NewEvent(task.TaskID, models.EventStateTransition, models.ActorSystem,
		models.StateTransitionPayload{FromStatus: created, ToStatus: running})
	require.NoError(t, err)
	require.NoError(t, w.CommitTransition(ctx, ev, running, &created))

	// A second guarded CREATED→RUNNING attempt sees RUNNING and fails.
	ev2, err := models.NewEvent(task.TaskID, models.EventStateTransition, models.ActorSystem,
		models.StateTransitionPayload{FromStatus: created, ToStatus: running})
	require.NoError(t, err)
	err = w.CommitTransition(ctx, ev2, running, &created)
	require.Error(t, err)
	assert.True(t, IsStatusConflict(err))

	// The conflicting attempt must not have appended anything.
	events, err := NewEventStore(db).EventsFor(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestTerminalTransitionRetiresLockEntry(t *testing.T) {
	db := newTestDB(t)
	locker := NewTaskLocker()
	w := NewWriter(db, locker)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	created := models.StatusCreated
	ev, err := models.NewEvent(task.TaskID, models.EventStateTransition, models.ActorSystem,
		models.StateTransitionPayload{FromStatus: created, ToStatus: models.StatusCancelled, Reason: "user cancelled"})
	require.NoError(t, err)
	require.NoError(t, w.CommitTransition(ctx, ev, models.StatusCancelled, &created))

	assert.Equal(t, 0, locker.Len(), "terminal transition should reclaim the lock entry")
}

func TestSequenceHasNoGaps(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev, err := models.NewEvent(task.TaskID, models.EventError, models.ActorSystem,
			models.ErrorPayload{ErrorType: "system", ErrorMessage: "transient fault"})
		require.NoError(t, err)
		require.NoError(t, w.CommitProgress(ctx, ev))
	}

	events, err := NewEventStore(db).EventsFor(ctx, task.TaskID)
	require.NoError(t, err)
	require.Len(t, events, 7)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.TaskSeq)
	}
}

func TestSequenceMonotonicUnderConcurrentCommits(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	const writers = 20
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := models.NewEvent(task.TaskID, models.EventError, models.ActorSystem,
				models.ErrorPayload{ErrorType: "system", ErrorMessage: "transient fault"})
			if err == nil {
				err = w.CommitProgress(ctx, ev)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	events, err := NewEventStore(db).EventsFor(ctx, task.TaskID)
	require.NoError(t, err)
	require.Len(t, events, writers+2)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.TaskSeq, "sequence must stay gap-free")
	}
}

func TestCommitTransitionRejectsIllegalEdge(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	created := models.StatusCreated
	ev, err := models.NewEvent(task.TaskID, models.EventStateTransition, models.ActorSystem,
		models.StateTransitionPayload{FromStatus: created, ToStatus: models.StatusSucceeded})
	require.NoError(t, err)
	err = w.CommitTransition(ctx, ev, models.StatusSucceeded, &created)
	require.ErrorIs(t, err, ErrIllegalTransition)

	// The rejected commit must leave no trace.
	events, err := NewEventStore(db).EventsFor(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	got, err := NewTaskStore(db).GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status)
}

func TestEventsAfterUsesEventIDOrdering(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	events, err := NewEventStore(db).EventsFor(ctx, task.TaskID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	after, err := NewEventStore(db).EventsAfter(ctx, task.TaskID, events[0].EventID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, events[1].EventID, after[0].EventID)
}

func TestCommitProgressMissingTask(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)

	ev, err := models.NewEvent("no-such-task", models.EventError, models.ActorSystem,
		models.ErrorPayload{ErrorType: "system", ErrorMessage: "x"})
	require.NoError(t, err)
	err = w.CommitProgress(context.Background(), ev)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForceStatus(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	task := seedTask(t, w, "k1")
	ctx := context.Background()

	tasks := NewTaskStore(db)
	require.NoError(t, tasks.ForceStatus(ctx, task.TaskID, models.StatusFailed))

	got, err := tasks.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	assert.ErrorIs(t, tasks.ForceStatus(ctx, "missing", models.StatusFailed), ErrNotFound)
}

func TestListTasksFilterAndOrder(t *testing.T) {
	db := newTestDB(t)
	w := newTestWriter(t, db)
	ctx := context.Background()

	a := seedTask(t, w, "ka")
	time.Sleep(5 * time.Millisecond)
	b := seedTask(t, w, "kb")

	created := models.StatusCreated
	ev, err := models.NewEvent(a.TaskID, models.EventStateTransition, models.ActorSystem,
		models.StateTransitionPayload{FromStatus: created, ToStatus: models.StatusCancelled})
	require.NoError(t, err)
	require.NoError(t, w.CommitTransition(ctx, ev, models.StatusCancelled, &created))

	tasks := NewTaskStore(db)

	all, err := tasks.ListTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.TaskID, all[0].TaskID, "newest first")

	cancelled, err := tasks.ListTasks(ctx, models.StatusCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.TaskID, cancelled[0].TaskID)
}

func TestTaskLockerSerializes(t *testing.T) {
	locker := NewTaskLocker()

	unlock := locker.Lock("t1")
	acquired := make(chan struct{})
	go func() {
		u := locker.Lock("t1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestTaskLockerRetireWaitsForHolders(t *testing.T) {
	locker := NewTaskLocker()

	unlock := locker.Lock("t1")
	locker.Retire("t1")
	assert.Equal(t, 1, locker.Len(), "held entry survives until unlock")
	unlock()
	assert.Equal(t, 0, locker.Len())

	// Retiring an absent entry is a no-op.
	locker.Retire("missing")
}
