package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/octoagent/octoagent/pkg/models"
)

// timeFormat is how timestamps are persisted. Lexicographic order of the
// stored text matches chronological order.
const timeFormat = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EventStore reads the append-only event log. All writes go through the
// Writer so that log and projection stay consistent.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore over db.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `event_id, task_id, task_seq, ts, type, schema_version, actor, payload, trace_id, parent_event_id, idempotency_key`

// insertEvent appends one event inside an ongoing transaction. Constraint
// violations are translated into the typed conflicts.
func insertEvent(ctx context.Context, q querier, ev *models.Event) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.TaskID, ev.TaskSeq, ev.TS.UTC().Format(timeFormat),
		string(ev.Type), ev.SchemaVersion, string(ev.Actor), string(payload),
		ev.TraceID, ev.ParentEventID, ev.IdempotencyKey,
	)
	if err != nil {
		return translateConstraintError(err)
	}
	return nil
}

// nextTaskSeq returns MAX(task_seq)+1 for taskID, starting at 1. Must run
// under the per-task lock; the unique index backstops any race that slips
// through.
func nextTaskSeq(ctx context.Context, q querier, taskID string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(task_seq), 0) + 1 FROM events WHERE task_id = ?`, taskID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next task_seq: %w", err)
	}
	return seq, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var (
			ev      models.Event
			ts      string
			typ     string
			actor   string
			payload string
		)
		if err := rows.Scan(&ev.EventID, &ev.TaskID, &ev.TaskSeq, &ts, &typ,
			&ev.SchemaVersion, &actor, &payload, &ev.TraceID,
			&ev.ParentEventID, &ev.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		parsed, err := time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		ev.TS = parsed
		ev.Type = models.EventType(typ)
		ev.Actor = models.ActorType(actor)
		ev.Payload = json.RawMessage(payload)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// EventsFor returns all events of a task ordered by task_seq ascending.
func (s *EventStore) EventsFor(ctx context.Context, taskID string) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE task_id = ? ORDER BY task_seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events of a task with event_id strictly greater than
// afterEventID, ordered by task_seq. Event ids are time-ordered, so the
// comparison is a plain lexicographic one.
func (s *EventStore) EventsAfter(ctx context.Context, taskID, afterEventID string) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE task_id = ? AND event_id > ? ORDER BY task_seq ASC`,
		taskID, afterEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// AllEventsOrdered returns the whole log ordered by (task_id, task_seq).
// Used by the projection rebuilder.
func (s *EventStore) AllEventsOrdered(ctx context.Context) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY task_id ASC, task_seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FindByIdempotency resolves an idempotency key to the task that first
// carried it. Returns ErrNotFound when the key is unused.
func (s *EventStore) FindByIdempotency(ctx context.Context, key string) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id FROM events WHERE idempotency_key = ?`, key,
	).Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return taskID, nil
}
