package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the payload contract of an event.
type EventType string

const (
	EventTaskCreated        EventType = "TASK_CREATED"
	EventUserMessage        EventType = "USER_MESSAGE"
	EventStateTransition    EventType = "STATE_TRANSITION"
	EventModelCallStarted   EventType = "MODEL_CALL_STARTED"
	EventModelCallCompleted EventType = "MODEL_CALL_COMPLETED"
	EventModelCallFailed    EventType = "MODEL_CALL_FAILED"
	EventArtifactCreated    EventType = "ARTIFACT_CREATED"
	EventError              EventType = "ERROR"
)

// ActorType identifies which component emitted an event.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorWorker ActorType = "worker"
	ActorTool   ActorType = "tool"
	ActorKernel ActorType = "kernel"
)

// SchemaVersion is the payload schema version stamped on new events.
// Payload evolution is additive only, so older versions stay decodable.
const SchemaVersion = 1

// Event is one record of the append-only task log. Events are never updated
// or deleted; (TaskID, TaskSeq) is unique and TaskSeq is strictly monotonic
// per task starting at 1.
type Event struct {
	EventID        string          `json:"event_id"`
	TaskID         string          `json:"task_id"`
	TaskSeq        int64           `json:"task_seq"`
	TS             time.Time       `json:"ts"`
	Type           EventType       `json:"type"`
	SchemaVersion  int             `json:"schema_version"`
	Actor          ActorType       `json:"actor"`
	Payload        json.RawMessage `json:"payload"`
	TraceID        string          `json:"trace_id"`
	ParentEventID  *string         `json:"parent_event_id,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
}

// NewEvent builds an event for taskID with a fresh id and timestamp. TaskSeq
// is left at zero; the transactional writer assigns it at commit time.
func NewEvent(taskID string, typ EventType, actor ActorType, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		EventID:       NewID(),
		TaskID:        taskID,
		TS:            time.Now().UTC(),
		Type:          typ,
		SchemaVersion: SchemaVersion,
		Actor:         actor,
		Payload:       raw,
		TraceID:       NewTraceID(taskID),
	}, nil
}

// DecodePayload unmarshals the event payload into dst.
func (e *Event) DecodePayload(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
