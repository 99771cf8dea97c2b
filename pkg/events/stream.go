package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/octoagent/octoagent/pkg/models"
)

// HistoryReader supplies committed events for replay.
type HistoryReader interface {
	EventsFor(ctx context.Context, taskID string) ([]*models.Event, error)
	EventsAfter(ctx context.Context, taskID, afterEventID string) ([]*models.Event, error)
}

// StreamRecord is the JSON data frame of one SSE message.
type StreamRecord struct {
	EventID string          `json:"event_id"`
	TaskID  string          `json:"task_id"`
	TaskSeq int64           `json:"task_seq"`
	TS      time.Time       `json:"ts"`
	Type    models.EventType `json:"type"`
	Actor   models.ActorType `json:"actor"`
	Payload json.RawMessage `json:"payload"`
	Final   bool            `json:"final"`
}

// Streamer writes a task's event stream to an SSE response: replay from
// history, then live delivery from the hub, with heartbeats while idle and
// a close after the terminal event.
type Streamer struct {
	hub       *Hub
	history   HistoryReader
	heartbeat time.Duration
}

// NewStreamer creates a Streamer.
func NewStreamer(hub *Hub, history HistoryReader, heartbeat time.Duration) *Streamer {
	return &Streamer{hub: hub, history: history, heartbeat: heartbeat}
}

// Stream serves one subscriber until the task reaches a terminal state, the
// client disconnects, or the subscriber is dropped for lagging. lastEventID
// resumes replay after the given event id; empty means full replay.
//
// Registration happens before the history read so an event committed during
// replay is seen either in history, in the queue, or both; the seq cutoff
// discards queued duplicates so task_seq never goes backwards on the wire.
func (s *Streamer) Stream(ctx context.Context, w http.ResponseWriter, taskID, lastEventID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe(taskID)
	defer s.hub.Unsubscribe(sub)

	var (
		history []*models.Event
		err     error
	)
	if lastEventID != "" {
		history, err = s.history.EventsAfter(ctx, taskID, lastEventID)
	} else {
		history, err = s.history.EventsFor(ctx, taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to read event history: %w", err)
	}

	var lastSeq int64
	for _, ev := range history {
		final := isFinal(ev)
		if err := writeEvent(w, flusher, ev, final); err != nil {
			return err
		}
		lastSeq = ev.TaskSeq
		if final {
			return nil
		}
	}

	idle := time.NewTimer(s.heartbeat)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, open := <-sub.C:
			if !open {
				// Dropped by the hub for lagging; the client reconnects
				// with Last-Event-ID and replays.
				slog.Debug("Subscriber channel closed", "task_id", taskID)
				return nil
			}
			if ev.TaskSeq <= lastSeq {
				continue
			}
			final := isFinal(ev)
			if err := writeEvent(w, flusher, ev, final); err != nil {
				return err
			}
			lastSeq = ev.TaskSeq
			if final {
				return nil
			}
			resetTimer(idle, s.heartbeat)

		case <-idle.C:
			if _, err := fmt.Fprint(w, ":heartbeat\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			idle.Reset(s.heartbeat)
		}
	}
}

// isFinal reports whether ev is a STATE_TRANSITION into a terminal status.
func isFinal(ev *models.Event) bool {
	if ev.Type != models.EventStateTransition {
		return false
	}
	var p models.StateTransitionPayload
	if err := ev.DecodePayload(&p); err != nil {
		return false
	}
	return p.ToStatus.IsTerminal()
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev *models.Event, final bool) error {
	record := StreamRecord{
		EventID: ev.EventID,
		TaskID:  ev.TaskID,
		TaskSeq: ev.TaskSeq,
		TS:      ev.TS,
		Type:    ev.Type,
		Actor:   ev.Actor,
		Payload: ev.Payload,
		Final:   final,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal stream record: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EventID, ev.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
