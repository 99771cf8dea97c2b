// Package events distributes committed events to SSE subscribers: an
// in-process hub with bounded per-subscriber queues, and a stream writer
// that handles replay, live delivery, heartbeats, and terminal close.
package events

import (
	"log/slog"
	"sync"

	"github.com/octoagent/octoagent/pkg/models"
)

// subscriberQueueSize bounds each subscriber's buffer. A subscriber that
// falls this far behind is dropped rather than allowed to stall the
// publisher; it can reconnect and replay.
const subscriberQueueSize = 100

// Subscriber receives a task's events through a bounded channel. C is
// closed by the hub when the subscriber is dropped or unsubscribed.
type Subscriber struct {
	C      chan *models.Event
	taskID string
	once   sync.Once
}

// Hub fans committed events out to per-task subscribers. Publishing never
// blocks: delivery is at-least-once for attached subscribers, and overflow
// drops the lagging subscriber.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers for a task's events. Register before opening replay
// so nothing committed during replay is missed; duplicates across the
// replay/live boundary are handled by the stream writer's seq cutoff.
func (h *Hub) Subscribe(taskID string) *Subscriber {
	sub := &Subscriber{
		C:      make(chan *models.Event, subscriberQueueSize),
		taskID: taskID,
	}
	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[taskID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call more than
// once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	h.detachLocked(sub)
	h.mu.Unlock()
}

// detachLocked removes sub from the registry and closes its channel.
// Caller holds h.mu.
func (h *Hub) detachLocked(sub *Subscriber) {
	set, ok := h.subs[sub.taskID]
	if !ok {
		return
	}
	if _, attached := set[sub]; !attached {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.taskID)
	}
	sub.once.Do(func() { close(sub.C) })
}

// Publish delivers ev to every subscriber of its task without blocking.
// Subscribers whose queue is full are dropped.
func (h *Hub) Publish(ev *models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[ev.TaskID]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.C <- ev:
		default:
			slog.Warn("Dropping slow event subscriber",
				"task_id", ev.TaskID, "queue_size", subscriberQueueSize)
			h.detachLocked(sub)
		}
	}
}

// SubscriberCount reports the live subscribers for a task.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
