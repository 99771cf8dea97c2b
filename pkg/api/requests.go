package api

import (
	"time"

	"github.com/octoagent/octoagent/pkg/models"
)

// SubmitMessageRequest is the body of POST /api/v1/messages: a normalized
// inbound message from any channel adapter.
type SubmitMessageRequest struct {
	Channel        string              `json:"channel"`
	ThreadID       string              `json:"thread_id"`
	ScopeID        string              `json:"scope_id"`
	SenderID       string              `json:"sender_id"`
	SenderName     string              `json:"sender_name"`
	Timestamp      time.Time           `json:"timestamp"`
	Text           string              `json:"text"`
	Attachments    []models.Attachment `json:"attachments"`
	IdempotencyKey string              `json:"idempotency_key"`
}

func (r *SubmitMessageRequest) toMessage() *models.NormalizedMessage {
	return &models.NormalizedMessage{
		Channel:        r.Channel,
		ThreadID:       r.ThreadID,
		ScopeID:        r.ScopeID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		Timestamp:      r.Timestamp,
		Text:           r.Text,
		Attachments:    r.Attachments,
		IdempotencyKey: r.IdempotencyKey,
	}
}
