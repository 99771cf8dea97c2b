package models

import "time"

// Attachment describes a file attached to an inbound message. Only counted
// today; content handling is out of scope for the driver.
type Attachment struct {
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// NormalizedMessage is the channel-agnostic ingress input. IdempotencyKey is
// required and deduplicates concurrent submissions of the same message.
type NormalizedMessage struct {
	Channel        string       `json:"channel"`
	ThreadID       string       `json:"thread_id"`
	ScopeID        string       `json:"scope_id,omitempty"`
	SenderID       string       `json:"sender_id"`
	SenderName     string       `json:"sender_name"`
	Timestamp      time.Time    `json:"timestamp"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
}
