package models

import "time"

// PartType classifies the content of a single artifact part.
type PartType string

const (
	PartText  PartType = "text"
	PartFile  PartType = "file"
	PartJSON  PartType = "json"
	PartImage PartType = "image"
)

// ArtifactPart is one ordered piece of an artifact. Small content is carried
// inline; spilled content is referenced by URI.
type ArtifactPart struct {
	Type    PartType `json:"type"`
	Mime    string   `json:"mime"`
	Content string   `json:"content,omitempty"`
	URI     string   `json:"uri,omitempty"`
}

// Artifact is a durable output produced while working on a task. Content at
// or above the inline threshold lives in a file under the artifacts root and
// StorageRef points at it; smaller content is inlined in the first part.
type Artifact struct {
	ArtifactID  string         `json:"artifact_id"`
	TaskID      string         `json:"task_id"`
	TS          time.Time      `json:"ts"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parts       []ArtifactPart `json:"parts"`
	StorageRef  string         `json:"storage_ref,omitempty"`
	Size        int64          `json:"size"`
	SHA256      string         `json:"sha256"`
	Version     int            `json:"version"`
}
