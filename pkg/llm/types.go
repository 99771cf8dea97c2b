// Package llm provides the model-call layer: a LiteLLM-compatible proxy
// client, a deterministic echo adapter, alias resolution, cost accounting,
// and the fallback manager that ties them together.
package llm

import (
	"context"

	"github.com/octoagent/octoagent/pkg/models"
)

// Message roles understood by the backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallResult is the normalized outcome of one model call, regardless of
// which backend served it.
type CallResult struct {
	Content         string
	ModelAlias      string
	ModelName       string
	Provider        string
	DurationMS      int64
	TokenUsage      models.TokenUsage
	CostUSD         float64
	CostUnavailable bool
	IsFallback      bool
	FallbackReason  string
}

// Caller is implemented by every model backend. model is the resolved
// runtime group (or concrete model name), not a semantic alias.
type Caller interface {
	Call(ctx context.Context, messages []Message, model string) (*CallResult, error)
}
