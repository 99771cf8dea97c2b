package llm

import (
	"context"
	"strings"
	"time"

	"github.com/octoagent/octoagent/pkg/models"
)

// EchoAdapter is the deterministic local backend. It echoes the last
// user-role message and synthesizes token counts, so the engine stays fully
// functional without any remote model. The fallback chain always ends here.
type EchoAdapter struct{}

// NewEchoAdapter creates an EchoAdapter.
func NewEchoAdapter() *EchoAdapter {
	return &EchoAdapter{}
}

// Call returns "Echo: <content>" for the last user message. Token counts
// are word counts; cost is zero and always available.
func (a *EchoAdapter) Call(ctx context.Context, messages []Message, model string) (*CallResult, error) {
	start := time.Now()

	content := lastUserContent(messages)
	response := "Echo: " + content

	prompt := len(strings.Fields(content))
	completion := len(strings.Fields(response))

	return &CallResult{
		Content:    response,
		ModelAlias: model,
		ModelName:  "echo",
		Provider:   "echo",
		DurationMS: time.Since(start).Milliseconds(),
		TokenUsage: models.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		CostUSD:         0.0,
		CostUnavailable: false,
	}, nil
}

// lastUserContent extracts the content of the last user-role message,
// degrading to the last message of any role, then to "(empty)".
func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return "(empty)"
}
