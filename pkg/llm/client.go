package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// healthCheckTimeout bounds the liveliness probe. Hardcoded: health checks
// must answer fast or not at all.
const healthCheckTimeout = 5 * time.Second

// ProxyClient calls a LiteLLM-compatible proxy over its OpenAI-style chat
// completion API. The api key is the proxy management key; provider keys
// live only in the proxy's own environment.
type ProxyClient struct {
	baseURL string
	api     *openai.Client
	http    *http.Client
	cost    CostTracker
}

// NewProxyClient creates a client for the proxy at baseURL.
func NewProxyClient(baseURL, apiKey string, timeout time.Duration) *ProxyClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if apiKey == "" {
		apiKey = "no-key"
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL + "/v1"
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &ProxyClient{
		baseURL: baseURL,
		api:     openai.NewClientWithConfig(cfg),
		http:    &http.Client{Timeout: healthCheckTimeout},
	}
}

// Call sends a chat completion for the resolved runtime group. Connection
// failures surface as ProxyUnreachableError, remote failures as a
// recoverable ProviderError; both make the fallback manager degrade.
func (c *ProxyClient) Call(ctx context.Context, messages []Message, model string) (*CallResult, error) {
	start := time.Now()

	req := openai.ChatCompletionRequest{Model: model}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	slog.Debug("Proxy call starting", "model", model, "messages", len(messages))

	resp, err := c.api.CreateChatCompletion(ctx, req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		slog.Error("Proxy call failed", "model", model, "duration_ms", duration, "error", err)
		if isConnectionError(err) {
			return nil, &ProxyUnreachableError{Err: err}
		}
		return nil, &ProviderError{Err: err, Recoverable: true}
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	result := &CallResult{
		Content:    content,
		ModelAlias: model,
		ModelName:  resp.Model,
		Provider:   ProviderFor(resp.Model),
		DurationMS: duration,
	}
	result.TokenUsage.PromptTokens = resp.Usage.PromptTokens
	result.TokenUsage.CompletionTokens = resp.Usage.CompletionTokens
	result.TokenUsage.TotalTokens = resp.Usage.TotalTokens
	result.CostUSD, result.CostUnavailable = c.cost.Calculate(resp.Model, result.TokenUsage, resp.Header())

	slog.Info("Proxy call completed",
		"model", model,
		"model_name", result.ModelName,
		"provider", result.Provider,
		"duration_ms", duration,
		"cost_usd", result.CostUSD)

	return result, nil
}

// HealthCheck probes GET <base>/health/liveliness. Never returns an error;
// reachability is a boolean.
func (c *ProxyClient) HealthCheck(ctx context.Context) bool {
	probeURL := c.baseURL + "/health/liveliness"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("Proxy health check failed", "url", probeURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// isConnectionError classifies transport-level failures: DNS, refused
// connections, timeouts. Well-formed remote errors (an *openai.APIError)
// are never connection errors.
func isConnectionError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	// go-openai wraps transport errors in a RequestError with a zero
	// status code.
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0
	}
	return false
}

// String implements fmt.Stringer for diagnostics.
func (c *ProxyClient) String() string {
	return fmt.Sprintf("ProxyClient(%s)", c.baseURL)
}
