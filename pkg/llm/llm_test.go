package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/octoagent/pkg/models"
)

func TestAliasRegistryDefaults(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	assert.Equal(t, GroupCheap, registry.Resolve("router"))
	assert.Equal(t, GroupCheap, registry.Resolve("extractor"))
	assert.Equal(t, GroupCheap, registry.Resolve("summarizer"))
	assert.Equal(t, GroupMain, registry.Resolve("planner"))
	assert.Equal(t, GroupMain, registry.Resolve("executor"))
	assert.Equal(t, GroupFallback, registry.Resolve("fallback"))
}

func TestAliasRegistryPassThroughAndUnknown(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	// Runtime group names pass through unchanged.
	assert.Equal(t, GroupCheap, registry.Resolve(GroupCheap))
	assert.Equal(t, GroupMain, registry.Resolve(GroupMain))
	assert.Equal(t, GroupFallback, registry.Resolve(GroupFallback))

	// Unknown aliases degrade to main.
	assert.Equal(t, GroupMain, registry.Resolve("philosopher"))
}

func TestAliasRegistryOverrides(t *testing.T) {
	registry, err := NewAliasRegistry(map[string]string{"router": GroupMain, "critic": GroupCheap})
	require.NoError(t, err)
	assert.Equal(t, GroupMain, registry.Resolve("router"))
	assert.Equal(t, GroupCheap, registry.Resolve("critic"))

	_, err = NewAliasRegistry(map[string]string{"router": "premium"})
	assert.Error(t, err)
}

func TestLoadAliasRegistryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("critic: cheap\nplanner: fallback\n"), 0o644))

	registry, err := LoadAliasRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, GroupCheap, registry.Resolve("critic"))
	assert.Equal(t, GroupFallback, registry.Resolve("planner"))

	_, err = LoadAliasRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEchoAdapterEchoesLastUserMessage(t *testing.T) {
	adapter := NewEchoAdapter()

	result, err := adapter.Call(context.Background(), []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "Hello OctoAgent"},
	}, GroupFallback)
	require.NoError(t, err)

	assert.Equal(t, "Echo: Hello OctoAgent", result.Content)
	assert.Equal(t, "echo", result.Provider)
	assert.Equal(t, "echo", result.ModelName)
	assert.Equal(t, 0.0, result.CostUSD)
	assert.False(t, result.CostUnavailable)
	assert.False(t, result.IsFallback)

	// Word-count token synthesis.
	assert.Equal(t, 2, result.TokenUsage.PromptTokens)
	assert.Equal(t, 3, result.TokenUsage.CompletionTokens)
	assert.Equal(t, 5, result.TokenUsage.TotalTokens)
}

func TestEchoAdapterDegradedExtraction(t *testing.T) {
	adapter := NewEchoAdapter()
	ctx := context.Background()

	t.Run("no user role falls back to last message", func(t *testing.T) {
		result, err := adapter.Call(ctx, []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleAssistant, Content: "reply"},
		}, GroupFallback)
		require.NoError(t, err)
		assert.Equal(t, "Echo: reply", result.Content)
	})

	t.Run("empty messages yield placeholder", func(t *testing.T) {
		result, err := adapter.Call(ctx, nil, GroupFallback)
		require.NoError(t, err)
		assert.Equal(t, "Echo: (empty)", result.Content)
	})
}

func TestCostTrackerPricingTable(t *testing.T) {
	usage := models.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}

	cost, unavailable := CostTracker{}.Calculate("gpt-4o-mini", usage, nil)
	assert.False(t, unavailable)
	assert.InDelta(t, 0.00075, cost, 1e-9)

	// Dated snapshot names resolve through prefix matching.
	_, unavailable = CostTracker{}.Calculate("gpt-4o-2024-08-06", usage, nil)
	assert.False(t, unavailable)

	// Provider-prefixed model names shed the prefix first.
	_, unavailable = CostTracker{}.Calculate("openai/gpt-4o", usage, nil)
	assert.False(t, unavailable)
}

func TestCostTrackerHeaderChannel(t *testing.T) {
	usage := models.TokenUsage{PromptTokens: 10, CompletionTokens: 10}

	header := http.Header{}
	header.Set("x-litellm-response-cost", "0.00042")
	cost, unavailable := CostTracker{}.Calculate("mystery-model", usage, header)
	assert.False(t, unavailable)
	assert.InDelta(t, 0.00042, cost, 1e-9)
}

func TestCostTrackerBothChannelsMiss(t *testing.T) {
	cost, unavailable := CostTracker{}.Calculate("mystery-model", models.TokenUsage{}, nil)
	assert.True(t, unavailable)
	assert.Equal(t, 0.0, cost)

	header := http.Header{}
	header.Set("x-litellm-response-cost", "not-a-number")
	cost, unavailable = CostTracker{}.Calculate("mystery-model", models.TokenUsage{}, header)
	assert.True(t, unavailable)
	assert.Equal(t, 0.0, cost)
}

func TestProviderFor(t *testing.T) {
	assert.Equal(t, "openai", ProviderFor("gpt-4o"))
	assert.Equal(t, "anthropic", ProviderFor("claude-3-5-sonnet-20241022"))
	assert.Equal(t, "google", ProviderFor("gemini-2.0-flash"))
	assert.Equal(t, "groq", ProviderFor("groq/llama-3.1-70b"))
	assert.Equal(t, "", ProviderFor("mystery"))
}

// stubCaller scripts backend behavior for fallback tests.
type stubCaller struct {
	result *CallResult
	err    error
	calls  int
	model  string
}

func (s *stubCaller) Call(_ context.Context, _ []Message, model string) (*CallResult, error) {
	s.calls++
	s.model = model
	if s.err != nil {
		return nil, s.err
	}
	out := *s.result
	return &out, nil
}

func TestFallbackManagerPrimarySuccess(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	primary := &stubCaller{result: &CallResult{Content: "answer", ModelName: "gpt-4o"}}
	fallback := &stubCaller{result: &CallResult{Content: "Echo: hi"}}
	manager := NewFallbackManager(registry, primary, fallback)

	result, err := manager.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "planner")
	require.NoError(t, err)
	assert.Equal(t, "answer", result.Content)
	assert.Equal(t, "planner", result.ModelAlias)
	assert.False(t, result.IsFallback)
	assert.Equal(t, GroupMain, primary.model, "alias resolved before the call")
	assert.Equal(t, 0, fallback.calls)
}

func TestFallbackManagerDegrades(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	primaryErr := &ProxyUnreachableError{Err: errors.New("connection refused")}
	primary := &stubCaller{err: primaryErr}
	fallback := &stubCaller{result: &CallResult{Content: "Echo: hi", Provider: "echo"}}
	manager := NewFallbackManager(registry, primary, fallback)

	result, err := manager.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "executor")
	require.NoError(t, err)
	assert.True(t, result.IsFallback)
	assert.Equal(t, primaryErr.Error(), result.FallbackReason)
	assert.Equal(t, "Echo: hi", result.Content)
	assert.Equal(t, 1, fallback.calls)
}

func TestFallbackManagerRecoversNextCall(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	primary := &stubCaller{err: &ProxyUnreachableError{Err: errors.New("down")}}
	fallback := &stubCaller{result: &CallResult{Content: "Echo: hi"}}
	manager := NewFallbackManager(registry, primary, fallback)
	ctx := context.Background()
	messages := []Message{{Role: RoleUser, Content: "hi"}}

	result, err := manager.Call(ctx, messages, "main")
	require.NoError(t, err)
	assert.True(t, result.IsFallback)

	// No sticky health state: primary recovery is picked up immediately.
	primary.err = nil
	primary.result = &CallResult{Content: "back online"}
	result, err = manager.Call(ctx, messages, "main")
	require.NoError(t, err)
	assert.False(t, result.IsFallback)
	assert.Equal(t, "back online", result.Content)
	assert.Equal(t, 2, primary.calls)
}

func TestFallbackManagerBothFail(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	primary := &stubCaller{err: &ProxyUnreachableError{Err: errors.New("down")}}
	fallback := &stubCaller{err: errors.New("echo exploded")}
	manager := NewFallbackManager(registry, primary, fallback)

	_, err = manager.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "main")
	require.Error(t, err)
	var provider *ProviderError
	require.ErrorAs(t, err, &provider)
	assert.False(t, provider.Recoverable)
	assert.False(t, IsRecoverable(err))
}

func TestFallbackManagerNoFallbackConfigured(t *testing.T) {
	registry, err := NewAliasRegistry(nil)
	require.NoError(t, err)

	primary := &stubCaller{err: errors.New("boom")}
	manager := NewFallbackManager(registry, primary, nil)

	_, err = manager.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "main")
	require.Error(t, err)
	assert.False(t, IsRecoverable(err))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(&ProxyUnreachableError{Err: errors.New("x")}))
	assert.True(t, IsRecoverable(&ProviderError{Err: errors.New("x"), Recoverable: true}))
	assert.False(t, IsRecoverable(&ProviderError{Err: errors.New("x")}))
	assert.False(t, IsRecoverable(errors.New("plain")))
}
