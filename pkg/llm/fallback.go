package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackManager chains a primary backend with a local fallback. Health is
// probed lazily: every call tries primary first, so a recovered proxy is
// picked up on the very next call with no sticky degraded state.
type FallbackManager struct {
	registry *AliasRegistry
	primary  Caller
	fallback Caller
}

// NewFallbackManager wires the chain. fallback may be nil, in which case a
// primary failure is terminal.
func NewFallbackManager(registry *AliasRegistry, primary, fallback Caller) *FallbackManager {
	return &FallbackManager{registry: registry, primary: primary, fallback: fallback}
}

// Call resolves alias to its runtime group and invokes primary. Any primary
// error switches to fallback, marking the result with is_fallback and the
// primary error as reason. When both legs fail the error is non-recoverable.
func (m *FallbackManager) Call(ctx context.Context, messages []Message, alias string) (*CallResult, error) {
	group := m.registry.Resolve(alias)

	result, primaryErr := m.primary.Call(ctx, messages, group)
	if primaryErr == nil {
		result.ModelAlias = alias
		return result, nil
	}
	slog.Warn("Primary model call failed, attempting fallback",
		"model_alias", alias, "group", group, "error", primaryErr)

	if m.fallback == nil {
		return nil, &ProviderError{
			Err:         fmt.Errorf("primary failed with no fallback configured: %w", primaryErr),
			Recoverable: false,
		}
	}

	result, fallbackErr := m.fallback.Call(ctx, messages, group)
	if fallbackErr != nil {
		slog.Error("Both primary and fallback model calls failed",
			"primary_error", primaryErr, "fallback_error", fallbackErr)
		return nil, &ProviderError{
			Err:         fmt.Errorf("primary and fallback both failed; primary: %v; fallback: %w", primaryErr, fallbackErr),
			Recoverable: false,
		}
	}

	result.ModelAlias = alias
	result.IsFallback = true
	result.FallbackReason = primaryErr.Error()
	slog.Info("Fallback model served the call", "model_alias", alias, "reason", primaryErr)
	return result, nil
}
