package llm

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/octoagent/octoagent/pkg/models"
)

// modelPricing is USD per million tokens.
type modelPricing struct {
	inputPerM  float64
	outputPerM float64
}

// pricingTable maps model-name prefixes to list prices. Prefix matching
// keeps dated snapshots (gpt-4o-2024-08-06 and friends) covered.
var pricingTable = map[string]modelPricing{
	"gpt-4o-mini":       {inputPerM: 0.15, outputPerM: 0.60},
	"gpt-4o":            {inputPerM: 2.50, outputPerM: 10.00},
	"gpt-4.1-mini":      {inputPerM: 0.40, outputPerM: 1.60},
	"gpt-4.1":           {inputPerM: 2.00, outputPerM: 8.00},
	"claude-3-5-haiku":  {inputPerM: 0.80, outputPerM: 4.00},
	"claude-3-5-sonnet": {inputPerM: 3.00, outputPerM: 15.00},
	"claude-sonnet-4":   {inputPerM: 3.00, outputPerM: 15.00},
	"gemini-2.0-flash":  {inputPerM: 0.10, outputPerM: 0.40},
}

// providerPrefixes derives the serving provider from the model name the
// proxy reports.
var providerPrefixes = map[string]string{
	"gpt-":    "openai",
	"o1":      "openai",
	"o3":      "openai",
	"claude-": "anthropic",
	"gemini-": "google",
}

// CostTracker derives the USD cost of a call. Two channels: a local pricing
// table keyed by model name, then the cost header the proxy attaches to
// responses. Neither channel ever returns an error; when both miss, the
// result is (0.0, unavailable).
type CostTracker struct{}

// costHeader is the per-response cost the LiteLLM proxy reports.
const costHeader = "x-litellm-response-cost"

// Calculate resolves cost for a completed call. header may be nil.
func (CostTracker) Calculate(modelName string, usage models.TokenUsage, header http.Header) (costUSD float64, unavailable bool) {
	// Channel 1: pricing table.
	if pricing, ok := lookupPricing(modelName); ok {
		cost := float64(usage.PromptTokens)*pricing.inputPerM/1e6 +
			float64(usage.CompletionTokens)*pricing.outputPerM/1e6
		return cost, false
	}

	// Channel 2: proxy-reported cost metadata.
	if header != nil {
		if raw := header.Get(costHeader); raw != "" {
			if cost, err := strconv.ParseFloat(raw, 64); err == nil && cost >= 0 {
				return cost, false
			}
		}
	}

	slog.Warn("Cost unavailable for model", "model", modelName)
	return 0.0, true
}

func lookupPricing(modelName string) (modelPricing, bool) {
	// Proxy-reported names may carry a provider prefix like "openai/gpt-4o".
	if idx := strings.LastIndex(modelName, "/"); idx >= 0 {
		modelName = modelName[idx+1:]
	}
	var (
		best    modelPricing
		bestLen int
		found   bool
	)
	for prefix, pricing := range pricingTable {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > bestLen {
			best, bestLen, found = pricing, len(prefix), true
		}
	}
	return best, found
}

// ProviderFor derives the provider label from a model name, empty when
// unknown.
func ProviderFor(modelName string) string {
	if idx := strings.Index(modelName, "/"); idx > 0 {
		return modelName[:idx]
	}
	for prefix, provider := range providerPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			return provider
		}
	}
	return ""
}
