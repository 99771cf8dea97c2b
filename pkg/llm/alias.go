package llm

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Runtime groups a semantic alias can resolve to.
const (
	GroupCheap    = "cheap"
	GroupMain     = "main"
	GroupFallback = "fallback"
)

var runtimeGroups = map[string]bool{
	GroupCheap:    true,
	GroupMain:     true,
	GroupFallback: true,
}

// defaultAliases is the built-in semantic alias table.
var defaultAliases = map[string]string{
	"router":     GroupCheap,
	"extractor":  GroupCheap,
	"summarizer": GroupCheap,
	"planner":    GroupMain,
	"executor":   GroupMain,
	"fallback":   GroupFallback,
}

// AliasRegistry resolves semantic model aliases (planner, router, …) to
// runtime groups (cheap, main, fallback). Built once at startup and
// immutable afterwards.
type AliasRegistry struct {
	aliases map[string]string
}

// NewAliasRegistry builds a registry from the defaults plus optional
// overrides. Override values must be known runtime groups.
func NewAliasRegistry(overrides map[string]string) (*AliasRegistry, error) {
	aliases := make(map[string]string, len(defaultAliases)+len(overrides))
	for alias, group := range defaultAliases {
		aliases[alias] = group
	}
	for alias, group := range overrides {
		if !runtimeGroups[group] {
			return nil, fmt.Errorf("alias %q maps to unknown runtime group %q", alias, group)
		}
		aliases[alias] = group
	}
	return &AliasRegistry{aliases: aliases}, nil
}

// LoadAliasRegistry reads alias overrides from a YAML file (a flat
// alias→group map). An empty path yields the built-in defaults.
func LoadAliasRegistry(path string) (*AliasRegistry, error) {
	if path == "" {
		return NewAliasRegistry(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aliases file: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse aliases file: %w", err)
	}
	return NewAliasRegistry(overrides)
}

// Resolve maps a semantic alias to its runtime group. Runtime group names
// pass through unchanged; unknown aliases degrade to the main group with a
// warning.
func (r *AliasRegistry) Resolve(alias string) string {
	if runtimeGroups[alias] {
		return alias
	}
	if group, ok := r.aliases[alias]; ok {
		return group
	}
	slog.Warn("Unknown model alias, defaulting to main group", "alias", alias)
	return GroupMain
}
