// Package mapping implements the model mapper (C1): normalizing
// caller-supplied model names to backend-specific identifiers. It carries no
// package-level mutable state — a Mapper value is an explicit collaborator,
// not a registry singleton (SPEC_FULL §9).
package mapping

import "strings"

// Kind reports how a model string was resolved.
type Kind string

const (
	KindAliasResolved Kind = "alias-resolved"
	KindPassthrough   Kind = "passthrough"
)

// Backend identifies which mapping table a Mapper should consult.
type Backend string

const (
	BackendOpenRouter      Backend = "OPENROUTER"
	BackendLiteLLMOpenRtr  Backend = "LITELLM_OPENROUTER"
	BackendAzureDatabricks Backend = "AZURE_DATABRICKS"
)

// Mapper holds the two backend-family alias tables. The zero value has empty
// tables and degrades to passthrough for everything, which is a safe
// default, not a usage error.
type Mapper struct {
	// openRouterAliases maps caller aliases to OpenRouter-family model
	// strings, without the "openrouter/" prefix — the prefix is applied once,
	// here, at Resolve time (see Resolve), never again downstream.
	openRouterAliases map[string]string
	azureAliases      map[string]string
}

// New builds a Mapper from the two alias tables plus the configured
// big/small targets, which are installed under the "big"/"small" keys of
// both tables.
func New(bigModel, smallModel string) *Mapper {
	m := &Mapper{
		openRouterAliases: map[string]string{
			"sonnet": "anthropic/claude-sonnet-4",
			"haiku":  "anthropic/claude-haiku-4",
		},
		azureAliases: map[string]string{
			"sonnet": "claude-sonnet-4",
			"haiku":  "claude-haiku-4",
		},
	}
	if bigModel != "" {
		m.openRouterAliases["big"] = bigModel
		m.azureAliases["big"] = bigModel
	}
	if smallModel != "" {
		m.openRouterAliases["small"] = smallModel
		m.azureAliases["small"] = smallModel
	}
	return m
}

// Resolve maps a caller-supplied model alias to the backend-specific
// canonical identifier. It never fails: an unrecognized alias is returned
// unchanged as a passthrough.
func (m *Mapper) Resolve(alias string, backend Backend) (string, Kind) {
	switch backend {
	case BackendAzureDatabricks:
		if canonical, ok := m.azureAliases[alias]; ok {
			return canonical, KindAliasResolved
		}
		return alias, KindPassthrough
	default: // OPENROUTER, LITELLM_OPENROUTER share one table and one prefix rule
		if canonical, ok := m.openRouterAliases[alias]; ok {
			return ensureOpenRouterPrefix(canonical), KindAliasResolved
		}
		return ensureOpenRouterPrefix(alias), KindPassthrough
	}
}

// ensureOpenRouterPrefix prepends "openrouter/" if not already present. This
// is the single point in the whole request path where that prefix is ever
// applied — see SPEC_FULL §9 on why the source material's double
// application is not replicated.
func ensureOpenRouterPrefix(model string) string {
	if strings.HasPrefix(model, "openrouter/") {
		return model
	}
	return "openrouter/" + model
}
