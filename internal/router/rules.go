package router

import "github.com/agentloom/orchestrator/internal/domain"

// RoutingRule is one task type's default candidate ordering (stage 5),
// tried in full before falling back to the registry (stage 6).
type RoutingRule struct {
	DefaultModel          string
	FallbackModels        []string
	QualityTierPreference domain.QualityTier
}

// defaultRules is the normative per-task-type table (spec §4.10).
func defaultRules() map[domain.TaskType]RoutingRule {
	return map[domain.TaskType]RoutingRule{
		domain.TaskSimpleChat: {
			DefaultModel:          "gemini-2.0-flash",
			FallbackModels:        []string{"gpt-4o-mini", "claude-haiku-4-20250514"},
			QualityTierPreference: domain.TierEconomy,
		},
		domain.TaskSummarization: {
			DefaultModel:          "gemini-2.0-flash",
			FallbackModels:        []string{"gpt-4o-mini", "claude-haiku-4-20250514"},
			QualityTierPreference: domain.TierEconomy,
		},
		domain.TaskCoding: {
			DefaultModel:          "claude-sonnet-4-20250514",
			FallbackModels:        []string{"gpt-4o", "deepseek-chat", "gemini-2.0-pro"},
			QualityTierPreference: domain.TierStandard,
		},
		domain.TaskPlanning: {
			DefaultModel:          "claude-sonnet-4-20250514",
			FallbackModels:        []string{"gpt-4o", "gemini-2.0-pro"},
			QualityTierPreference: domain.TierStandard,
		},
		domain.TaskReview: {
			DefaultModel:          "claude-sonnet-4-20250514",
			FallbackModels:        []string{"gpt-4o", "gemini-2.0-pro"},
			QualityTierPreference: domain.TierStandard,
		},
		domain.TaskComplexReasoning: {
			DefaultModel:          "claude-opus-4-20250514",
			FallbackModels:        []string{"claude-sonnet-4-20250514", "gpt-4o", "deepseek-reasoner"},
			QualityTierPreference: domain.TierPremium,
		},
		domain.TaskEmbedding: {
			DefaultModel:          "text-embedding-3-small",
			FallbackModels:        []string{"text-embedding-004", "text-embedding-3-large"},
			QualityTierPreference: domain.TierEconomy,
		},
	}
}

// candidates returns the default model followed by its fallbacks, in order.
func (r RoutingRule) candidates() []string {
	return append([]string{r.DefaultModel}, r.FallbackModels...)
}
