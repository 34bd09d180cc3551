// Package router implements the Task Router (spec §4.10): a deterministic,
// multi-stage model-selection pipeline over the Model Catalog and Provider
// Registry.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/agentloom/orchestrator/internal/catalog"
	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/errs"
)

const (
	defaultEstimatedInputTokens  = 1000
	defaultEstimatedOutputTokens = 500
)

// CatalogReader is the subset of *catalog.Client the Router depends on.
type CatalogReader interface {
	ListModels(ctx context.Context, filter catalog.Filter) ([]domain.Model, error)
	GetModel(ctx context.Context, modelID string) (*domain.Model, error)
}

// RegistryReader is the subset of *registry.Registry the Router depends on.
type RegistryReader interface {
	IsEnabled(id domain.ProviderID) bool
}

// RoutingError carries enough context for a caller to understand why
// selection failed (spec §4.10 stage 7).
type RoutingError struct {
	TaskType        domain.TaskType
	Request         domain.TaskRoutingRequest
	AttemptedModels []string
	Cause           error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("router: no model satisfies task %q after trying %v: %v", e.TaskType, e.AttemptedModels, e.Cause)
}

func (e *RoutingError) Unwrap() error { return e.Cause }

// Router selects a model for a task per spec §4.10's seven-stage pipeline.
type Router struct {
	catalog  CatalogReader
	registry RegistryReader
	logger   *slog.Logger

	mu    sync.RWMutex
	rules map[domain.TaskType]RoutingRule
}

func New(catalogClient CatalogReader, reg RegistryReader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		catalog:  catalogClient,
		registry: reg,
		logger:   logger,
		rules:    defaultRules(),
	}
}

// SetRoutingRules hot-swaps the default-rules table (stage 5).
func (r *Router) SetRoutingRules(rules map[domain.TaskType]RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

// GetRoutingRules returns a copy of the current default-rules table.
func (r *Router) GetRoutingRules() map[domain.TaskType]RoutingRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.TaskType]RoutingRule, len(r.rules))
	for k, v := range r.rules {
		out[k] = v
	}
	return out
}

func (r *Router) rule(taskType domain.TaskType) (RoutingRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[taskType]
	return rule, ok
}

// attempt tracks one candidate evaluated across every stage, for the
// RoutingDecision's Alternatives list and, on total failure, the
// RoutingError's AttemptedModels.
type attempt struct {
	modelID  string
	provider domain.ProviderID
	cost     float64
	rejected string
}

// Route runs the full selection pipeline and returns a decision, or a
// *RoutingError if no candidate qualifies.
func (r *Router) Route(ctx context.Context, req domain.TaskRoutingRequest, cfg domain.WorkspaceRoutingConfig) (domain.RoutingDecision, error) {
	if len(cfg.EnabledProviders) == 0 {
		return domain.RoutingDecision{}, &RoutingError{TaskType: req.TaskType, Request: req, Cause: fmt.Errorf("workspace has no enabled providers")}
	}

	enabled := make(map[domain.ProviderID]bool, len(cfg.EnabledProviders))
	for _, p := range cfg.EnabledProviders {
		enabled[p] = true
	}

	var attempts []attempt
	tried := make(map[string]bool)

	markTried := func(modelID string) { tried[modelID] = true }

	// Stage 1: forceModel.
	if req.ForceModel != "" {
		model, err := r.catalog.GetModel(ctx, req.ForceModel)
		if err == nil && model != nil && enabled[model.Provider] {
			markTried(model.ModelID)
			reason := "forced by caller"
			if ok, capReason := validateCapability(*model, req); !ok {
				reason = fmt.Sprintf("forced by caller (warning: %s)", capReason)
			}
			return r.decide(*model, reason, req, attempts), nil
		}
		if err == nil && model != nil {
			recordRejection(&attempts, *model, req, "forced provider not enabled")
		}
	}

	// Stage 2: forceProvider.
	if req.ForceProvider != "" && enabled[req.ForceProvider] {
		models, err := r.catalog.ListModels(ctx, catalog.Filter{TaskType: req.TaskType, Provider: req.ForceProvider})
		if err == nil {
			sortByInputPriceAsc(models)
			for _, model := range models {
				markTried(model.ModelID)
				if ok, reason := validateCapability(model, req); !ok {
					recordRejection(&attempts, model, req, reason)
					continue
				}
				return r.decide(model, "forced provider, cheapest suitable model", req, attempts), nil
			}
		}
	}

	// Stage 3: workspace task overrides.
	if override, ok := cfg.TaskOverrides[req.TaskType]; ok {
		for _, candidate := range []string{override.PreferredModel, override.FallbackModel} {
			if candidate == "" {
				continue
			}
			if model, ok := r.tryModel(ctx, candidate, req, enabled, markTried, &attempts); ok {
				return r.decide(model, "workspace task override", req, attempts), nil
			}
		}
	}

	// Stage 4: preset.
	switch cfg.Preset {
	case domain.PresetEconomy, domain.PresetQuality:
		models, err := r.catalog.ListModels(ctx, catalog.Filter{TaskType: req.TaskType})
		if err == nil {
			var pool []domain.Model
			for _, m := range models {
				if enabled[m.Provider] {
					pool = append(pool, m)
				}
			}
			if cfg.Preset == domain.PresetEconomy {
				sortByInputPriceAsc(pool)
			} else {
				sortByTierDesc(pool)
			}
			for _, model := range pool {
				markTried(model.ModelID)
				if ok, reason := validateCapability(model, req); !ok {
					recordRejection(&attempts, model, req, reason)
					continue
				}
				label := "economy preset"
				if cfg.Preset == domain.PresetQuality {
					label = "quality preset"
				}
				return r.decide(model, label, req, attempts), nil
			}
		}
	}

	// Stage 5: default rules.
	if rule, ok := r.rule(req.TaskType); ok {
		for _, candidate := range rule.candidates() {
			if model, ok := r.tryModel(ctx, candidate, req, enabled, markTried, &attempts); ok {
				return r.decide(model, "default routing rule", req, attempts), nil
			}
		}
	}

	// Stage 6: registry fallback.
	models, err := r.catalog.ListModels(ctx, catalog.Filter{TaskType: req.TaskType})
	if err == nil {
		var pool []domain.Model
		for _, m := range models {
			if enabled[m.Provider] && !tried[m.ModelID] {
				pool = append(pool, m)
			}
		}
		sortByInputPriceAsc(pool)
		for _, model := range pool {
			markTried(model.ModelID)
			if ok, reason := validateCapability(model, req); !ok {
				recordRejection(&attempts, model, req, reason)
				continue
			}
			return r.decide(model, "registry fallback", req, attempts), nil
		}
	}

	// Stage 7: exhausted.
	var attemptedIDs []string
	for _, a := range attempts {
		attemptedIDs = append(attemptedIDs, a.modelID)
	}
	return domain.RoutingDecision{}, &RoutingError{
		TaskType:        req.TaskType,
		Request:         req,
		AttemptedModels: attemptedIDs,
		Cause:           errs.New(errs.RoutingFailure, "no candidate model satisfied the request"),
	}
}

// tryModel fetches modelID, checks it's enabled and capability-valid, and
// records the attempt either way.
func (r *Router) tryModel(ctx context.Context, modelID string, req domain.TaskRoutingRequest, enabled map[domain.ProviderID]bool, markTried func(string), attempts *[]attempt) (domain.Model, bool) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil || model == nil {
		return domain.Model{}, false
	}
	markTried(model.ModelID)
	if !enabled[model.Provider] {
		recordRejection(attempts, *model, req, fmt.Sprintf("no BYOK key for provider %q", model.Provider))
		return domain.Model{}, false
	}
	if ok, reason := validateCapability(*model, req); !ok {
		recordRejection(attempts, *model, req, reason)
		return domain.Model{}, false
	}
	return *model, true
}

func (r *Router) decide(model domain.Model, reason string, req domain.TaskRoutingRequest, attempts []attempt) domain.RoutingDecision {
	inputTokens, outputTokens := estimateTokens(req)
	cost := estimateCost(model, inputTokens, outputTokens)

	alternatives := make([]domain.Alternative, 0, len(attempts))
	for _, a := range attempts {
		alternatives = append(alternatives, domain.Alternative{
			ModelID:        a.modelID,
			Provider:       a.provider,
			EstimatedCost:  a.cost,
			RejectedReason: a.rejected,
		})
	}

	return domain.RoutingDecision{
		SelectedModel: model.ModelID,
		Provider:      model.Provider,
		Reason:        reason,
		EstimatedCost: cost,
		Alternatives:  alternatives,
	}
}

// recordRejection appends a rejected candidate with its estimated cost, for
// the RoutingDecision's Alternatives list.
func recordRejection(attempts *[]attempt, model domain.Model, req domain.TaskRoutingRequest, reason string) {
	inputTokens, outputTokens := estimateTokens(req)
	*attempts = append(*attempts, attempt{
		modelID:  model.ModelID,
		provider: model.Provider,
		cost:     estimateCost(model, inputTokens, outputTokens),
		rejected: reason,
	})
}

func estimateTokens(req domain.TaskRoutingRequest) (int, int) {
	input := defaultEstimatedInputTokens
	output := defaultEstimatedOutputTokens
	if req.EstimatedInputTokens != nil {
		input = *req.EstimatedInputTokens
	}
	if req.EstimatedOutputTokens != nil {
		output = *req.EstimatedOutputTokens
	}
	return input, output
}

func estimateCost(model domain.Model, inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*model.InputPricePer1M + float64(outputTokens)*model.OutputPricePer1M) / 1e6
}

// EstimateCost looks up modelID in the catalog and applies estimateCost,
// returning -1 when the model can't be resolved (distinct from a
// legitimate zero cost).
func (r *Router) EstimateCost(ctx context.Context, modelID string, inputTokens, outputTokens int) (float64, error) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return -1, err
	}
	if model == nil {
		return -1, fmt.Errorf("router: unknown model %q", modelID)
	}
	return estimateCost(*model, inputTokens, outputTokens), nil
}

// IsModelAvailable reports whether modelID exists, is marked available, and
// its provider is both registry-enabled and in the workspace's enabled list.
func (r *Router) IsModelAvailable(ctx context.Context, modelID string, cfg domain.WorkspaceRoutingConfig) (bool, error) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	if model == nil || !model.Available {
		return false, nil
	}
	if !r.registry.IsEnabled(model.Provider) {
		return false, nil
	}
	for _, p := range cfg.EnabledProviders {
		if p == model.Provider {
			return true, nil
		}
	}
	return false, nil
}

// GetAvailableModels groups catalog models with Available=true from the
// workspace's enabled providers by every task type they're suitable for.
func (r *Router) GetAvailableModels(ctx context.Context, cfg domain.WorkspaceRoutingConfig) (map[domain.TaskType][]domain.Model, error) {
	enabled := make(map[domain.ProviderID]bool, len(cfg.EnabledProviders))
	for _, p := range cfg.EnabledProviders {
		enabled[p] = true
	}

	available := true
	models, err := r.catalog.ListModels(ctx, catalog.Filter{Available: &available})
	if err != nil {
		return nil, err
	}

	out := make(map[domain.TaskType][]domain.Model)
	for _, model := range models {
		if !enabled[model.Provider] {
			continue
		}
		for _, taskType := range model.SuitableFor {
			out[taskType] = append(out[taskType], model)
		}
	}
	return out, nil
}

func sortByInputPriceAsc(models []domain.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].InputPricePer1M < models[j].InputPricePer1M
	})
}

func sortByTierDesc(models []domain.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].QualityTier.Rank() > models[j].QualityTier.Rank()
	})
}
