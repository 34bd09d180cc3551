package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentloom/orchestrator/internal/catalog"
	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/router"
)

type fakeCatalog struct {
	models map[string]domain.Model
}

func newFakeCatalog(models ...domain.Model) *fakeCatalog {
	c := &fakeCatalog{models: make(map[string]domain.Model)}
	for _, m := range models {
		c.models[m.ModelID] = m
	}
	return c
}

func (c *fakeCatalog) GetModel(ctx context.Context, modelID string) (*domain.Model, error) {
	m, ok := c.models[modelID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (c *fakeCatalog) ListModels(ctx context.Context, filter catalog.Filter) ([]domain.Model, error) {
	var out []domain.Model
	for _, m := range c.models {
		if filter.Provider != "" && m.Provider != filter.Provider {
			continue
		}
		if filter.TaskType != "" {
			found := false
			for _, t := range m.SuitableFor {
				if t == filter.TaskType {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		if filter.Available != nil && m.Available != *filter.Available {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

type fakeRegistry struct {
	enabled map[domain.ProviderID]bool
}

func (r *fakeRegistry) IsEnabled(id domain.ProviderID) bool { return r.enabled[id] }

func codingModel(id string, provider domain.ProviderID, inputPrice float64, tier domain.QualityTier) domain.Model {
	return domain.Model{
		ModelID:          id,
		Provider:         provider,
		ContextWindow:    200_000,
		InputPricePer1M:  inputPrice,
		OutputPricePer1M: inputPrice * 5,
		QualityTier:      tier,
		SuitableFor:      []domain.TaskType{domain.TaskCoding},
		Available:        true,
	}
}

func workspaceConfig(providers ...domain.ProviderID) domain.WorkspaceRoutingConfig {
	return domain.WorkspaceRoutingConfig{
		WorkspaceID:      "ws1",
		EnabledProviders: providers,
		Preset:           domain.PresetAuto,
	}
}

func TestRouteEmptyEnabledProvidersFailsImmediately(t *testing.T) {
	c := newFakeCatalog()
	r := router.New(c, &fakeRegistry{}, nil)
	_, err := r.Route(context.Background(), domain.TaskRoutingRequest{TaskType: domain.TaskCoding}, domain.WorkspaceRoutingConfig{})
	require.Error(t, err)
	var routingErr *router.RoutingError
	require.ErrorAs(t, err, &routingErr)
}

func TestRouteForceModelWinsWhenEnabled(t *testing.T) {
	c := newFakeCatalog(codingModel("claude-sonnet-4-20250514", domain.ProviderAnthropic, 3, domain.TierStandard))
	r := router.New(c, &fakeRegistry{}, nil)

	decision, err := r.Route(context.Background(), domain.TaskRoutingRequest{
		TaskType:   domain.TaskCoding,
		ForceModel: "claude-sonnet-4-20250514",
	}, workspaceConfig(domain.ProviderAnthropic))

	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4-20250514", decision.SelectedModel)
}

func TestRouteDefaultRulesPicksFirstAvailableCandidate(t *testing.T) {
	c := newFakeCatalog(
		codingModel("gpt-4o", domain.ProviderOpenAI, 2.5, domain.TierStandard),
	)
	r := router.New(c, &fakeRegistry{}, nil)

	decision, err := r.Route(context.Background(), domain.TaskRoutingRequest{TaskType: domain.TaskCoding}, workspaceConfig(domain.ProviderOpenAI))

	require.NoError(t, err)
	require.Equal(t, "gpt-4o", decision.SelectedModel)
	require.Equal(t, "default routing rule", decision.Reason)
}

func TestRouteEconomyPresetPicksCheapestSuitableModel(t *testing.T) {
	c := newFakeCatalog(
		codingModel("expensive-model", domain.ProviderAnthropic, 15, domain.TierPremium),
		codingModel("cheap-model", domain.ProviderOpenAI, 1, domain.TierEconomy),
	)
	r := router.New(c, &fakeRegistry{}, nil)

	cfg := workspaceConfig(domain.ProviderAnthropic, domain.ProviderOpenAI)
	cfg.Preset = domain.PresetEconomy

	decision, err := r.Route(context.Background(), domain.TaskRoutingRequest{TaskType: domain.TaskCoding}, cfg)

	require.NoError(t, err)
	require.Equal(t, "cheap-model", decision.SelectedModel)
}

func TestRouteQualityPresetPicksHighestTier(t *testing.T) {
	c := newFakeCatalog(
		codingModel("economy-model", domain.ProviderOpenAI, 1, domain.TierEconomy),
		codingModel("premium-model", domain.ProviderAnthropic, 15, domain.TierPremium),
	)
	r := router.New(c, &fakeRegistry{}, nil)

	cfg := workspaceConfig(domain.ProviderAnthropic, domain.ProviderOpenAI)
	cfg.Preset = domain.PresetQuality

	decision, err := r.Route(context.Background(), domain.TaskRoutingRequest{TaskType: domain.TaskCoding}, cfg)

	require.NoError(t, err)
	require.Equal(t, "premium-model", decision.SelectedModel)
}

func TestRouteWorkspaceTaskOverrideTakesPriorityOverDefaultRules(t *testing.T) {
	c := newFakeCatalog(
		codingModel("claude-sonnet-4-20250514", domain.ProviderAnthropic, 3, domain.TierStandard),
		codingModel("custom-override-model", domain.ProviderOpenAI, 2, domain.TierStandard),
	)
	r := router.New(c, &fakeRegistry{}, nil)

	cfg := workspaceConfig(domain.ProviderAnthropic, domain.ProviderOpenAI)
	cfg.TaskOverrides = map[domain.TaskType]domain.TaskOverride{
		domain.TaskCoding: {PreferredModel: "custom-override-model"},
	}

	decision, err := r.Route(context.Background(), domain.TaskRoutingRequest{TaskType: domain.TaskCoding}, cfg)

	require.NoError(t, err)
	require.Equal(t, "custom-override-model", decision.SelectedModel)
	require.Equal(t, "workspace task override", decision.Reason)
}

func TestRouteRejectsModelFailingContextSizeRequirement(t *testing.T) {
	small := codingModel("small-context-model", domain.ProviderOpenAI, 1, domain.TierEconomy)
	small.ContextWindow = 1000
	c := newFakeCatalog(small)
	r := router.New(c, &fakeRegistry{}, nil)

	ctxSize := 50_000
	_, err := r.Route(context.Background(), domain.TaskRoutingRequest{
		TaskType:          domain.TaskCoding,
		ContextSizeTokens: &ctxSize,
	}, workspaceConfig(domain.ProviderOpenAI))

	require.Error(t, err)
}

func TestRouteFailsWithRoutingErrorWhenNoModelQualifies(t *testing.T) {
	c := newFakeCatalog()
	r := router.New(c, &fakeRegistry{}, nil)

	_, err := r.Route(context.Background(), domain.TaskRoutingRequest{TaskType: domain.TaskCoding}, workspaceConfig(domain.ProviderAnthropic))

	var routingErr *router.RoutingError
	require.ErrorAs(t, err, &routingErr)
	require.Equal(t, domain.TaskCoding, routingErr.TaskType)
}

func TestEstimateCostReturnsSentinelForUnknownModel(t *testing.T) {
	c := newFakeCatalog()
	r := router.New(c, &fakeRegistry{}, nil)

	cost, err := r.EstimateCost(context.Background(), "unknown-model", 1000, 500)
	require.Error(t, err)
	require.Equal(t, float64(-1), cost)
}

func TestIsModelAvailableRequiresRegistryAndWorkspaceEnabled(t *testing.T) {
	c := newFakeCatalog(codingModel("gpt-4o", domain.ProviderOpenAI, 2.5, domain.TierStandard))
	reg := &fakeRegistry{enabled: map[domain.ProviderID]bool{domain.ProviderOpenAI: true}}
	r := router.New(c, reg, nil)

	ok, err := r.IsModelAvailable(context.Background(), "gpt-4o", workspaceConfig(domain.ProviderOpenAI))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.IsModelAvailable(context.Background(), "gpt-4o", workspaceConfig(domain.ProviderAnthropic))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetAvailableModelsGroupsByTaskType(t *testing.T) {
	c := newFakeCatalog(codingModel("gpt-4o", domain.ProviderOpenAI, 2.5, domain.TierStandard))
	r := router.New(c, &fakeRegistry{}, nil)

	grouped, err := r.GetAvailableModels(context.Background(), workspaceConfig(domain.ProviderOpenAI))
	require.NoError(t, err)
	require.Len(t, grouped[domain.TaskCoding], 1)
}

func TestSetAndGetRoutingRulesRoundTrips(t *testing.T) {
	c := newFakeCatalog()
	r := router.New(c, &fakeRegistry{}, nil)

	custom := map[domain.TaskType]router.RoutingRule{
		domain.TaskCoding: {DefaultModel: "custom-model"},
	}
	r.SetRoutingRules(custom)

	got := r.GetRoutingRules()
	require.Equal(t, "custom-model", got[domain.TaskCoding].DefaultModel)
}
