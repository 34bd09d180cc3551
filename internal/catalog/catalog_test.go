package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentloom/orchestrator/internal/catalog"
	"github.com/agentloom/orchestrator/internal/domain"
)

func testModel(id string) domain.Model {
	return domain.Model{
		ModelID:          id,
		Provider:         domain.ProviderAnthropic,
		ContextWindow:    200_000,
		InputPricePer1M:  3,
		OutputPricePer1M: 15,
		QualityTier:      domain.TierStandard,
		SuitableFor:      []domain.TaskType{domain.TaskCoding},
		Available:        true,
	}
}

func TestListModelsFetchesAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Query().Get("provider") != "anthropic" {
			t.Fatalf("expected provider filter in query, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]domain.Model{testModel("claude-sonnet-4-20250514")})
	}))
	defer srv.Close()

	c := catalog.New(srv.Client(), nil, catalog.Config{BaseURL: srv.URL})
	defer c.Close()

	ctx := context.Background()
	models, err := c.ListByProvider(ctx, domain.ProviderAnthropic)
	if err != nil {
		t.Fatalf("ListByProvider error: %v", err)
	}
	if len(models) != 1 || models[0].ModelID != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected models: %+v", models)
	}

	if _, err := c.ListByProvider(ctx, domain.ProviderAnthropic); err != nil {
		t.Fatalf("second ListByProvider error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 upstream request due to caching, got %d", hits)
	}
}

func TestListModelsFiltersByCapabilityParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("supportsTools") != "true" {
			t.Fatalf("expected supportsTools=true in query, got %q", r.URL.RawQuery)
		}
		if q.Get("supportsVision") != "false" {
			t.Fatalf("expected supportsVision=false in query, got %q", r.URL.RawQuery)
		}
		if q.Has("supportsEmbedding") {
			t.Fatalf("expected supportsEmbedding omitted from query, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]domain.Model{testModel("claude-sonnet-4-20250514")})
	}))
	defer srv.Close()

	c := catalog.New(srv.Client(), nil, catalog.Config{BaseURL: srv.URL})
	defer c.Close()

	tools, vision := true, false
	_, err := c.ListModels(context.Background(), catalog.Filter{
		SupportsTools:  &tools,
		SupportsVision: &vision,
	})
	if err != nil {
		t.Fatalf("ListModels error: %v", err)
	}
}

func TestGetModelReturnsNilOnNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := catalog.New(srv.Client(), nil, catalog.Config{BaseURL: srv.URL})
	defer c.Close()

	model, err := c.GetModel(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if model != nil {
		t.Fatalf("expected nil model, got %+v", model)
	}
}

func TestGetModelReturnsErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := catalog.New(srv.Client(), nil, catalog.Config{BaseURL: srv.URL})
	defer c.Close()

	_, err := c.GetModel(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestAuthTokenIsAttachedAsBearerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Fatalf("expected bearer header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(testModel("claude-sonnet-4-20250514"))
	}))
	defer srv.Close()

	c := catalog.New(srv.Client(), nil, catalog.Config{BaseURL: srv.URL, AuthToken: "secret-token"})
	defer c.Close()

	if _, err := c.GetModel(context.Background(), "claude-sonnet-4-20250514"); err != nil {
		t.Fatalf("GetModel error: %v", err)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode([]domain.Model{testModel("claude-sonnet-4-20250514")})
	}))
	defer srv.Close()

	c := catalog.New(srv.Client(), nil, catalog.Config{BaseURL: srv.URL, CacheTTL: 10 * time.Millisecond})
	defer c.Close()

	ctx := context.Background()
	if _, err := c.ListModels(ctx, catalog.Filter{}); err != nil {
		t.Fatalf("ListModels error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.ListModels(ctx, catalog.Filter{}); err != nil {
		t.Fatalf("ListModels error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected cache entry to expire and trigger a second fetch, got %d hits", hits)
	}
}
