// Package catalog implements the Model Catalog Client (spec §4.8): a
// read-only HTTP client over the external model-registry service, with an
// in-process cache keyed by full request URL.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentloom/orchestrator/internal/domain"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultCacheCapacity = 100
)

// Filter narrows a models listing request. The three capability pointers
// are tri-state (spec §6): nil omits the query param entirely, non-nil
// requires the registry to match that exact boolean.
type Filter struct {
	Provider          domain.ProviderID
	QualityTier       domain.QualityTier
	TaskType          domain.TaskType
	Available         *bool
	SupportsTools     *bool
	SupportsVision    *bool
	SupportsEmbedding *bool
}

// Client is a cached HTTP client for the model-registry's /models surface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	logger     *slog.Logger

	cache *cache
}

type Config struct {
	BaseURL       string
	AuthToken     string
	CacheTTL      time.Duration
	CacheCapacity int
}

func New(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = defaultCacheCapacity
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		logger:     logger,
		cache:      newCache(cfg.CacheTTL, cfg.CacheCapacity),
	}
}

// Close stops the cache's background eviction goroutine.
func (c *Client) Close() error {
	c.cache.Close()
	return nil
}

func (f Filter) queryString() string {
	q := url.Values{}
	if f.Provider != "" {
		q.Set("provider", string(f.Provider))
	}
	if f.QualityTier != "" {
		q.Set("qualityTier", string(f.QualityTier))
	}
	if f.TaskType != "" {
		q.Set("taskType", string(f.TaskType))
	}
	if f.Available != nil {
		q.Set("available", strconv.FormatBool(*f.Available))
	}
	if f.SupportsTools != nil {
		q.Set("supportsTools", strconv.FormatBool(*f.SupportsTools))
	}
	if f.SupportsVision != nil {
		q.Set("supportsVision", strconv.FormatBool(*f.SupportsVision))
	}
	if f.SupportsEmbedding != nil {
		q.Set("supportsEmbedding", strconv.FormatBool(*f.SupportsEmbedding))
	}
	encoded := q.Encode()
	if encoded == "" {
		return ""
	}
	return "?" + encoded
}

// ListModels fetches models matching filter, serving from cache when fresh.
func (c *Client) ListModels(ctx context.Context, filter Filter) ([]domain.Model, error) {
	requestURL := c.baseURL + "/api/model-registry/models" + filter.queryString()

	if cached, ok := c.cache.get(requestURL); ok {
		var models []domain.Model
		if err := json.Unmarshal(cached, &models); err == nil {
			return models, nil
		}
	}

	raw, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	var models []domain.Model
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("catalog: decode models response: %w", err)
	}
	c.cache.set(requestURL, raw)
	return models, nil
}

// GetModel fetches a single model by id. A 404 is a legitimate "not found"
// result (nil, nil), not an error.
func (c *Client) GetModel(ctx context.Context, modelID string) (*domain.Model, error) {
	requestURL := fmt.Sprintf("%s/api/model-registry/models/%s", c.baseURL, url.PathEscape(modelID))

	if cached, ok := c.cache.get(requestURL); ok {
		if len(cached) == 0 {
			return nil, nil
		}
		var model domain.Model
		if err := json.Unmarshal(cached, &model); err == nil {
			return &model, nil
		}
	}

	raw, status, err := c.getWithStatus(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		c.cache.set(requestURL, nil)
		return nil, nil
	}
	var model domain.Model
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("catalog: decode model response: %w", err)
	}
	c.cache.set(requestURL, raw)
	return &model, nil
}

// ListByProvider is a convenience filter over ListModels.
func (c *Client) ListByProvider(ctx context.Context, provider domain.ProviderID) ([]domain.Model, error) {
	return c.ListModels(ctx, Filter{Provider: provider})
}

// ListByTaskType is a convenience filter over ListModels.
func (c *Client) ListByTaskType(ctx context.Context, taskType domain.TaskType) ([]domain.Model, error) {
	return c.ListModels(ctx, Filter{TaskType: taskType})
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	raw, status, err := c.getWithStatus(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("catalog: request to %s failed with status %d: %s", requestURL, status, string(raw))
	}
	return raw, nil
}

func (c *Client) getWithStatus(ctx context.Context, requestURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: build request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: request to %s failed: %w", requestURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("catalog: read response body: %w", err)
	}
	return raw, resp.StatusCode, nil
}
