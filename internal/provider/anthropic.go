package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Anthropic implements Provider for the Anthropic Messages API. System
// messages are a top-level field distinct from user/assistant turns, and
// the vendor does not offer an embeddings endpoint (spec §4.7).
type Anthropic struct {
	base       BasePolicy
	httpClient *http.Client
	baseURL    string
	pricing    map[string]Pricing

	mu        sync.Mutex
	rateLimit RateLimitStatus
}

// NewAnthropic constructs an Anthropic provider against baseURL (default
// "https://api.anthropic.com" when empty).
func NewAnthropic(httpClient *http.Client, baseURL string, base BasePolicy) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Anthropic{
		base:       base,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pricing:    anthropicPricing(),
	}
}

func anthropicPricing() map[string]Pricing {
	return map[string]Pricing{
		"claude-opus-4-20250514":   {InputPer1M: 15, OutputPer1M: 75},
		"claude-sonnet-4-20250514": {InputPer1M: 3, OutputPer1M: 15},
		"claude-haiku-4-20250514":  {InputPer1M: 0.8, OutputPer1M: 4},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string              `json:"model"`
	System        string              `json:"system,omitempty"`
	Messages      []anthropicMessage  `json:"messages"`
	MaxTokens     int                 `json:"max_tokens"`
	Temperature   *float64            `json:"temperature,omitempty"`
	StopSequences []string            `json:"stop_sequences,omitempty"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (p *Anthropic) buildRequest(req Request) anthropicRequest {
	wire := anthropicRequest{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if wire.System == "" {
				wire.System = m.Content
			}
			continue
		}
		wire.Messages = append(wire.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	return wire
}

func mapAnthropicFinishReason(reason string) FinishReason {
	switch reason {
	case "end_turn":
		return FinishEndTurn
	case "max_tokens":
		return FinishMaxTokens
	case "stop_sequence":
		return FinishStopSequence
	case "tool_use":
		return FinishToolUse
	default:
		return FinishEndTurn
	}
}

func (p *Anthropic) toCompletionResponse(resp *anthropicResponse) *CompletionResponse {
	var text strings.Builder
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	return &CompletionResponse{
		Content:      text.String(),
		ToolCalls:    toolCalls,
		FinishReason: mapAnthropicFinishReason(resp.StopReason),
		Usage: TokenUsage{
			InputTokens:       resp.Usage.InputTokens,
			OutputTokens:      resp.Usage.OutputTokens,
			CachedInputTokens: resp.Usage.CacheReadInputTokens,
		},
		Model: resp.Model,
	}
}

func (p *Anthropic) headers(apiKey string) map[string]string {
	return map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
	}
}

func (p *Anthropic) Complete(ctx context.Context, req Request, apiKey string) (*CompletionResponse, error) {
	return p.base.Complete(ctx, req, func(ctx context.Context) (*CompletionResponse, error) {
		wire := p.buildRequest(req)
		resp, err := postJSON(ctx, p.httpClient, p.baseURL+"/v1/messages", wire, p.headers(apiKey))
		if err != nil {
			return nil, err
		}
		p.recordRateLimit(resp.Header)
		decoded, err := decodeJSON[anthropicResponse](resp)
		if err != nil {
			return nil, err
		}
		return p.toCompletionResponse(decoded), nil
	})
}

// Stream is not implemented with true SSE parsing here; it degrades to a
// single-chunk stream built from Complete, since the orchestration core
// only needs line-at-a-time agent output, not token-level vendor
// streaming (spec §4.7 Stream is still part of the façade for completeness).
func (p *Anthropic) Stream(ctx context.Context, req Request, apiKey string) (StreamFunc, error) {
	resp, err := p.Complete(ctx, req, apiKey)
	if err != nil {
		return nil, err
	}
	done := false
	return func() (StreamChunk, error) {
		if done {
			return StreamChunk{}, errStreamExhausted
		}
		done = true
		return StreamChunk{Delta: resp.Content, Done: true, FinishReason: resp.FinishReason, Usage: &resp.Usage}, nil
	}, nil
}

var errStreamExhausted = errors.New("provider: stream exhausted")

func (p *Anthropic) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	return nil, newError(ErrInvalidRequest, 0, "anthropic does not offer an embeddings endpoint")
}

// HealthCheck sends a trivial 1-token generation against a known cheap
// model. A 429/529 still indicates a valid key (spec §4.7), so those are
// reported healthy rather than propagated as errors.
func (p *Anthropic) HealthCheck(ctx context.Context, apiKey string) (HealthStatus, error) {
	_, err := p.Complete(ctx, Request{
		Model:     "claude-haiku-4-20250514",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 1,
	}, apiKey)
	if err == nil {
		return HealthStatus{Healthy: true}, nil
	}
	var perr *Error
	if errors.As(err, &perr) && (perr.StatusCode == 429 || perr.StatusCode == 529) {
		return HealthStatus{Healthy: true, Message: "rate limited or overloaded, key is valid"}, nil
	}
	return HealthStatus{Healthy: false, Message: err.Error()}, err
}

func (p *Anthropic) SupportsModel(modelID string) bool {
	_, ok := p.pricing[modelID]
	return ok
}

func (p *Anthropic) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := p.pricing[modelID]
	if !ok {
		return -1, fmt.Errorf("provider: no pricing for model %q", modelID)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *Anthropic) GetModelPricing(modelID string) (Pricing, bool) {
	pricing, ok := p.pricing[modelID]
	return pricing, ok
}

func (p *Anthropic) GetRateLimitStatus() RateLimitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimit
}

func (p *Anthropic) recordRateLimit(h http.Header) {
	remaining := h.Get("anthropic-ratelimit-requests-remaining")
	tokens := h.Get("anthropic-ratelimit-tokens-remaining")
	reset := h.Get("anthropic-ratelimit-requests-reset")
	if remaining == "" && tokens == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimit.Observed = true
	if n, err := strconv.Atoi(remaining); err == nil {
		p.rateLimit.RequestsRemaining = n
	}
	if n, err := strconv.Atoi(tokens); err == nil {
		p.rateLimit.TokensRemaining = n
	}
	if ts, err := time.Parse(time.RFC3339, reset); err == nil {
		p.rateLimit.ResetAt = ts
	}
}
