package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// DeepSeek implements Provider against an OpenAI-compatible chat
// completions endpoint with a vendor-specific base URL and no embeddings
// offering (spec §4.7).
type DeepSeek struct {
	base       BasePolicy
	httpClient *http.Client
	baseURL    string
	pricing    map[string]Pricing

	mu        sync.Mutex
	rateLimit RateLimitStatus
}

func NewDeepSeek(httpClient *http.Client, baseURL string, base BasePolicy) *DeepSeek {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	return &DeepSeek{
		base:       base,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pricing:    deepSeekPricing(),
	}
}

func deepSeekPricing() map[string]Pricing {
	return map[string]Pricing{
		"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.1},
		"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19},
	}
}

func (p *DeepSeek) buildRequest(req Request) openAIRequest {
	wire := openAIRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.StopSequences,
	}
	if req.System != "" {
		wire.Messages = append(wire.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return wire
}

func (p *DeepSeek) headers(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func (p *DeepSeek) Complete(ctx context.Context, req Request, apiKey string) (*CompletionResponse, error) {
	return p.base.Complete(ctx, req, func(ctx context.Context) (*CompletionResponse, error) {
		wire := p.buildRequest(req)
		resp, err := postJSON(ctx, p.httpClient, p.baseURL+"/chat/completions", wire, p.headers(apiKey))
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		p.recordRateLimit(resp.Header)
		decoded, err := decodeJSON[openAIResponse](resp)
		if err != nil {
			return nil, err
		}
		return p.toCompletionResponse(decoded)
	})
}

// toCompletionResponse reuses the OpenAI wire shape since DeepSeek's chat
// completions API is byte-for-byte compatible with it.
func (p *DeepSeek) toCompletionResponse(resp *openAIResponse) (*CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, newError(ErrUnknown, 0, "deepseek response had no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, newError(ErrContentFilter, 0, "response withheld by content filter")
	}

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: []byte(tc.Function.Arguments)})
	}

	return &CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:       resp.Usage.PromptTokens,
			OutputTokens:      resp.Usage.CompletionTokens,
			CachedInputTokens: resp.Usage.PromptTokensDetails.CachedTokens,
		},
		Model: resp.Model,
	}, nil
}

func (p *DeepSeek) Stream(ctx context.Context, req Request, apiKey string) (StreamFunc, error) {
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

func (p *DeepSeek) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	return nil, newError(ErrInvalidRequest, 0, "deepseek does not offer an embeddings endpoint")
}

func (p *DeepSeek) HealthCheck(ctx context.Context, apiKey string) (HealthStatus, error) {
	_, err := p.Complete(ctx, Request{
		Model:     "deepseek-chat",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 1,
	}, apiKey)
	if err == nil {
		return HealthStatus{Healthy: true}, nil
	}
	var perr *Error
	if errors.As(err, &perr) && perr.StatusCode == 429 {
		return HealthStatus{Healthy: true, Message: "rate limited, key is valid"}, nil
	}
	return HealthStatus{Healthy: false, Message: err.Error()}, err
}

func (p *DeepSeek) SupportsModel(modelID string) bool {
	_, ok := p.pricing[modelID]
	return ok
}

func (p *DeepSeek) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := p.pricing[modelID]
	if !ok {
		return -1, fmt.Errorf("provider: no pricing for model %q", modelID)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *DeepSeek) GetModelPricing(modelID string) (Pricing, bool) {
	pricing, ok := p.pricing[modelID]
	return pricing, ok
}

func (p *DeepSeek) GetRateLimitStatus() RateLimitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimit
}

func (p *DeepSeek) recordRateLimit(h http.Header) {
	remaining := h.Get("x-ratelimit-remaining-requests")
	if remaining == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimit.Observed = true
	if n, err := strconv.Atoi(remaining); err == nil {
		p.rateLimit.RequestsRemaining = n
	}
}
