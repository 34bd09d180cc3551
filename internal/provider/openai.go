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

// OpenAI implements Provider for OpenAI's chat completions API: an
// interleaved system/user/assistant message list, JSON-string tool-call
// arguments, and embeddings support (spec §4.7).
type OpenAI struct {
	base       BasePolicy
	httpClient *http.Client
	baseURL    string
	pricing    map[string]Pricing
	embedding  map[string]Pricing

	mu        sync.Mutex
	rateLimit RateLimitStatus
}

func NewOpenAI(httpClient *http.Client, baseURL string, base BasePolicy) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAI{
		base:       base,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pricing:    openAIPricing(),
		embedding:  openAIEmbeddingPricing(),
	}
}

func openAIPricing() map[string]Pricing {
	return map[string]Pricing{
		"gpt-4o":      {InputPer1M: 2.5, OutputPer1M: 10},
		"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.6},
	}
}

func openAIEmbeddingPricing() map[string]Pricing {
	return map[string]Pricing{
		"text-embedding-3-small": {InputPer1M: 0.02, OutputPer1M: 0},
		"text-embedding-3-large": {InputPer1M: 0.13, OutputPer1M: 0},
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string            `json:"content"`
			ToolCalls []openAIToolCall  `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAI) buildRequest(req Request) openAIRequest {
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

func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishEndTurn
	case "length":
		return FinishMaxTokens
	case "tool_calls":
		return FinishToolUse
	case "content_filter":
		return FinishError
	default:
		return FinishEndTurn
	}
}

func (p *OpenAI) toCompletionResponse(resp *openAIResponse) (*CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, newError(ErrUnknown, 0, "openai response had no choices")
	}
	choice := resp.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}

	finish := mapOpenAIFinishReason(choice.FinishReason)
	if choice.FinishReason == "content_filter" {
		return nil, newError(ErrContentFilter, 0, "response withheld by content filter")
	}

	return &CompletionResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: TokenUsage{
			InputTokens:       resp.Usage.PromptTokens,
			OutputTokens:      resp.Usage.CompletionTokens,
			CachedInputTokens: resp.Usage.PromptTokensDetails.CachedTokens,
		},
		Model: resp.Model,
	}, nil
}

func (p *OpenAI) headers(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

// classifyOpenAIError upgrades a generic invalid-request into context-length
// when the vendor's message names it explicitly (spec §4.7).
func classifyOpenAIError(err error) error {
	var perr *Error
	if errors.As(err, &perr) && perr.Kind == ErrInvalidRequest && strings.Contains(strings.ToLower(perr.Message), "context length") {
		perr.Kind = ErrContextLength
	}
	return err
}

func (p *OpenAI) Complete(ctx context.Context, req Request, apiKey string) (*CompletionResponse, error) {
	return p.base.Complete(ctx, req, func(ctx context.Context) (*CompletionResponse, error) {
		wire := p.buildRequest(req)
		resp, err := postJSON(ctx, p.httpClient, p.baseURL+"/v1/chat/completions", wire, p.headers(apiKey))
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

func (p *OpenAI) Stream(ctx context.Context, req Request, apiKey string) (StreamFunc, error) {
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

func (p *OpenAI) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	if model == "" {
		model = "text-embedding-3-small"
	}
	resp, err := postJSON(ctx, p.httpClient, p.baseURL+"/v1/embeddings", openAIEmbeddingRequest{Model: model, Input: text}, p.headers(apiKey))
	if err != nil {
		return nil, err
	}
	decoded, err := decodeJSON[openAIEmbeddingResponse](resp)
	if err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 {
		return nil, newError(ErrUnknown, 0, "openai embedding response had no data")
	}
	return decoded.Data[0].Embedding, nil
}

func (p *OpenAI) HealthCheck(ctx context.Context, apiKey string) (HealthStatus, error) {
	_, err := p.Complete(ctx, Request{
		Model:     "gpt-4o-mini",
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

func (p *OpenAI) SupportsModel(modelID string) bool {
	if _, ok := p.pricing[modelID]; ok {
		return true
	}
	_, ok := p.embedding[modelID]
	return ok
}

func (p *OpenAI) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := p.pricing[modelID]
	if !ok {
		pricing, ok = p.embedding[modelID]
	}
	if !ok {
		return -1, fmt.Errorf("provider: no pricing for model %q", modelID)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *OpenAI) GetModelPricing(modelID string) (Pricing, bool) {
	if pricing, ok := p.pricing[modelID]; ok {
		return pricing, true
	}
	pricing, ok := p.embedding[modelID]
	return pricing, ok
}

func (p *OpenAI) GetRateLimitStatus() RateLimitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimit
}

func (p *OpenAI) recordRateLimit(h http.Header) {
	remaining := h.Get("x-ratelimit-remaining-requests")
	tokens := h.Get("x-ratelimit-remaining-tokens")
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
}
