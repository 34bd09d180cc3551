package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Google implements Provider for the Gemini generateContent API. The
// system message lives outside the content array as a system instruction,
// roles are remapped (assistant -> model), and a SAFETY finish reason is
// surfaced as content-filter (spec §4.7).
type Google struct {
	base       BasePolicy
	httpClient *http.Client
	baseURL    string
	pricing    map[string]Pricing
	embedding  map[string]Pricing

	mu        sync.Mutex
	rateLimit RateLimitStatus
}

func NewGoogle(httpClient *http.Client, baseURL string, base BasePolicy) *Google {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &Google{
		base:       base,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pricing:    googlePricing(),
		embedding:  googleEmbeddingPricing(),
	}
}

func googlePricing() map[string]Pricing {
	return map[string]Pricing{
		"gemini-2.0-pro":   {InputPer1M: 1.25, OutputPer1M: 5},
		"gemini-2.0-flash": {InputPer1M: 0.1, OutputPer1M: 0.4},
	}
}

func googleEmbeddingPricing() map[string]Pricing {
	return map[string]Pricing{
		"text-embedding-004": {InputPer1M: 0.025, OutputPer1M: 0},
	}
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
	Contents          []googleContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int      `json:"maxOutputTokens"`
		Temperature     *float64 `json:"temperature,omitempty"`
		StopSequences   []string `json:"stopSequences,omitempty"`
	} `json:"generationConfig"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type googleEmbedRequest struct {
	Model   string        `json:"model"`
	Content googleContent `json:"content"`
}

type googleEmbedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

func remapRoleToGoogle(role Role) string {
	if role == RoleAssistant {
		return "model"
	}
	return "user"
}

func (p *Google) buildRequest(req Request) googleRequest {
	wire := googleRequest{}
	wire.GenerationConfig.MaxOutputTokens = req.MaxTokens
	wire.GenerationConfig.Temperature = req.Temperature
	wire.GenerationConfig.StopSequences = req.StopSequences

	if req.System != "" {
		wire.SystemInstruction = &googleContent{Parts: []googlePart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if wire.SystemInstruction == nil {
				wire.SystemInstruction = &googleContent{Parts: []googlePart{{Text: m.Content}}}
			}
			continue
		}
		wire.Contents = append(wire.Contents, googleContent{
			Role:  remapRoleToGoogle(m.Role),
			Parts: []googlePart{{Text: m.Content}},
		})
	}
	return wire
}

func (p *Google) toCompletionResponse(resp *googleResponse) (*CompletionResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, newError(ErrUnknown, 0, "google response had no candidates")
	}
	candidate := resp.Candidates[0]

	if candidate.FinishReason == "SAFETY" {
		return nil, newError(ErrContentFilter, 0, "response withheld by safety filter")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	finish := FinishEndTurn
	switch candidate.FinishReason {
	case "MAX_TOKENS":
		finish = FinishMaxTokens
	case "STOP":
		finish = FinishEndTurn
	}

	return &CompletionResponse{
		Content:      text.String(),
		FinishReason: finish,
		Usage: TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (p *Google) endpoint(model, apiKey, method string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", p.baseURL, model, method, apiKey)
}

func (p *Google) Complete(ctx context.Context, req Request, apiKey string) (*CompletionResponse, error) {
	return p.base.Complete(ctx, req, func(ctx context.Context) (*CompletionResponse, error) {
		wire := p.buildRequest(req)
		resp, err := postJSON(ctx, p.httpClient, p.endpoint(req.Model, apiKey, "generateContent"), wire, nil)
		if err != nil {
			return nil, err
		}
		decoded, err := decodeJSON[googleResponse](resp)
		if err != nil {
			return nil, err
		}
		result, err := p.toCompletionResponse(decoded)
		if err != nil {
			return nil, err
		}
		result.Model = req.Model
		return result, nil
	})
}

func (p *Google) Stream(ctx context.Context, req Request, apiKey string) (StreamFunc, error) {
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

func (p *Google) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	wire := googleEmbedRequest{Model: "models/" + model, Content: googleContent{Parts: []googlePart{{Text: text}}}}
	resp, err := postJSON(ctx, p.httpClient, p.endpoint(model, apiKey, "embedContent"), wire, nil)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeJSON[googleEmbedResponse](resp)
	if err != nil {
		return nil, err
	}
	return decoded.Embedding.Values, nil
}

func (p *Google) HealthCheck(ctx context.Context, apiKey string) (HealthStatus, error) {
	_, err := p.Complete(ctx, Request{
		Model:     "gemini-2.0-flash",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 1,
	}, apiKey)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}, err
	}
	return HealthStatus{Healthy: true}, nil
}

func (p *Google) SupportsModel(modelID string) bool {
	if _, ok := p.pricing[modelID]; ok {
		return true
	}
	_, ok := p.embedding[modelID]
	return ok
}

func (p *Google) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := p.pricing[modelID]
	if !ok {
		pricing, ok = p.embedding[modelID]
	}
	if !ok {
		return -1, fmt.Errorf("provider: no pricing for model %q", modelID)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *Google) GetModelPricing(modelID string) (Pricing, bool) {
	if pricing, ok := p.pricing[modelID]; ok {
		return pricing, true
	}
	pricing, ok := p.embedding[modelID]
	return pricing, ok
}

func (p *Google) GetRateLimitStatus() RateLimitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimit
}
