// Package provider implements the Provider Layer (spec §4.7): a thin,
// vendor-neutral façade over BYOK LLM backends. A shared base policy
// (validation, timeout, retry, cost, latency) wraps four concrete
// providers, each translating the unified request/response shape to and
// from its vendor's wire format — the same interface-abstracted
// collaborator shape spec §9 calls for, grounded on the Provider
// interface/doProviderRequest split this package's HTTP plumbing follows.
package provider

import (
	"context"
	"time"
)

// Role is a message's speaker in the unified {role, content} form.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a unified conversation.
type Message struct {
	Role    Role
	Content string
}

// ToolCall is a vendor-normalized tool invocation extracted from a
// completion.
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON
}

// Request is the vendor-neutral completion request.
type Request struct {
	Model         string
	Messages      []Message
	System        string
	MaxTokens     int
	Temperature   *float64
	StopSequences []string
}

// FinishReason is the unified completion-stop taxonomy every vendor's
// native reason is mapped onto.
type FinishReason string

const (
	FinishEndTurn      FinishReason = "end_turn"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishToolUse      FinishReason = "tool_use"
	FinishError        FinishReason = "error"
)

// TokenUsage is reported on every completion for cost calculation.
type TokenUsage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// CompletionResponse is the vendor-neutral completion result.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        TokenUsage
	Model        string
	Latency      time.Duration
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Delta        string
	Done         bool
	FinishReason FinishReason
	Usage        *TokenUsage
}

// StreamFunc yields StreamChunks until Done is true or an error occurs.
type StreamFunc func() (StreamChunk, error)

// HealthStatus is the result of a provider's healthCheck probe.
type HealthStatus struct {
	Healthy bool
	Message string
}

// Pricing is a model's per-million-token rates in USD.
type Pricing struct {
	InputPer1M       float64
	OutputPer1M      float64
	CachedInputPer1M *float64
}

// RateLimitStatus is passively tracked from vendor response headers; no
// active throttling is mandated (spec §5).
type RateLimitStatus struct {
	RequestsRemaining int
	TokensRemaining   int
	ResetAt           time.Time
	Observed          bool
}

// Provider is the vendor-neutral façade every concrete backend implements.
type Provider interface {
	Complete(ctx context.Context, req Request, apiKey string) (*CompletionResponse, error)
	Stream(ctx context.Context, req Request, apiKey string) (StreamFunc, error)
	Embed(ctx context.Context, text, model, apiKey string) ([]float64, error)
	HealthCheck(ctx context.Context, apiKey string) (HealthStatus, error)
	SupportsModel(modelID string) bool
	CalculateCost(modelID string, usage TokenUsage) (float64, error)
	GetModelPricing(modelID string) (Pricing, bool)
	GetRateLimitStatus() RateLimitStatus
}

// CalculateCost applies spec §4.7's cost formula given a model's pricing.
func CalculateCost(pricing Pricing, usage TokenUsage) float64 {
	cost := float64(usage.InputTokens)*pricing.InputPer1M/1e6 + float64(usage.OutputTokens)*pricing.OutputPer1M/1e6
	if usage.CachedInputTokens > 0 && pricing.CachedInputPer1M != nil {
		cost += float64(usage.CachedInputTokens) * *pricing.CachedInputPer1M / 1e6
	}
	return cost
}
