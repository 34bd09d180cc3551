// Package domain holds the orchestration core's shared data model (spec §3),
// imported by every internal package so none of them depend on the public
// root package. The root package re-exports these as its public API types;
// this is the only boundary that should ever need to change shape.
package domain

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionRunning    SessionStatus = "running"
	SessionTerminated SessionStatus = "terminated"
)

// Session is the supervised unit: one live child process plus its
// bookkeeping record. See spec §3.
type Session struct {
	SessionID      string
	WorkspaceID    string
	ProjectID      string
	AgentID        string
	PID            int
	Status         SessionStatus
	Task           string
	StartedAt      time.Time
	LastHeartbeat  time.Time
	TerminatedAt   *time.Time
	WorkingDir     string
}

// OutputEventType classifies a raw, pre-enrichment line emitted by a
// supervised process.
type OutputEventType string

const (
	OutputStdout  OutputEventType = "stdout"
	OutputStderr  OutputEventType = "stderr"
	OutputCommand OutputEventType = "command"
	OutputExit    OutputEventType = "exit"
)

// OutputEvent is the line-granularity record produced by the Supervisor,
// before the Output Parser or Stream Publisher touch it. See spec §3.
type OutputEvent struct {
	SessionID  string
	AgentID    string
	Type       OutputEventType
	Content    string
	Timestamp  time.Time
	LineNumber int
}

// StreamEventType refines OutputEventType with the Output Parser's
// classification.
type StreamEventType string

const (
	StreamOutput     StreamEventType = "output"
	StreamCommand    StreamEventType = "command"
	StreamFileChange StreamEventType = "file_change"
	StreamTestResult StreamEventType = "test_result"
	StreamError      StreamEventType = "error"
)

// FileChangeType enumerates the file-change kinds the Output Parser
// recognizes.
type FileChangeType string

const (
	FileCreated FileChangeType = "created"
	FileEdited  FileChangeType = "edited"
	FileDeleted FileChangeType = "deleted"
)

// TestOutcome is the pass/fail status of a single test or a test summary.
type TestOutcome string

const (
	TestPassed TestOutcome = "passed"
	TestFailed TestOutcome = "failed"
)

// TestSummary carries aggregate counts parsed from a "Tests: ..." line.
type TestSummary struct {
	Passed  int
	Skipped int
	Failed  int
	Total   int
}

// StreamMetadata carries the discriminated, per-type fields a StreamEvent
// may enrich its content with. Only the fields relevant to Type are
// populated; the rest are zero values and are omitted from JSON.
type StreamMetadata struct {
	// Populated when the source OutputEvent was stdout/stderr.
	OutputType OutputEventType `json:"outputType,omitempty"`

	// File change fields.
	FileName   string         `json:"fileName,omitempty"`
	FilePath   string         `json:"filePath,omitempty"`
	ChangeType FileChangeType `json:"changeType,omitempty"`

	// Test result fields.
	TestName    string       `json:"testName,omitempty"`
	TestStatus  TestOutcome  `json:"testStatus,omitempty"`
	Summary     *TestSummary `json:"summary,omitempty"`

	// Error fields.
	ErrorType string `json:"errorType,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// IsEmpty reports whether no discriminated field was populated, in which
// case the Stream Publisher omits Metadata entirely per spec §4.5.
func (m *StreamMetadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return *m == StreamMetadata{}
}

// StreamEvent is the Publisher's enriched, tenancy-tagged form of an
// OutputEvent, published to the per-workspace pub/sub channel. See spec §3
// and §6.
type StreamEvent struct {
	SessionID   string          `json:"sessionId"`
	AgentID     string          `json:"agentId"`
	ProjectID   string          `json:"projectId"`
	WorkspaceID string          `json:"workspaceId"`
	Type        StreamEventType `json:"type"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	LineNumber  int             `json:"lineNumber"`
	Metadata    *StreamMetadata `json:"metadata,omitempty"`
}

// TaskType is one of the task categories the Router matches against the
// catalog's suitability and the default-rules table.
type TaskType string

const (
	TaskSimpleChat       TaskType = "simple_chat"
	TaskCoding           TaskType = "coding"
	TaskPlanning         TaskType = "planning"
	TaskReview           TaskType = "review"
	TaskSummarization    TaskType = "summarization"
	TaskEmbedding        TaskType = "embedding"
	TaskComplexReasoning TaskType = "complex_reasoning"
)

// QualityTier ranks a Model's positioning; used by the economy/quality
// presets and the premium > standard > economy ordering.
type QualityTier string

const (
	TierEconomy  QualityTier = "economy"
	TierStandard QualityTier = "standard"
	TierPremium  QualityTier = "premium"
)

// Rank gives QualityTier a total order for the "quality" preset
// (premium > standard > economy) and for tie-breaking.
func (t QualityTier) Rank() int {
	switch t {
	case TierPremium:
		return 3
	case TierStandard:
		return 2
	case TierEconomy:
		return 1
	default:
		return 0
	}
}

// ProviderID names one of the BYOK vendor backends.
type ProviderID string

const (
	ProviderAnthropic ProviderID = "anthropic"
	ProviderOpenAI    ProviderID = "openai"
	ProviderGoogle    ProviderID = "google"
	ProviderDeepSeek  ProviderID = "deepseek"
)

// Model is an externally-defined, read-only catalog row. See spec §3.
type Model struct {
	ModelID               string      `json:"modelId"`
	Provider              ProviderID  `json:"provider"`
	SupportsTools         bool        `json:"supportsTools"`
	SupportsVision        bool        `json:"supportsVision"`
	SupportsStreaming     bool        `json:"supportsStreaming"`
	SupportsEmbedding     bool        `json:"supportsEmbedding"`
	ContextWindow         int         `json:"contextWindow"`
	MaxOutputTokens       int         `json:"maxOutputTokens"`
	InputPricePer1M       float64     `json:"inputPricePer1M"`
	OutputPricePer1M      float64     `json:"outputPricePer1M"`
	CachedInputPricePer1M *float64    `json:"cachedInputPricePer1M,omitempty"`
	QualityTier           QualityTier `json:"qualityTier"`
	SuitableFor           []TaskType  `json:"suitableFor"`
	Available             bool        `json:"available"`
}

// Alternative records one candidate the Router considered and rejected (or,
// for the winning candidate's record in RoutingDecision, is not included —
// Alternatives holds only the rejects).
type Alternative struct {
	ModelID        string     `json:"modelId"`
	Provider       ProviderID `json:"provider"`
	EstimatedCost  float64    `json:"estimatedCost"`
	RejectedReason string     `json:"rejectedReason"`
}

// RoutingDecision is the Router's output. See spec §3.
type RoutingDecision struct {
	SelectedModel string        `json:"selectedModel"`
	Provider      ProviderID    `json:"provider"`
	Reason        string        `json:"reason"`
	EstimatedCost float64       `json:"estimatedCost"`
	Alternatives  []Alternative `json:"alternatives"`
}

// TaskRoutingRequest describes what a caller needs routed. Token estimates
// and capability flags are optional; zero values mean "unspecified," not
// "zero tokens" or "not required."
type TaskRoutingRequest struct {
	TaskType              TaskType
	EstimatedInputTokens  *int
	EstimatedOutputTokens *int
	RequiresTools         bool
	RequiresVision        bool
	RequiresStreaming     bool
	ContextSizeTokens     *int
	WorkspaceID           string
	ProjectID             string
	ForceModel            string
	ForceProvider         ProviderID
}

// RoutingPreset steers stage 4 of model selection toward cost or quality.
type RoutingPreset string

const (
	PresetAuto    RoutingPreset = "auto"
	PresetEconomy RoutingPreset = "economy"
	PresetQuality RoutingPreset = "quality"
	PresetBalanced RoutingPreset = "balanced"
)

// TaskOverride names a workspace's preferred and fallback model for one
// task type, tried ahead of the preset and default-rules stages.
type TaskOverride struct {
	PreferredModel string
	FallbackModel  string
}

// WorkspaceRoutingConfig is the per-workspace policy the Router consults.
type WorkspaceRoutingConfig struct {
	WorkspaceID      string
	EnabledProviders []ProviderID
	Preset           RoutingPreset
	TaskOverrides    map[TaskType]TaskOverride
}
