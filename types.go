package orchestrator

import "github.com/agentloom/orchestrator/internal/domain"

// Public type aliases over internal/domain. Kept as aliases (not wrapper
// structs) so callers can pass values between this package and the
// sub-packages they construct (providers, catalog clients) without
// conversion glue — the same no-cycle intent as the teacher's internal/model
// boundary, minus the duplicate-struct ceremony since nothing here needs a
// different public shape than the internal one.
type (
	SessionStatus   = domain.SessionStatus
	Session         = domain.Session
	OutputEventType = domain.OutputEventType
	OutputEvent     = domain.OutputEvent
	StreamEventType = domain.StreamEventType
	FileChangeType  = domain.FileChangeType
	TestOutcome     = domain.TestOutcome
	TestSummary     = domain.TestSummary
	StreamMetadata  = domain.StreamMetadata
	StreamEvent     = domain.StreamEvent
	TaskType        = domain.TaskType
	QualityTier     = domain.QualityTier
	ProviderID      = domain.ProviderID
	Model           = domain.Model
	Alternative     = domain.Alternative
	RoutingDecision = domain.RoutingDecision

	TaskRoutingRequest     = domain.TaskRoutingRequest
	RoutingPreset          = domain.RoutingPreset
	TaskOverride           = domain.TaskOverride
	WorkspaceRoutingConfig = domain.WorkspaceRoutingConfig
)

const (
	SessionIdle       = domain.SessionIdle
	SessionRunning    = domain.SessionRunning
	SessionTerminated = domain.SessionTerminated

	OutputStdout  = domain.OutputStdout
	OutputStderr  = domain.OutputStderr
	OutputCommand = domain.OutputCommand
	OutputExit    = domain.OutputExit

	StreamOutput     = domain.StreamOutput
	StreamCommand    = domain.StreamCommand
	StreamFileChange = domain.StreamFileChange
	StreamTestResult = domain.StreamTestResult
	StreamError      = domain.StreamError

	FileCreated = domain.FileCreated
	FileEdited  = domain.FileEdited
	FileDeleted = domain.FileDeleted

	TestPassed = domain.TestPassed
	TestFailed = domain.TestFailed

	TaskSimpleChat       = domain.TaskSimpleChat
	TaskCoding           = domain.TaskCoding
	TaskPlanning         = domain.TaskPlanning
	TaskReview           = domain.TaskReview
	TaskSummarization    = domain.TaskSummarization
	TaskEmbedding        = domain.TaskEmbedding
	TaskComplexReasoning = domain.TaskComplexReasoning

	TierEconomy  = domain.TierEconomy
	TierStandard = domain.TierStandard
	TierPremium  = domain.TierPremium

	ProviderAnthropic = domain.ProviderAnthropic
	ProviderOpenAI    = domain.ProviderOpenAI
	ProviderGoogle    = domain.ProviderGoogle
	ProviderDeepSeek  = domain.ProviderDeepSeek

	PresetAuto     = domain.PresetAuto
	PresetEconomy  = domain.PresetEconomy
	PresetQuality  = domain.PresetQuality
	PresetBalanced = domain.PresetBalanced
)
