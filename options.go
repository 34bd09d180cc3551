package orchestrator

import "log/slog"

// Option configures an App at construction time, the same shape as the
// teacher's akashi.Option: zero-value resolvedOptions, functional setters,
// applied before config defaults fill any gaps.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after applying options but
// before defaults are resolved. Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger          *slog.Logger
	anthropicAPIKey string
	openAIAPIKey    string
	googleAPIKey    string
	deepSeekAPIKey  string
}

// WithLogger sets the structured logger for the App and everything it
// constructs. If unset, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithProviderKeys sets the BYOK credentials registered with each provider
// in the Provider Registry. Per-request calls still take their own apiKey
// (spec §4.7's complete/stream/embed/healthCheck signatures) — these are
// only what the Provider Registry uses for its own bookkeeping and as the
// fallback key in the HealthCheckAll fan-out (spec §4.9). New and Run run
// no health check at startup.
func WithProviderKeys(anthropic, openai, google, deepseek string) Option {
	return func(o *resolvedOptions) {
		o.anthropicAPIKey = anthropic
		o.openAIAPIKey = openai
		o.googleAPIKey = google
		o.deepSeekAPIKey = deepseek
	}
}
