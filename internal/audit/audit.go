// Package audit is an append-only compliance trail of admission and
// routing decisions made by the orchestration core. It is a side log, not
// a task queue: writes are best-effort and never block or fail the
// operation they describe.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType classifies an audit row.
type EventType string

const (
	EventSessionCreated         EventType = "session_created"
	EventSessionRejected        EventType = "session_rejected"
	EventSessionTerminated      EventType = "session_terminated"
	EventSessionReclaimedStale  EventType = "session_reclaimed_stale"
	EventRoutingDecision        EventType = "routing_decision"
	EventRoutingFailed          EventType = "routing_failed"
)

// Entry is one append-only row. Detail is marshaled to JSONB; it should be
// a small, JSON-serializable value (a struct or map), not an error itself.
type Entry struct {
	EventType   EventType
	WorkspaceID string
	ProjectID   string
	AgentID     string
	SessionID   string
	Detail      any
}

// Sink appends Entry rows to Postgres. The zero value is not usable; build
// one with New or use NewNoop when no DSN is configured.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an existing pool. The caller owns the pool's lifecycle (Close).
func New(pool *pgxpool.Pool, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{pool: pool, logger: logger}
}

// NewNoop returns a Sink that discards every entry, logging at debug level.
// Used when AUDIT_DATABASE_URL is unset so the orchestration core can run
// without a Postgres dependency.
func NewNoop(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{pool: nil, logger: logger}
}

// Close closes the underlying pool, if any.
func (s *Sink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the audit table if it does not already exist. Safe
// to call on every startup; a no-op when the sink has no pool.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orchestration_audit_log (
			id           BIGSERIAL PRIMARY KEY,
			event_type   TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			project_id   TEXT NOT NULL DEFAULT '',
			agent_id     TEXT NOT NULL DEFAULT '',
			session_id   TEXT NOT NULL DEFAULT '',
			detail       JSONB NOT NULL DEFAULT '{}',
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// Record appends an entry. Failures are logged and swallowed: the audit
// trail must never be the reason a caller-facing operation fails.
func (s *Sink) Record(ctx context.Context, e Entry) {
	if s.pool == nil {
		s.logger.Debug("audit sink disabled, dropping entry", "eventType", e.EventType, "sessionId", e.SessionID)
		return
	}

	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		s.logger.Warn("audit: marshal detail failed", "eventType", e.EventType, "error", err)
		return
	}

	writeCtx, cancel := withTimeout(ctx)
	defer cancel()

	insert := func() error {
		_, err := s.pool.Exec(writeCtx,
			`INSERT INTO orchestration_audit_log (
			     event_type, workspace_id, project_id, agent_id, session_id, detail
			 )
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
			e.EventType, e.WorkspaceID, e.ProjectID, e.AgentID, e.SessionID, detailJSON,
		)
		return err
	}

	if err := withRetry(writeCtx, retryMaxAttempts, retryBaseDelay, insert); err != nil {
		s.logger.Warn("audit: insert failed after retries", "eventType", e.EventType, "error", fmt.Errorf("audit: insert: %w", err))
	}
}
