package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestNoopSinkRecordDoesNotPanic(t *testing.T) {
	s := NewNoop(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer s.Close()

	s.Record(context.Background(), Entry{
		EventType:   EventSessionCreated,
		WorkspaceID: "ws-1",
		SessionID:   "sess-1",
		Detail:      map[string]any{"agentId": "agent-1"},
	})
}

func TestNoopSinkEnsureSchemaIsNoop(t *testing.T) {
	s := NewNoop(nil)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("expected nil error for noop sink, got %v", err)
	}
}
