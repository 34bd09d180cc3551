package supervisor

import (
	"context"
	"io"
	"time"

	"github.com/agentloom/orchestrator/internal/domain"
)

// readStream scans one of a session's stdout/stderr pipes line by line,
// incrementing the session's shared line counter, buffering into the ring
// buffer, and emitting an OutputEvent per line. Per spec §9's open
// question, the counter is shared across both streams and incremented
// before buffering/emitting; concurrent stdout/stderr readers may therefore
// observe non-contiguous numbers on a single stream, which this
// implementation accepts rather than serializing the two readers.
func (s *Supervisor) readStream(ctx context.Context, h *handle, kind domain.OutputEventType, r io.Reader) {
	defer s.wg.Done()
	scanner := newLineScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h.mu.Lock()
		h.lineNo++
		lineNo := h.lineNo
		agentID := h.session.AgentID
		sessionID := h.session.SessionID
		h.mu.Unlock()

		ev := domain.OutputEvent{
			SessionID:  sessionID,
			AgentID:    agentID,
			Type:       kind,
			Content:    scanner.Text(),
			Timestamp:  time.Now().UTC(),
			LineNumber: lineNo,
		}
		h.ring.push(ev)
		s.bus.emitOutput(ev)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("output stream scan ended with error", "sessionId", h.session.SessionID, "stream", kind, "error", err)
	}
}
