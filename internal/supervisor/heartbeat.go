package supervisor

import (
	"context"
	"time"

	"github.com/agentloom/orchestrator/internal/domain"
)

// heartbeatLoop ticks at the configured interval, writing lastHeartbeat to
// the Store while the session is running. Heartbeat failures are logged,
// never fatal (spec §4.1).
func (s *Supervisor) heartbeatLoop(ctx context.Context, h *handle) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			running := h.session.Status == domain.SessionRunning
			sessionID := h.session.SessionID
			h.mu.Unlock()
			if !running {
				return
			}

			now := time.Now().UTC()
			if err := s.store.UpdateHeartbeat(ctx, sessionID, now); err != nil {
				s.logger.Warn("heartbeat update failed", "sessionId", sessionID, "error", err)
				continue
			}
			h.mu.Lock()
			h.session.LastHeartbeat = now
			h.mu.Unlock()
		}
	}
}
