package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/errs"
)

// CreateSessionRequest is the input to CreateSession.
type CreateSessionRequest struct {
	AgentID     string
	Task        string
	WorkspaceID string
	ProjectID   string
	WorkingDir  string
}

// CreateSession spawns a new supervised process and returns its handle, per
// spec §4.1. Admission and validation failures surface to the caller;
// everything after spawn succeeds is best-effort.
func (s *Supervisor) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	if err := validateID("agentId", req.AgentID); err != nil {
		return domain.Session{}, err
	}
	if err := validateID("workspaceId", req.WorkspaceID); err != nil {
		return domain.Session{}, err
	}
	if err := validateID("projectId", req.ProjectID); err != nil {
		return domain.Session{}, err
	}
	if req.Task == "" {
		return domain.Session{}, errs.New(errs.InvalidArgument, "task must not be empty")
	}

	count, err := s.store.GetWorkspaceSessionCount(ctx, req.WorkspaceID)
	if err != nil {
		s.logger.Warn("workspace session count lookup failed, admitting optimistically", "error", err)
	} else if count >= s.cfg.MaxConcurrentSessions {
		return domain.Session{}, errs.New(errs.ConcurrencyExceeded,
			fmt.Sprintf("workspace %s at capacity (%d/%d)", req.WorkspaceID, count, s.cfg.MaxConcurrentSessions))
	}

	workingDir := req.WorkingDir
	proc, err := spawnProcess(context.Background(), req.Task, workingDir)
	if err != nil {
		return domain.Session{}, errs.Wrap(errs.SpawnFailed, "spawn child process", err)
	}

	now := time.Now().UTC()
	sess := domain.Session{
		SessionID:     uuid.New().String(),
		WorkspaceID:   req.WorkspaceID,
		ProjectID:     req.ProjectID,
		AgentID:       req.AgentID,
		PID:           proc.pid(),
		Status:        domain.SessionRunning,
		Task:          req.Task,
		StartedAt:     now,
		LastHeartbeat: now,
		WorkingDir:    workingDir,
	}

	if err := s.store.StoreSession(ctx, sess); err != nil {
		s.logger.Error("store session failed after spawn", "sessionId", sess.SessionID, "error", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		session: sess,
		proc:    proc,
		ring:    newRingBuffer(ringBufferLimit),
		cancel:  cancel,
	}

	s.mu.Lock()
	s.byID[sess.SessionID] = h
	s.byAgent[sess.AgentID] = sess.SessionID
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readStream(sessCtx, h, domain.OutputStdout, proc.stdout)
	go s.readStream(sessCtx, h, domain.OutputStderr, proc.stderr)

	s.wg.Add(1)
	go s.superviseExit(sessCtx, h)

	s.wg.Add(1)
	go s.heartbeatLoop(sessCtx, h)

	return sess, nil
}

// GetSession returns the in-memory handle's current session snapshot.
func (s *Supervisor) GetSession(sessionID string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byID[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session, true
}

// GetSessionByAgent resolves an agent's current session, if any.
func (s *Supervisor) GetSessionByAgent(agentID string) (domain.Session, bool) {
	s.mu.RLock()
	sessionID, ok := s.byAgent[agentID]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, false
	}
	return s.GetSession(sessionID)
}

// GetAllSessions returns a snapshot of every session this Supervisor
// currently tracks in memory.
func (s *Supervisor) GetAllSessions() []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0, len(s.byID))
	for _, h := range s.byID {
		h.mu.Lock()
		out = append(out, h.session)
		h.mu.Unlock()
	}
	return out
}

// SendCommand writes a line to the session's stdin and emits a matching
// OutputEvent of type "command". Fails with NotRunning if the session is
// unknown or has already exited.
func (s *Supervisor) SendCommand(ctx context.Context, sessionID, line string) error {
	s.mu.RLock()
	h, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return errs.New(errs.NotRunning, fmt.Sprintf("session %s is not running", sessionID))
	}

	h.mu.Lock()
	if h.session.Status != domain.SessionRunning {
		h.mu.Unlock()
		return errs.New(errs.NotRunning, fmt.Sprintf("session %s is not running", sessionID))
	}
	h.lineNo++
	lineNo := h.lineNo
	agentID := h.session.AgentID
	h.mu.Unlock()

	if err := h.proc.writeLine(line); err != nil {
		return errs.Wrap(errs.StdinClosed, "write command to stdin", err)
	}

	ev := domain.OutputEvent{
		SessionID:  sessionID,
		AgentID:    agentID,
		Type:       domain.OutputCommand,
		Content:    line,
		Timestamp:  time.Now().UTC(),
		LineNumber: lineNo,
	}
	h.ring.push(ev)
	s.bus.emitOutput(ev)
	return nil
}

// TerminateSession sends a graceful signal, escalating to a hard kill after
// the configured grace window; the memory and store cleanup is done by the
// session's superviseExit goroutine once it observes the exit. Idempotent: terminating an unknown session succeeds silently (spec §8).
func (s *Supervisor) TerminateSession(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	h, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	alreadyTerminated := h.session.Status == domain.SessionTerminated
	h.mu.Unlock()
	if alreadyTerminated {
		return nil
	}

	if err := h.proc.terminateGracefully(); err != nil {
		s.logger.Warn("graceful terminate signal failed", "sessionId", sessionID, "error", err)
	}

	done := make(chan struct{})
	go func() {
		h.proc.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GraceWindow):
		if err := h.proc.kill(); err != nil {
			s.logger.Warn("hard kill failed", "sessionId", sessionID, "error", err)
		}
		<-done
	}

	// superviseExit (triggered by proc.wait() returning inside its own
	// goroutine) performs the actual map/store cleanup once it observes the
	// same exit; this call only needs to guarantee the process is gone by
	// the time it returns.
	return nil
}

// TerminateAllSessions fans TerminateSession out over every currently
// tracked session concurrently (spec §4.1).
func (s *Supervisor) TerminateAllSessions(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.TerminateSession(gctx, id)
		})
	}
	return g.Wait()
}

// Close waits for all per-session goroutines to finish. Call after
// TerminateAllSessions during shutdown.
func (s *Supervisor) Close() {
	s.wg.Wait()
}
