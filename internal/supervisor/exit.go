package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/agentloom/orchestrator/internal/domain"
)

// superviseExit waits for the session's process to exit, then runs the
// single normal-exit path regardless of whether the exit was voluntary,
// reclaimed by the Health Monitor, or forced by TerminateSession (spec
// §4.1's state machine: running -> terminated has exactly one transition).
func (s *Supervisor) superviseExit(ctx context.Context, h *handle) {
	defer s.wg.Done()

	err := h.proc.wait()

	code, signal := exitCodeAndSignal(err)

	h.mu.Lock()
	h.lineNo++
	lineNo := h.lineNo
	sessionID := h.session.SessionID
	agentID := h.session.AgentID
	h.session.Status = domain.SessionTerminated
	now := time.Now().UTC()
	h.session.TerminatedAt = &now
	h.mu.Unlock()

	signalDesc := "null"
	if signal != nil {
		signalDesc = *signal
	}
	exitEvent := domain.OutputEvent{
		SessionID:  sessionID,
		AgentID:    agentID,
		Type:       domain.OutputExit,
		Content:    fmt.Sprintf("Process exited with code %d, signal %s", code, signalDesc),
		Timestamp:  now,
		LineNumber: lineNo,
	}
	h.ring.push(exitEvent)
	s.bus.emitOutput(exitEvent)

	if err != nil && !isExpectedExit(err) {
		s.bus.emitError(ErrorNotification{SessionID: sessionID, AgentID: agentID, Err: err})
	}

	s.bus.emitTerminated(TerminatedNotification{
		SessionID:  sessionID,
		AgentID:    agentID,
		Code:       code,
		Signal:     signal,
		Terminated: true,
	})

	if err := s.store.UpdateStatus(context.Background(), sessionID, domain.SessionTerminated, &now); err != nil {
		s.logger.Error("update status to terminated failed", "sessionId", sessionID, "error", err)
	}
	if err := s.store.DeleteSession(context.Background(), sessionID); err != nil {
		s.logger.Error("delete session after exit failed", "sessionId", sessionID, "error", err)
	}

	h.cancel()

	s.mu.Lock()
	delete(s.byID, sessionID)
	if s.byAgent[agentID] == sessionID {
		delete(s.byAgent, agentID)
	}
	s.mu.Unlock()
}

// exitCodeAndSignal extracts a process exit code and, when the process
// died by signal, its name, from the error exec.Cmd.Wait returns.
func exitCodeAndSignal(err error) (int, *string) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			name := ws.Signal().String()
			return -1, &name
		}
		return exitErr.ExitCode(), nil
	}
	return -1, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// isExpectedExit reports whether err is simply a non-zero exit code (the
// normal exit path) rather than a process that crashed out from under us.
func isExpectedExit(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}
