package supervisor_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/store"
	"github.com/agentloom/orchestrator/internal/supervisor"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}
	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "6379")
	testRedis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = testRedis.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// fakeAgentScript writes a tiny shell script standing in for the "claude"
// binary, printing two lines and exiting 0, and points
// ORCHESTRATOR_AGENT_BINARY at it so the Supervisor spawns it instead of
// the real agent CLI.
func fakeAgentScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude.sh")
	script := "#!/bin/sh\necho alpha\necho beta\nexit 0\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("ORCHESTRATOR_AGENT_BINARY", path)
	return path
}

func newTestSupervisor(t *testing.T) (*supervisor.Supervisor, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st := store.New(testRedis, logger)
	sup := supervisor.New(st, logger, supervisor.Config{
		MaxConcurrentSessions: 2,
		HeartbeatInterval:     50 * time.Millisecond,
		GraceWindow:           200 * time.Millisecond,
	})
	return sup, st
}

func TestCreateSessionSpawnsAndTerminates(t *testing.T) {
	fakeAgentScript(t)
	sup, _ := newTestSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := sup.Subscribe(ctx)
	terminations := sup.SubscribeTerminated(ctx)

	sess, err := sup.CreateSession(ctx, supervisor.CreateSessionRequest{
		AgentID:     "agent-1",
		Task:        "do x",
		WorkspaceID: "ws-1",
		ProjectID:   "prj-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRunning, sess.Status)
	assert.NotZero(t, sess.PID)

	var saw []domain.OutputEvent
	timeout := time.After(3 * time.Second)
collect:
	for {
		select {
		case ev := <-events:
			saw = append(saw, ev)
			if ev.Type == domain.OutputExit {
				break collect
			}
		case <-timeout:
			t.Fatal("timed out waiting for exit event")
		}
	}

	require.GreaterOrEqual(t, len(saw), 3)
	assert.Equal(t, domain.OutputExit, saw[len(saw)-1].Type)

	select {
	case term := <-terminations:
		assert.Equal(t, sess.SessionID, term.SessionID)
		assert.True(t, term.Terminated)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for terminated notification")
	}
}

func TestSendCommandFailsWhenNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	err := sup.SendCommand(ctx, "unknown-session", "echo hi")
	require.Error(t, err)
}

func TestTerminateSessionIsIdempotentForUnknownID(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	require.NoError(t, sup.TerminateSession(context.Background(), "never-existed"))
}

func holdingAgentScript(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude-hold.sh")
	script := "#!/bin/sh\nsleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("ORCHESTRATOR_AGENT_BINARY", path)
}

func TestConcurrencyCapRejectsOverflow(t *testing.T) {
	holdingAgentScript(t)
	sup, _ := newTestSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer sup.TerminateAllSessions(context.Background())

	for i := 0; i < 2; i++ {
		_, err := sup.CreateSession(ctx, supervisor.CreateSessionRequest{
			AgentID:     fmt.Sprintf("agent-cap-%d", i),
			Task:        "hold",
			WorkspaceID: "ws-cap",
			ProjectID:   "prj-cap",
		})
		require.NoError(t, err)
	}

	_, err := sup.CreateSession(ctx, supervisor.CreateSessionRequest{
		AgentID:     "agent-cap-overflow",
		Task:        "hold",
		WorkspaceID: "ws-cap",
		ProjectID:   "prj-cap",
	})
	require.Error(t, err)
}
