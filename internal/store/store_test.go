package store_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/store"
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

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	testRedis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})

	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testRedis.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// newTestStore creates a Store for testing. Do NOT call Close() on this
// store as it would close the shared testRedis client.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return store.New(testRedis, logger)
}

func testSession(id string) domain.Session {
	now := time.Now().Truncate(time.Millisecond)
	return domain.Session{
		SessionID:     id,
		WorkspaceID:   "ws-" + id,
		ProjectID:     "proj-" + id,
		AgentID:       "agent-" + id,
		PID:           4242,
		Status:        domain.SessionRunning,
		Task:          "write unit tests",
		StartedAt:     now,
		LastHeartbeat: now,
		WorkingDir:    "/work/" + id,
	}
}

func TestStoreSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := testSession("rt-1")

	require.NoError(t, s.StoreSession(ctx, sess))
	defer s.DeleteSession(ctx, sess.SessionID)

	got, ok, err := s.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.Equal(t, sess.PID, got.PID)
	assert.Equal(t, sess.Status, got.Status)
	assert.True(t, sess.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.TerminatedAt)
}

func TestGetSessionMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetSession(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateStatusToTerminatedSetsTerminatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := testSession("term-1")

	require.NoError(t, s.StoreSession(ctx, sess))
	defer s.DeleteSession(ctx, sess.SessionID)

	require.NoError(t, s.UpdateStatus(ctx, sess.SessionID, domain.SessionTerminated, nil))

	got, ok, err := s.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SessionTerminated, got.Status)
	require.NotNil(t, got.TerminatedAt)
}

func TestWorkspaceIndexTracksMembership(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := testSession("ws-member-1")
	sess.WorkspaceID = "shared-ws"

	require.NoError(t, s.StoreSession(ctx, sess))
	defer s.DeleteSession(ctx, sess.SessionID)

	count, err := s.GetWorkspaceSessionCount(ctx, "shared-ws")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ids, err := s.GetWorkspaceSessions(ctx, "shared-ws")
	require.NoError(t, err)
	assert.Contains(t, ids, sess.SessionID)

	require.NoError(t, s.DeleteSession(ctx, sess.SessionID))

	count, err = s.GetWorkspaceSessionCount(ctx, "shared-ws")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetSessionByAgent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := testSession("agent-lookup-1")

	require.NoError(t, s.StoreSession(ctx, sess))
	defer s.DeleteSession(ctx, sess.SessionID)

	got, ok, err := s.GetSessionByAgent(ctx, sess.AgentID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess.SessionID, got.SessionID)

	_, ok, err = s.GetSessionByAgent(ctx, "no-such-agent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.DeleteSession(ctx, "never-existed"))
}

func TestGetAllSessionIdsRespectsCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		sess := testSession(fmt.Sprintf("scan-%d", i))
		require.NoError(t, s.StoreSession(ctx, sess))
		defer s.DeleteSession(ctx, sess.SessionID)
	}

	ids, err := s.GetAllSessionIds(ctx, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ids), 3)
}
