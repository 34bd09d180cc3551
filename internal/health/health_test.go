package health_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/health"
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
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
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

type fakeTerminator struct {
	calls atomic.Int64
	err   error
}

func (f *fakeTerminator) TerminateSession(ctx context.Context, sessionID string) error {
	f.calls.Add(1)
	return f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return store.New(testRedis, logger)
}

func TestSweepLeavesFreshSessionsActive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	term := &fakeTerminator{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mon := health.New(st, term, logger, health.Config{Interval: time.Hour, StaleThreshold: 5 * time.Minute})

	require.NoError(t, st.StoreSession(ctx, domain.Session{
		SessionID: "fresh-1", WorkspaceID: "ws-1", AgentID: "agent-1",
		Status: domain.SessionRunning, StartedAt: time.Now(), LastHeartbeat: time.Now(),
	}))

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go mon.Run(runCtx)

	select {
	case snap := <-mon.Snapshots():
		assert.GreaterOrEqual(t, snap.Active, 1)
		assert.Equal(t, 0, snap.Stale)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a snapshot")
	}
	assert.Equal(t, int64(0), term.calls.Load())
}

func TestSweepReclaimsStaleSessionAndReportsZeroOnNextPass(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	term := &fakeTerminator{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mon := health.New(st, term, logger, health.Config{Interval: 100 * time.Millisecond, StaleThreshold: 1 * time.Minute})

	staleHeartbeat := time.Now().Add(-6 * time.Minute)
	require.NoError(t, st.StoreSession(ctx, domain.Session{
		SessionID: "stale-1", WorkspaceID: "ws-1", AgentID: "agent-stale",
		Status: domain.SessionRunning, StartedAt: staleHeartbeat, LastHeartbeat: staleHeartbeat,
	}))

	runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	go mon.Run(runCtx)

	select {
	case n := <-mon.StaleSessions():
		assert.Equal(t, "stale-1", n.SessionID)
		assert.Equal(t, "agent-stale", n.AgentID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a SessionStale notification")
	}

	require.Eventually(t, func() bool {
		return term.calls.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, st.UpdateStatus(ctx, "stale-1", domain.SessionTerminated, nil))

	require.Eventually(t, func() bool {
		select {
		case snap := <-mon.Snapshots():
			return snap.Stale == 0
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond, "a later sweep should report staleSessions=0 once the session is terminated")
}

func TestSweepFallsBackToDirectTerminationWhenSupervisorFails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	term := &fakeTerminator{err: fmt.Errorf("supervisor unreachable")}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mon := health.New(st, term, logger, health.Config{Interval: time.Hour, StaleThreshold: 1 * time.Minute})

	staleHeartbeat := time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.StoreSession(ctx, domain.Session{
		SessionID: "stale-2", WorkspaceID: "ws-1", AgentID: "agent-stale-2",
		Status: domain.SessionRunning, StartedAt: staleHeartbeat, LastHeartbeat: staleHeartbeat,
	}))

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go mon.Run(runCtx)

	require.Eventually(t, func() bool {
		sess, ok, err := st.GetSession(ctx, "stale-2")
		return err == nil && ok && sess.Status == domain.SessionTerminated
	}, 2*time.Second, 20*time.Millisecond, "session must be marked terminated directly when TerminateSession errors")
}
