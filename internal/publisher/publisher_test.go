package publisher_test

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
	"github.com/agentloom/orchestrator/internal/publisher"
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

func newTestPublisher(t *testing.T) *publisher.Publisher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st := store.New(testRedis, logger)
	return publisher.New(st, logger, publisher.Config{
		MaxBatchSize:   50,
		BatchWindow:    100 * time.Millisecond,
		RetryAttempts:  3,
		PublishTimeout: 500 * time.Millisecond,
		RetryBaseDelay: 50 * time.Millisecond,
	})
}

func TestEnqueueBatchesTwoArrivalsIntoOnePublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	workspaceID := "batch-ws-1"
	p := newTestPublisher(t)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st := store.New(testRedis, logger)
	sub := st.Subscribe(ctx, workspaceID)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	received := make(chan struct{}, 2)
	go func() {
		ch := sub.Channel()
		for range ch {
			received <- struct{}{}
		}
	}()

	start := time.Now()
	p.Enqueue(ctx, workspaceID, "prj-1", domain.OutputEvent{
		SessionID: "s1", AgentID: "a1", Type: domain.OutputStdout,
		Content: "Building project...", Timestamp: start, LineNumber: 1,
	})
	time.Sleep(50 * time.Millisecond)
	p.Enqueue(ctx, workspaceID, "prj-1", domain.OutputEvent{
		SessionID: "s1", AgentID: "a1", Type: domain.OutputStdout,
		Content: "PASS src/x.spec.ts", Timestamp: start.Add(50 * time.Millisecond), LineNumber: 2,
	})

	count := 0
	timeout := time.After(2 * time.Second)
	for count < 2 {
		select {
		case <-received:
			count++
		case <-timeout:
			t.Fatalf("expected 2 published messages, got %d", count)
		}
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 1*time.Second)
}

func TestSnapshotTracksPublishedEvents(t *testing.T) {
	ctx := context.Background()
	p := newTestPublisher(t)

	p.Enqueue(ctx, "snap-ws-1", "prj-1", domain.OutputEvent{
		SessionID: "s1", AgentID: "a1", Type: domain.OutputStdout,
		Content: "hello", Timestamp: time.Now(), LineNumber: 1,
	})

	require.Eventually(t, func() bool {
		return p.Snapshot().EventsPublished >= 1
	}, 2*time.Second, 20*time.Millisecond)

	snap := p.Snapshot()
	assert.GreaterOrEqual(t, snap.BatchesPublished, int64(1))
	assert.False(t, snap.LastPublish.IsZero())
}

func TestPublishRetryExhaustionTakesThreeBackoffDelays(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// A client closed before use makes every Publish fail immediately with
	// redis.ErrClosed, a non-retriable error at the store's own retry layer
	// (see store.isRetriable), so the only delays observed are the
	// Publisher's own backoff between its RetryAttempts.
	deadClient := redis.NewClient(&redis.Options{Addr: testRedis.Options().Addr})
	require.NoError(t, deadClient.Close())
	st := store.New(deadClient, logger)

	p := publisher.New(st, logger, publisher.Config{
		MaxBatchSize:   50,
		BatchWindow:    10 * time.Millisecond,
		RetryAttempts:  3,
		PublishTimeout: 500 * time.Millisecond,
		RetryBaseDelay: 100 * time.Millisecond,
	})

	start := time.Now()
	p.Enqueue(ctx, "retry-ws-1", "prj-1", domain.OutputEvent{
		SessionID: "s1", AgentID: "a1", Type: domain.OutputStdout,
		Content: "will fail", Timestamp: start, LineNumber: 1,
	})

	require.Eventually(t, func() bool {
		return p.Snapshot().PublishFailures >= 1
	}, 3*time.Second, 20*time.Millisecond)
	elapsed := time.Since(start)

	// Three sleeps of base 100/200/400ms (plus up to 1x jitter each) must
	// all land before the message is dropped: a regression that skips the
	// sleep before the final attempt would drop after ~300ms instead.
	assert.GreaterOrEqual(t, elapsed, 700*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestShutdownDrainsAndStopsAcceptingWork(t *testing.T) {
	ctx := context.Background()
	p := newTestPublisher(t)

	p.Enqueue(ctx, "drain-ws-1", "prj-1", domain.OutputEvent{
		SessionID: "s1", AgentID: "a1", Type: domain.OutputStdout,
		Content: "pre-shutdown", Timestamp: time.Now(), LineNumber: 1,
	})

	p.Shutdown(ctx)

	before := p.Snapshot()
	p.Enqueue(ctx, "drain-ws-1", "prj-1", domain.OutputEvent{
		SessionID: "s1", AgentID: "a1", Type: domain.OutputStdout,
		Content: "post-shutdown", Timestamp: time.Now(), LineNumber: 2,
	})
	time.Sleep(150 * time.Millisecond)
	after := p.Snapshot()
	assert.Equal(t, before.EventsPublished, after.EventsPublished)
}
