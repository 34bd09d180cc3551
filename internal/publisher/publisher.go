// Package publisher implements the Stream Publisher (spec §4.5): it
// transforms OutputEvents into StreamEvents via the Output Parser, batches
// them per workspace, and publishes each batch to the shared pub/sub
// channel with bounded retry. Concurrent flushes of one workspace are
// collapsed through a single-flight group.
package publisher

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/parser"
	"github.com/agentloom/orchestrator/internal/store"
)

const (
	defaultMaxBatchSize   = 50
	defaultBatchWindow    = 100 * time.Millisecond
	defaultRetryAttempts  = 3
	defaultPublishTimeout = 500 * time.Millisecond
	defaultRetryBaseDelay = 100 * time.Millisecond
)

// Config carries the Publisher's tunables (spec §4.5 defaults).
type Config struct {
	MaxBatchSize   int
	BatchWindow    time.Duration
	RetryAttempts  int
	PublishTimeout time.Duration
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = defaultBatchWindow
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	return c
}

// Metrics is a read-only snapshot of the Publisher's running counters
// (spec §4.5).
type Metrics struct {
	EventsPublished   int64
	BatchesPublished  int64
	PublishFailures   int64
	AvgBatchSize      float64
	AvgPublishLatency time.Duration
	LastPublish       time.Time
}

type pending struct {
	mu     sync.Mutex
	events []domain.StreamEvent
	timer  *time.Timer
}

// Publisher batches and publishes StreamEvents, one batch queue per
// workspace.
type Publisher struct {
	cfg    Config
	store  *store.Store
	logger *slog.Logger

	mu      sync.Mutex
	queues  map[string]*pending
	drained atomic.Bool
	flushSF singleflight.Group

	eventsPublished  atomic.Int64
	batchesPublished atomic.Int64
	publishFailures  atomic.Int64
	batchSizeSum     atomic.Int64
	latencySumNanos  atomic.Int64
	lastPublish      atomic.Int64 // unix nanos
}

// New constructs a Publisher. Store is shared with the Session Store per
// the design note in spec §9.
func New(st *store.Store, logger *slog.Logger, cfg Config) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg.withDefaults(),
		store:  st,
		logger: logger,
		queues: make(map[string]*pending),
	}
}

// Enqueue converts an OutputEvent to a StreamEvent via the Output Parser
// and schedules it for the next flush of its workspace's batch. A no-op
// once the Publisher has been shut down.
func (p *Publisher) Enqueue(ctx context.Context, workspaceID, projectID string, ev domain.OutputEvent) {
	if p.drained.Load() {
		return
	}

	classified := parser.Parse(ev.Content)
	streamType := classified.Type
	if ev.Type == domain.OutputCommand {
		streamType = domain.StreamCommand
	}
	meta := classified.Metadata
	if ev.Type == domain.OutputStdout || ev.Type == domain.OutputStderr {
		meta.OutputType = ev.Type
	}

	se := domain.StreamEvent{
		SessionID:   ev.SessionID,
		AgentID:     ev.AgentID,
		ProjectID:   projectID,
		WorkspaceID: workspaceID,
		Type:        streamType,
		Content:     ev.Content,
		Timestamp:   ev.Timestamp,
		LineNumber:  ev.LineNumber,
	}
	if !meta.IsEmpty() {
		se.Metadata = &meta
	}

	p.enqueueStreamEvent(ctx, workspaceID, se)
}

func (p *Publisher) enqueueStreamEvent(ctx context.Context, workspaceID string, se domain.StreamEvent) {
	p.mu.Lock()
	q, ok := p.queues[workspaceID]
	if !ok {
		q = &pending{}
		p.queues[workspaceID] = q
	}
	p.mu.Unlock()

	q.mu.Lock()
	q.events = append(q.events, se)
	full := len(q.events) >= p.cfg.MaxBatchSize
	if q.timer == nil {
		q.timer = time.AfterFunc(p.cfg.BatchWindow, func() { p.flush(context.Background(), workspaceID) })
	}
	q.mu.Unlock()

	if full {
		p.flush(ctx, workspaceID)
	}
}

// flush publishes a workspace's pending batch. Concurrent flush requests
// for the same workspace collapse onto a single in-flight attempt via
// singleflight; if new events arrived while that attempt was running, a
// follow-up flush is scheduled once it completes, matching the "no
// starvation, at most one flush in flight" guarantee spec §9 calls for.
func (p *Publisher) flush(ctx context.Context, workspaceID string) {
	_, _, _ = p.flushSF.Do(workspaceID, func() (any, error) {
		p.doFlush(ctx, workspaceID)
		return nil, nil
	})

	p.mu.Lock()
	q, ok := p.queues[workspaceID]
	p.mu.Unlock()
	if !ok {
		return
	}
	q.mu.Lock()
	hasMore := len(q.events) > 0
	q.mu.Unlock()
	if hasMore {
		p.flush(ctx, workspaceID)
	}
}

func (p *Publisher) doFlush(ctx context.Context, workspaceID string) {
	p.mu.Lock()
	q, ok := p.queues[workspaceID]
	p.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	batch := q.events
	q.events = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	p.batchesPublished.Add(1)
	p.batchSizeSum.Add(int64(len(batch)))

	for _, ev := range batch {
		p.publishWithRetry(ctx, workspaceID, ev)
	}
}

// publishWithRetry attempts RetryAttempts publishes, sleeping an
// exponential back-off after every failed attempt including the last —
// unlike provider.BasePolicy.Complete, which returns without sleeping after
// its terminal attempt, the delay-before-give-up is part of each attempt's
// own cost. With the spec defaults (RetryAttempts=3,
// RetryBaseDelay=100ms) three failures are dropped after ~100+200+400ms
// ≈ 700ms (spec.md's testable property), not ~300ms.
func (p *Publisher) publishWithRetry(ctx context.Context, workspaceID string, ev domain.StreamEvent) {
	delay := p.cfg.RetryBaseDelay
	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
		err := p.store.Publish(attemptCtx, workspaceID, ev)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			p.eventsPublished.Add(1)
			p.latencySumNanos.Add(elapsed.Nanoseconds())
			p.lastPublish.Store(time.Now().UnixNano())
			return
		}

		jitter := time.Duration(rand.Int64N(int64(delay) + 1))
		select {
		case <-ctx.Done():
			p.publishFailures.Add(1)
			return
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}

	p.publishFailures.Add(1)
	p.logger.Warn("publish exhausted retries, dropping message",
		"workspaceId", workspaceID, "sessionId", ev.SessionID, "type", ev.Type)
}

// Shutdown marks the Publisher drained (subsequent Enqueue calls are
// no-ops), cancels pending batch timers, and performs one final flush per
// workspace.
func (p *Publisher) Shutdown(ctx context.Context) {
	p.drained.Store(true)

	p.mu.Lock()
	ids := make([]string, 0, len(p.queues))
	for id := range p.queues {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.flush(ctx, id)
	}
}

// Snapshot returns a read-only view of the Publisher's running metrics.
func (p *Publisher) Snapshot() Metrics {
	batches := p.batchesPublished.Load()
	avgBatch := 0.0
	if batches > 0 {
		avgBatch = float64(p.batchSizeSum.Load()) / float64(batches)
	}
	published := p.eventsPublished.Load()
	avgLatency := time.Duration(0)
	if published > 0 {
		avgLatency = time.Duration(p.latencySumNanos.Load() / published)
	}
	var last time.Time
	if ns := p.lastPublish.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Metrics{
		EventsPublished:   published,
		BatchesPublished:  batches,
		PublishFailures:   p.publishFailures.Load(),
		AvgBatchSize:      avgBatch,
		AvgPublishLatency: avgLatency,
		LastPublish:       last,
	}
}
