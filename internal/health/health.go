// Package health implements the Health Monitor (spec §4.3): a periodic
// sweep over every session id the Session Store knows about, reclaiming
// stale sessions and publishing an aggregate snapshot, instrumented with
// OpenTelemetry metrics the way the rest of this module's components are.
package health

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/store"
	"github.com/agentloom/orchestrator/internal/telemetry"
)

const defaultInterval = 60 * time.Second
const defaultStaleThreshold = 300 * time.Second

// Terminator is the subset of *supervisor.Supervisor the monitor needs;
// scoped to an interface so this package does not import supervisor.
type Terminator interface {
	TerminateSession(ctx context.Context, sessionID string) error
}

// SessionStale is emitted for each session found past staleThreshold,
// before TerminateSession is called for it.
type SessionStale struct {
	SessionID     string
	AgentID       string
	LastHeartbeat time.Time
}

// Snapshot is the end-of-pass report (spec §4.3's "HealthCheckComplete").
type Snapshot struct {
	Total          int
	Active         int
	Stale          int
	Terminated     int
	AllocBytes     uint64
	SysBytes       uint64
	NumGoroutine   int
	CompletedAt    time.Time
}

// Config carries the Monitor's tunables.
type Config struct {
	Interval       time.Duration
	StaleThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaultStaleThreshold
	}
	return c
}

// Monitor runs the periodic sweep.
type Monitor struct {
	cfg        Config
	store      *store.Store
	supervisor Terminator
	logger     *slog.Logger

	mu        sync.RWMutex
	snapshots chan Snapshot
	staleCh   chan SessionStale

	staleCounter  metric.Int64Counter
	sweepDuration metric.Float64Histogram
}

// New constructs a Monitor. Its metric instruments come from
// telemetry.Meter; when telemetry.Init ran without an endpoint the global
// meter provider is the no-op default, so the instruments are no-ops too.
func New(st *store.Store, sup Terminator, logger *slog.Logger, cfg Config) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("orchestrator/health")
	staleCounter, _ := meter.Int64Counter("orchestrator.health.stale_sessions",
		metric.WithDescription("sessions reclaimed for exceeding the stale threshold"))
	sweepDuration, _ := meter.Float64Histogram("orchestrator.health.sweep_duration_seconds",
		metric.WithDescription("wall-clock duration of a single health sweep"))

	return &Monitor{
		cfg:           cfg.withDefaults(),
		store:         st,
		supervisor:    sup,
		logger:        logger,
		snapshots:     make(chan Snapshot, 8),
		staleCh:       make(chan SessionStale, 64),
		staleCounter:  staleCounter,
		sweepDuration: sweepDuration,
	}
}

// Snapshots returns a channel of end-of-pass reports.
func (m *Monitor) Snapshots() <-chan Snapshot { return m.snapshots }

// StaleSessions returns a channel of per-session stale notifications.
func (m *Monitor) StaleSessions() <-chan SessionStale { return m.staleCh }

// Run executes sweeps immediately and then on every tick until ctx is
// done. All per-sweep errors are swallowed into logs (spec §7: "the Health
// Monitor absorbs all errors to keep running").
func (m *Monitor) Run(ctx context.Context) {
	m.sweep(ctx)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		if m.sweepDuration != nil {
			m.sweepDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	ids, err := m.store.GetAllSessionIds(ctx, 0)
	if err != nil {
		m.logger.Error("health sweep: list session ids failed", "error", err)
		return
	}

	snap := Snapshot{Total: len(ids)}

	for _, id := range ids {
		sess, ok, err := m.store.GetSession(ctx, id)
		if err != nil {
			m.logger.Warn("health sweep: get session failed", "sessionId", id, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if sess.Status == domain.SessionTerminated {
			snap.Terminated++
			continue
		}

		if time.Since(sess.LastHeartbeat) > m.cfg.StaleThreshold {
			snap.Stale++
			m.emitStale(SessionStale{SessionID: sess.SessionID, AgentID: sess.AgentID, LastHeartbeat: sess.LastHeartbeat})
			if m.staleCounter != nil {
				m.staleCounter.Add(ctx, 1)
			}
			if err := m.supervisor.TerminateSession(ctx, sess.SessionID); err != nil {
				m.logger.Warn("health sweep: terminate stale session failed, marking terminated directly", "sessionId", sess.SessionID, "error", err)
				if err := m.store.UpdateStatus(ctx, sess.SessionID, domain.SessionTerminated, nil); err != nil {
					m.logger.Error("health sweep: defensive status update failed", "sessionId", sess.SessionID, "error", err)
				}
			}
			continue
		}

		snap.Active++
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap.AllocBytes = mem.Alloc
	snap.SysBytes = mem.Sys
	snap.NumGoroutine = runtime.NumGoroutine()
	snap.CompletedAt = time.Now().UTC()

	m.emitSnapshot(snap)
}

func (m *Monitor) emitStale(n SessionStale) {
	select {
	case m.staleCh <- n:
	default:
	}
}

func (m *Monitor) emitSnapshot(s Snapshot) {
	select {
	case m.snapshots <- s:
	default:
		// Drop the oldest pending snapshot rather than block the sweep loop.
		select {
		case <-m.snapshots:
		default:
		}
		m.snapshots <- s
	}
}
