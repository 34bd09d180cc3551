// Package supervisor implements the Session Supervisor (spec §4.1): it
// spawns and tracks child agent processes, reads their output line by
// line, accepts commands on stdin, and fans out typed notifications to
// subscribers without coupling to a particular eventing framework (spec
// §9's "Event notifications from the Supervisor" design note).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/errs"
	"github.com/agentloom/orchestrator/internal/store"
)

const (
	ringBufferLimit     = 1000
	defaultGraceWindow  = 5 * time.Second
	defaultHeartbeat    = 30 * time.Second
	childBinary         = "claude"
)

// Config carries the Supervisor's tunables, sourced from spec §6 env vars.
type Config struct {
	MaxConcurrentSessions int
	HeartbeatInterval     time.Duration
	GraceWindow           time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeat
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = defaultGraceWindow
	}
	return c
}

// handle is the Supervisor's in-memory bookkeeping for one live session.
type handle struct {
	mu      sync.Mutex
	session domain.Session
	proc    *process
	ring    *ringBuffer
	lineNo  int
	cancel  context.CancelFunc
}

// Supervisor owns every live session's process handle and is the sole
// mutator of the by-sessionId and by-agentId in-memory maps (spec §5:
// "mutated only by the Supervisor; external readers see a consistent
// snapshot").
type Supervisor struct {
	cfg    Config
	store  *store.Store
	logger *slog.Logger

	mu         sync.RWMutex
	byID       map[string]*handle
	byAgent    map[string]string // agentID -> sessionID

	bus *eventBus

	wg sync.WaitGroup
}

// New constructs a Supervisor. The caller retains ownership of store and is
// responsible for closing it after Close/terminateAllSessions.
func New(st *store.Store, logger *slog.Logger, cfg Config) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		store:   st,
		logger:  logger,
		byID:    make(map[string]*handle),
		byAgent: make(map[string]string),
		bus:     newEventBus(),
	}
}

// Subscribe returns a read-only channel of OutputEvents from every session
// this Supervisor owns; error and terminated notifications come through
// SubscribeErrors and SubscribeTerminated. The channel is closed when ctx
// is done.
func (s *Supervisor) Subscribe(ctx context.Context) <-chan domain.OutputEvent {
	return s.bus.subscribe(ctx)
}

// SubscribeTerminated returns a read-only channel of session-terminated
// notifications.
func (s *Supervisor) SubscribeTerminated(ctx context.Context) <-chan TerminatedNotification {
	return s.bus.subscribeTerminated(ctx)
}

// SubscribeErrors returns a read-only channel of process-crash notifications.
func (s *Supervisor) SubscribeErrors(ctx context.Context) <-chan ErrorNotification {
	return s.bus.subscribeErrors(ctx)
}

// looksCanonicalID reports whether an id already looks like a 36-character
// hyphenated canonical UUID string; per spec §9's open question, ids are
// only validated as such opportunistically, never forced into that shape.
func looksCanonicalID(id string) bool {
	if len(id) != 36 {
		return false
	}
	return id[8] == '-' && id[13] == '-' && id[18] == '-' && id[23] == '-'
}

func validateID(field, id string) error {
	if id == "" {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("%s must not be empty", field))
	}
	if looksCanonicalID(id) {
		if _, err := uuid.Parse(id); err != nil {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("%s looks canonical but does not parse: %v", field, err))
		}
	}
	return nil
}
