package supervisor

import (
	"context"
	"sync"

	"github.com/agentloom/orchestrator/internal/domain"
)

// TerminatedNotification is emitted once per session, after the exit
// OutputEvent, carrying the process's final disposition (spec §4.1).
type TerminatedNotification struct {
	SessionID  string
	AgentID    string
	Code       int
	Signal     *string
	Terminated bool
}

// ErrorNotification is emitted when waiting on a supervised process fails
// with something other than an ordinary exit status (spec §4.1's "Crashed"
// notification), after the exit OutputEvent and before the
// TerminatedNotification.
type ErrorNotification struct {
	SessionID string
	AgentID   string
	Err       error
}

const subscriberBuffer = 256

// eventBus fans a Supervisor's internal notifications out to any number of
// subscribers without coupling producers to a specific eventing framework,
// per the design note in spec §9.
type eventBus struct {
	mu          sync.Mutex
	output      map[chan domain.OutputEvent]struct{}
	terminated  map[chan TerminatedNotification]struct{}
	errors      map[chan ErrorNotification]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{
		output:     make(map[chan domain.OutputEvent]struct{}),
		terminated: make(map[chan TerminatedNotification]struct{}),
		errors:     make(map[chan ErrorNotification]struct{}),
	}
}

func (b *eventBus) subscribe(ctx context.Context) <-chan domain.OutputEvent {
	ch := make(chan domain.OutputEvent, subscriberBuffer)
	b.mu.Lock()
	b.output[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.output, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (b *eventBus) subscribeTerminated(ctx context.Context) <-chan TerminatedNotification {
	ch := make(chan TerminatedNotification, subscriberBuffer)
	b.mu.Lock()
	b.terminated[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.terminated, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (b *eventBus) subscribeErrors(ctx context.Context) <-chan ErrorNotification {
	ch := make(chan ErrorNotification, subscriberBuffer)
	b.mu.Lock()
	b.errors[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.errors, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

// emitOutput is non-blocking per subscriber: a slow subscriber drops the
// event rather than stalling the session's output loop.
func (b *eventBus) emitOutput(ev domain.OutputEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.output {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *eventBus) emitTerminated(n TerminatedNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.terminated {
		select {
		case ch <- n:
		default:
		}
	}
}

func (b *eventBus) emitError(n ErrorNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.errors {
		select {
		case ch <- n:
		default:
		}
	}
}
