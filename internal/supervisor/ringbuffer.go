package supervisor

import (
	"sync"

	"github.com/agentloom/orchestrator/internal/domain"
)

// ringBuffer is the per-session bounded output buffer (spec §4.1: "bounded
// ring buffer, evicting oldest when exceeding 1,000").
type ringBuffer struct {
	mu    sync.Mutex
	limit int
	items []domain.OutputEvent
}

func newRingBuffer(limit int) *ringBuffer {
	if limit <= 0 {
		limit = ringBufferLimit
	}
	return &ringBuffer{limit: limit}
}

func (r *ringBuffer) push(ev domain.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, ev)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

func (r *ringBuffer) snapshot() []domain.OutputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutputEvent, len(r.items))
	copy(out, r.items)
	return out
}
