// Package registry implements the Provider Registry (spec §4.9): an
// in-process directory of configured vendor providers keyed by ProviderID.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/provider"
)

// Entry pairs a provider implementation with its registration state and the
// API key used for health checks.
type Entry struct {
	Provider provider.Provider
	APIKey   string
	enabled  bool
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ProviderID]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[domain.ProviderID]*Entry)}
}

// Register adds or replaces a provider, enabled by default.
func (r *Registry) Register(id domain.ProviderID, p provider.Provider, apiKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &Entry{Provider: p, APIKey: apiKey, enabled: true}
}

// Get returns the provider for id, or (nil, false) if unregistered.
func (r *Registry) Get(id domain.ProviderID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// MustGet returns the provider for id, or an error if unregistered.
func (r *Registry) MustGet(id domain.ProviderID) (*Entry, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("registry: no provider registered for %q", id)
	}
	return e, nil
}

// All returns every registered provider id, in no particular order.
func (r *Registry) All() []domain.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.ProviderID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Enabled returns every provider id currently enabled.
func (r *Registry) Enabled() []domain.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []domain.ProviderID
	for id, e := range r.entries {
		if e.enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetEnabled toggles a provider's availability for selection without
// unregistering it.
func (r *Registry) SetEnabled(id domain.ProviderID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("registry: no provider registered for %q", id)
	}
	e.enabled = enabled
	return nil
}

// IsEnabled reports whether id is registered and enabled.
func (r *Registry) IsEnabled(id domain.ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.enabled
}

// ProviderForModel returns the first enabled provider, in ProviderID sort
// order, whose SupportsModel returns true for modelID, or false if none
// does. Iterating a sorted slice rather than r.entries directly keeps
// "first" deterministic if two enabled providers both claim the same
// modelID.
func (r *Registry) ProviderForModel(modelID string) (domain.ProviderID, *Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.ProviderID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := r.entries[id]
		if e.enabled && e.Provider.SupportsModel(modelID) {
			return id, e, true
		}
	}
	return "", nil, false
}

// HealthResult is one provider's outcome from HealthCheckAll.
type HealthResult struct {
	Provider domain.ProviderID
	Status   provider.HealthStatus
	Err      error
}

// HealthCheckAll runs HealthCheck concurrently against every enabled
// provider, using the API key supplied in keys[id]. A provider missing a
// key yields a synthetic unhealthy status rather than calling out.
func (r *Registry) HealthCheckAll(ctx context.Context, keys map[domain.ProviderID]string) []HealthResult {
	r.mu.RLock()
	type target struct {
		id    domain.ProviderID
		entry *Entry
	}
	var targets []target
	for id, e := range r.entries {
		if e.enabled {
			targets = append(targets, target{id: id, entry: e})
		}
	}
	r.mu.RUnlock()

	results := make([]HealthResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, tgt := range targets {
		i, tgt := i, tgt
		g.Go(func() error {
			key := keys[tgt.id]
			if key == "" {
				key = tgt.entry.APIKey
			}
			if key == "" {
				results[i] = HealthResult{
					Provider: tgt.id,
					Status:   provider.HealthStatus{Healthy: false, Message: "no API key configured"},
				}
				return nil
			}
			status, err := tgt.entry.Provider.HealthCheck(gctx, key)
			results[i] = HealthResult{Provider: tgt.id, Status: status, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
