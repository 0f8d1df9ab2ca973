package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"AlgoArena/internal/domain/models"
)

// Registry is the shared store of agent state. Mutations to one agent are
// serialized by that agent's own lock; agents never block each other. Readers
// get deep copies, so a snapshot can never observe a half-applied update.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	agent *models.Agent
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a new agent. The agent id must be unused.
func (r *Registry) Register(a *models.Agent) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("agent id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[a.ID]; exists {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	r.entries[a.ID] = &entry{agent: a.Clone()}
	return nil
}

// Snapshot returns an immutable deep copy of one agent.
func (r *Registry) Snapshot(id string) (*models.Agent, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent.Clone(), true
}

// SnapshotAll returns deep copies of every agent, ordered by id for
// deterministic iteration.
func (r *Registry) SnapshotAll() []*models.Agent {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*models.Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.Snapshot(id); ok {
			out = append(out, a)
		}
	}
	return out
}

// Update applies fn to the agent under its lock. fn sees the live record and
// may mutate it; the mutation is invisible to snapshots until fn returns.
func (r *Registry) Update(id string, fn func(a *models.Agent) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.agent)
}

// Swap atomically replaces the agent's strategy handle and source. Ticks
// running concurrently observe either the old or the new handle, never a
// torn pair.
func (r *Registry) Swap(id string, s models.Strategy, source, modelID string) error {
	return r.Update(id, func(a *models.Agent) error {
		a.Strategy = s
		a.Source = source
		if modelID != "" {
			a.Model = modelID
		}
		a.GeneratedAt = time.Now()
		return nil
	})
}

// AppendTrade records an executed trade in the agent's bounded history.
func (r *Registry) AppendTrade(id string, t models.TradeRecord) error {
	return r.Update(id, func(a *models.Agent) error {
		a.TradeHistory = append(a.TradeHistory, t)
		if n := len(a.TradeHistory); n > models.MaxTradeHistory {
			a.TradeHistory = a.TradeHistory[n-models.MaxTradeHistory:]
		}
		a.TradesCount++
		return nil
	})
}

// RecordFault increments the agent's fault counter and returns the new count.
func (r *Registry) RecordFault(id string) (int, error) {
	var count int
	err := r.Update(id, func(a *models.Agent) error {
		a.FaultCount++
		count = a.FaultCount
		return nil
	})
	return count, err
}

// SetState transitions the agent's lifecycle state.
func (r *Registry) SetState(id string, s models.AgentState) error {
	return r.Update(id, func(a *models.Agent) error {
		a.State = s
		return nil
	})
}

// Remove deletes one agent. Only administrative resets call this.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Clear deletes every agent. Only the hard reset calls this.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
}

// IDs returns all registered agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}
