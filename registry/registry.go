package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Registry is the append-only table of agent identities, keyed by id.
// Records are never updated or removed, and parent links only point at
// records that already exist, so the table cannot contain cycles.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]core.AgentIdentity
	order    []string
	children map[string][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents:   make(map[string]core.AgentIdentity),
		children: make(map[string][]string),
	}
}

// Register appends an identity. Specialized agents must reference an existing
// parent and have a strictly narrower lens than it.
func (r *Registry) Register(agent core.AgentIdentity) error {
	if err := agent.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("%w: agent %s already registered", core.ErrInvalidAgent, agent.ID)
	}
	if agent.Type == core.AgentSpecialized {
		parent, ok := r.agents[agent.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent %s of %s is not registered", core.ErrInvalidAgent, agent.ParentID, agent.ID)
		}
		if parent.SourceType != agent.SourceType {
			return fmt.Errorf("%w: specialized agent %s must share its parent's data source", core.ErrInvalidAgent, agent.ID)
		}
		if !agent.NarrowerThan(parent) {
			return fmt.Errorf("%w: lens %q is not narrower than parent lens %q", core.ErrInvalidAgent, agent.Lens, parent.Lens)
		}
		r.children[agent.ParentID] = append(r.children[agent.ParentID], agent.ID)
	}

	agent.Scope = append([]string(nil), agent.Scope...)
	r.agents[agent.ID] = agent
	r.order = append(r.order, agent.ID)
	return nil
}

// Get returns an agent by id.
func (r *Registry) Get(id string) (core.AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return core.AgentIdentity{}, fmt.Errorf("%w: agent %s", core.ErrNotFound, id)
	}
	return a, nil
}

// All returns every agent in registration order.
func (r *Registry) All() []core.AgentIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.AgentIdentity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Children returns the specialized agents derived from parentID, sorted by id.
func (r *Registry) Children(parentID string) []core.AgentIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := append([]string(nil), r.children[parentID]...)
	sort.Strings(ids)
	out := make([]core.AgentIdentity, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.agents[id])
	}
	return out
}

// Size returns the number of registered agents.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
