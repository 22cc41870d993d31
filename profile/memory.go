package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// MemorySource keeps profiles in process memory. It backs tests and demo
// deployments where profiles are seeded at startup.
type MemorySource struct {
	mu       sync.RWMutex
	profiles map[string]core.ProfileData
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{profiles: make(map[string]core.ProfileData)}
}

// Put seeds or replaces the base profile of an agent. Experiences already
// appended are kept.
func (m *MemorySource) Put(p core.ProfileData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.profiles[p.AgentID]
	if ok {
		p.Experiences = append(prev.Experiences, p.Experiences...)
		if p.Version <= prev.Version {
			p.Version = prev.Version + 1
		}
	}
	m.profiles[p.AgentID] = p
}

func (m *MemorySource) GetProfile(_ context.Context, agentID string) (core.ProfileData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[agentID]
	if !ok {
		return core.ProfileData{}, fmt.Errorf("%w: profile %s", core.ErrNotFound, agentID)
	}
	return clone(p), nil
}

func (m *MemorySource) UpdateProfile(_ context.Context, agentID string, exp core.Experience) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[agentID]
	if !ok {
		return fmt.Errorf("%w: profile %s", core.ErrNotFound, agentID)
	}
	p.Experiences = append(p.Experiences, exp)
	p.Version++
	m.profiles[agentID] = p
	return nil
}

func (m *MemorySource) ProfileVersion(_ context.Context, agentID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: profile %s", core.ErrNotFound, agentID)
	}
	return p.Version, nil
}

func clone(p core.ProfileData) core.ProfileData {
	out := p
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	out.Tags = append([]string(nil), p.Tags...)
	out.Experiences = append([]core.Experience(nil), p.Experiences...)
	return out
}
