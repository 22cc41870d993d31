package projector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
	"github.com/NatureBlueee/Towow-sub000/logging"
	"github.com/NatureBlueee/Towow-sub000/registry"
)

// Projection is one derived view of an agent. It is never authoritative
// state: dropping it and deriving again yields the same bits.
type Projection struct {
	AgentID string
	Lens    string
	Version uint64
	Vector  core.Hypervector
	Keys    []string
}

// Projector derives agent hypervectors from their backing data source.
type Projector struct {
	registry *registry.Registry
	encoder  *encoder.Encoder
	cache    *cache.Cache

	mu      sync.RWMutex
	sources map[string]core.ProfileDataSource

	observer func(agentID, lens string, p Projection)
	logger   *logrus.Entry
}

// New creates a projector. cacheTTL of zero disables the read-through cache.
func New(reg *registry.Registry, enc *encoder.Encoder, cacheTTL time.Duration) *Projector {
	p := &Projector{
		registry: reg,
		encoder:  enc,
		sources:  make(map[string]core.ProfileDataSource),
		logger:   logging.For("projector"),
	}
	if cacheTTL > 0 {
		p.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return p
}

// RegisterSource binds a data source to a source type.
func (p *Projector) RegisterSource(sourceType string, src core.ProfileDataSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[sourceType] = src
}

// Source returns the data source bound to sourceType.
func (p *Projector) Source(sourceType string) (core.ProfileDataSource, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src, ok := p.sources[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: no data source for type %q", core.ErrNotFound, sourceType)
	}
	return src, nil
}

// Registry returns the agent table the projector reads.
func (p *Projector) Registry() *registry.Registry { return p.registry }

// OnNarrowProjection installs a hook called whenever an agent is projected
// under a lens other than its own.
func (p *Projector) OnNarrowProjection(fn func(agentID, lens string, proj Projection)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// Owner returns the general agent whose data backs agentID. Specialized
// agents read the same data as their root general ancestor.
func (p *Projector) Owner(agentID string) (core.AgentIdentity, error) {
	agent, err := p.registry.Get(agentID)
	if err != nil {
		return core.AgentIdentity{}, err
	}
	for agent.Type == core.AgentSpecialized {
		agent, err = p.registry.Get(agent.ParentID)
		if err != nil {
			return core.AgentIdentity{}, err
		}
	}
	return agent, nil
}

// Profile fetches the current profile data backing agentID.
func (p *Projector) Profile(ctx context.Context, agentID string) (core.ProfileData, error) {
	owner, err := p.Owner(agentID)
	if err != nil {
		return core.ProfileData{}, err
	}
	src, err := p.Source(owner.SourceType)
	if err != nil {
		return core.ProfileData{}, err
	}
	data, err := src.GetProfile(ctx, owner.ID)
	if err != nil {
		return core.ProfileData{}, fmt.Errorf("get profile %s: %w", owner.ID, err)
	}
	return data, nil
}

// UpdateProfile appends an experience to the data behind agentID. Echoes for
// a specialized agent land on its general owner.
func (p *Projector) UpdateProfile(ctx context.Context, agentID string, exp core.Experience) error {
	owner, err := p.Owner(agentID)
	if err != nil {
		return err
	}
	src, err := p.Source(owner.SourceType)
	if err != nil {
		return err
	}
	if err := src.UpdateProfile(ctx, owner.ID, exp); err != nil {
		return fmt.Errorf("update profile %s: %w", owner.ID, err)
	}
	return nil
}

// Derive returns the hypervector of agentID under lens.
func (p *Projector) Derive(ctx context.Context, agentID, lens string) (core.Hypervector, error) {
	proj, err := p.Project(ctx, agentID, lens)
	if err != nil {
		return core.Hypervector{}, err
	}
	return proj.Vector, nil
}

// Snapshot projects agentID under its own registered lens.
func (p *Projector) Snapshot(ctx context.Context, agentID string) (Projection, error) {
	agent, err := p.registry.Get(agentID)
	if err != nil {
		return Projection{}, err
	}
	return p.project(ctx, agent, agent.Lens)
}

// Project is Derive returning the full projection, including gate keys.
func (p *Projector) Project(ctx context.Context, agentID, lens string) (Projection, error) {
	agent, err := p.registry.Get(agentID)
	if err != nil {
		return Projection{}, err
	}
	proj, err := p.project(ctx, agent, lens)
	if err != nil {
		return Projection{}, err
	}
	if lens != "" && lens != agent.Lens {
		p.mu.RLock()
		obs := p.observer
		p.mu.RUnlock()
		if obs != nil {
			obs(agentID, lens, proj)
		}
	}
	return proj, nil
}

func (p *Projector) project(ctx context.Context, agent core.AgentIdentity, lens string) (Projection, error) {
	if proj, ok := p.cached(ctx, agent.ID, lens); ok {
		return proj, nil
	}
	data, err := p.Profile(ctx, agent.ID)
	if err != nil {
		return Projection{}, err
	}

	key := cacheKey(agent.ID, lens, data.Version)
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			return v.(Projection), nil
		}
	}

	vec, err := p.encoder.Project(ctx, data, lens)
	if err != nil {
		return Projection{}, fmt.Errorf("project %s: %w", agent.ID, err)
	}
	proj := Projection{
		AgentID: agent.ID,
		Lens:    lens,
		Version: data.Version,
		Vector:  vec,
		Keys:    encoder.ProfileKeys(data, lens, agent.Scope),
	}
	if p.cache != nil {
		p.cache.Set(key, proj, cache.DefaultExpiration)
	}
	p.logger.WithFields(logrus.Fields{
		"agent_id": agent.ID,
		"lens":     lens,
		"version":  data.Version,
	}).Debug("derived projection")
	return proj, nil
}

// cached serves a projection whose data version the source confirms is
// still current, without loading the profile.
func (p *Projector) cached(ctx context.Context, agentID, lens string) (Projection, bool) {
	if p.cache == nil {
		return Projection{}, false
	}
	owner, err := p.Owner(agentID)
	if err != nil {
		return Projection{}, false
	}
	src, err := p.Source(owner.SourceType)
	if err != nil {
		return Projection{}, false
	}
	versioner, ok := src.(core.ProfileVersioner)
	if !ok {
		return Projection{}, false
	}
	version, err := versioner.ProfileVersion(ctx, owner.ID)
	if err != nil {
		return Projection{}, false
	}
	v, ok := p.cache.Get(cacheKey(agentID, lens, version))
	if !ok {
		return Projection{}, false
	}
	return v.(Projection), true
}

func cacheKey(agentID, lens string, version uint64) string {
	return fmt.Sprintf("%s|%s|%d", agentID, lens, version)
}
