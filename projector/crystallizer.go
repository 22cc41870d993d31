package projector

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cdipaolo/goml/cluster"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/logging"
)

// CrystallizerConfig controls automatic specialization.
type CrystallizerConfig struct {
	MinObservations int     // narrow projections of one parent before clustering
	MaxClusters     int     // upper bound for k
	MinClusterSize  int     // members a cluster needs to crystallize
	Dominance       float64 // share of one lens inside the cluster
	FeatureBlocks   int     // hypervector is reduced to this many bit densities
	MaxHistory      int     // observations kept per parent
}

// DefaultCrystallizerConfig returns standard settings.
func DefaultCrystallizerConfig() CrystallizerConfig {
	return CrystallizerConfig{
		MinObservations: 12,
		MaxClusters:     4,
		MinClusterSize:  6,
		Dominance:       0.6,
		FeatureBlocks:   32,
		MaxHistory:      500,
	}
}

type observation struct {
	lens     string
	features []float64
}

// Crystallizer produces specialized agents. Operators seed them explicitly;
// otherwise repeated narrow projections of a general agent are clustered and
// a dense cluster dominated by one lens becomes a new specialized identity.
// Either way the new agent is nothing but a lens over its parent's data.
type Crystallizer struct {
	projector *Projector
	cfg       CrystallizerConfig

	mu     sync.Mutex
	obs    map[string][]observation
	logger *logrus.Entry
}

// NewCrystallizer creates a crystallizer and hooks it into the projector's
// narrow projections.
func NewCrystallizer(p *Projector, cfg CrystallizerConfig) *Crystallizer {
	if cfg.FeatureBlocks <= 0 {
		cfg.FeatureBlocks = 32
	}
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = 1
	}
	c := &Crystallizer{
		projector: p,
		cfg:       cfg,
		obs:       make(map[string][]observation),
		logger:    logging.For("crystallizer"),
	}
	p.OnNarrowProjection(func(agentID, lens string, proj Projection) {
		c.observe(agentID, lens, proj.Vector)
	})
	return c
}

// SpecializedID names the specialized agent for parentID under lens.
func SpecializedID(parentID, lens string) string {
	return parentID + "~" + strings.Join(core.LensTerms(lens), "-")
}

// Seed registers a specialized agent of parentID with the given lens and
// checks it projects. The lens is widened with the parent's own lens terms
// so the child is always narrower.
func (c *Crystallizer) Seed(ctx context.Context, parentID, lens string) (core.AgentIdentity, error) {
	parent, err := c.projector.Registry().Get(parentID)
	if err != nil {
		return core.AgentIdentity{}, err
	}
	terms := core.LensTerms(parent.Lens)
	for _, t := range core.LensTerms(lens) {
		if !contains(terms, t) {
			terms = append(terms, t)
		}
	}
	child := core.AgentIdentity{
		ID:         SpecializedID(parentID, strings.Join(terms, " ")),
		SourceType: parent.SourceType,
		Type:       core.AgentSpecialized,
		ParentID:   parentID,
		Lens:       strings.Join(terms, " "),
		Scope:      append([]string(nil), parent.Scope...),
	}
	if err := c.projector.Registry().Register(child); err != nil {
		return core.AgentIdentity{}, err
	}
	if _, err := c.projector.Snapshot(ctx, child.ID); err != nil {
		return child, fmt.Errorf("specialized agent %s registered but not projectable: %w", child.ID, err)
	}
	c.logger.WithFields(logrus.Fields{"agent_id": child.ID, "parent_id": parentID, "lens": child.Lens}).Info("crystallized specialized agent")
	return child, nil
}

// Observe projects agentID under lens and records it for clustering.
func (c *Crystallizer) Observe(ctx context.Context, agentID, lens string) error {
	// Project triggers the narrow-projection hook which records the observation.
	_, err := c.projector.Project(ctx, agentID, lens)
	return err
}

func (c *Crystallizer) observe(agentID, lens string, v core.Hypervector) {
	agent, err := c.projector.Registry().Get(agentID)
	if err != nil || agent.Type != core.AgentGeneral {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := append(c.obs[agentID], observation{lens: normalizeLens(lens), features: c.features(v)})
	if c.cfg.MaxHistory > 0 && len(list) > c.cfg.MaxHistory {
		list = list[len(list)-c.cfg.MaxHistory:]
	}
	c.obs[agentID] = list
}

// features reduces a hypervector to per-block bit densities.
func (c *Crystallizer) features(v core.Hypervector) []float64 {
	blocks := c.cfg.FeatureBlocks
	out := make([]float64, blocks)
	size := v.Dim() / blocks
	if size == 0 {
		size = 1
	}
	for i := 0; i < v.Dim(); i++ {
		b := i / size
		if b >= blocks {
			b = blocks - 1
		}
		if v.Bit(i) {
			out[b]++
		}
	}
	for i := range out {
		out[i] /= float64(size)
	}
	return out
}

// Detect clusters the observations of parentID and seeds a specialized agent
// for every dense single-lens cluster not already crystallized.
func (c *Crystallizer) Detect(ctx context.Context, parentID string) ([]core.AgentIdentity, error) {
	c.mu.Lock()
	list := append([]observation(nil), c.obs[parentID]...)
	c.mu.Unlock()

	if len(list) < c.cfg.MinObservations || len(list) == 0 {
		return nil, nil
	}

	lenses := make(map[string]struct{})
	data := make([][]float64, len(list))
	for i, o := range list {
		data[i] = o.features
		lenses[o.lens] = struct{}{}
	}
	k := len(lenses)
	if k > c.cfg.MaxClusters {
		k = c.cfg.MaxClusters
	}
	if k > len(data) {
		k = len(data)
	}

	model := cluster.NewKMeans(k, 30, data)
	model.Output = io.Discard
	if err := model.Learn(); err != nil {
		return nil, fmt.Errorf("cluster observations of %s: %w", parentID, err)
	}
	guesses := model.Guesses()

	members := make(map[int]map[string]int)
	sizes := make(map[int]int)
	for i, g := range guesses {
		if members[g] == nil {
			members[g] = make(map[string]int)
		}
		members[g][list[i].lens]++
		sizes[g]++
	}

	existing := make(map[string]struct{})
	for _, child := range c.projector.Registry().Children(parentID) {
		existing[normalizeLens(child.Lens)] = struct{}{}
	}

	clusters := make([]int, 0, len(sizes))
	for g := range sizes {
		clusters = append(clusters, g)
	}
	sort.Ints(clusters)

	var created []core.AgentIdentity
	for _, g := range clusters {
		if sizes[g] < c.cfg.MinClusterSize {
			continue
		}
		lens, count := dominant(members[g])
		if float64(count)/float64(sizes[g]) < c.cfg.Dominance {
			continue
		}
		if _, ok := existing[lens]; ok {
			continue
		}
		child, err := c.Seed(ctx, parentID, lens)
		if err != nil {
			c.logger.WithError(err).WithField("parent_id", parentID).Warn("crystallization skipped")
			continue
		}
		existing[lens] = struct{}{}
		created = append(created, child)
	}
	if len(created) > 0 {
		c.mu.Lock()
		delete(c.obs, parentID)
		c.mu.Unlock()
	}
	return created, nil
}

// DetectAll runs Detect for every observed parent.
func (c *Crystallizer) DetectAll(ctx context.Context) []core.AgentIdentity {
	c.mu.Lock()
	parents := make([]string, 0, len(c.obs))
	for id := range c.obs {
		parents = append(parents, id)
	}
	c.mu.Unlock()
	sort.Strings(parents)

	var all []core.AgentIdentity
	for _, id := range parents {
		created, err := c.Detect(ctx, id)
		if err != nil {
			c.logger.WithError(err).WithField("parent_id", id).Warn("detect failed")
			continue
		}
		all = append(all, created...)
	}
	return all
}

func dominant(counts map[string]int) (string, int) {
	best, n := "", 0
	for lens, c := range counts {
		if c > n || (c == n && lens < best) {
			best, n = lens, c
		}
	}
	return best, n
}

func normalizeLens(lens string) string {
	return strings.Join(core.LensTerms(lens), " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
