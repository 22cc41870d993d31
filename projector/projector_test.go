package projector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
	"github.com/NatureBlueee/Towow-sub000/registry"
)

type memorySource struct {
	mu       sync.Mutex
	profiles map[string]core.ProfileData
	reads    int
}

func newMemorySource() *memorySource {
	return &memorySource{profiles: make(map[string]core.ProfileData)}
}

func (m *memorySource) GetProfile(_ context.Context, id string) (core.ProfileData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	p, ok := m.profiles[id]
	if !ok {
		return core.ProfileData{}, fmt.Errorf("%w: profile %s", core.ErrNotFound, id)
	}
	return p, nil
}

func (m *memorySource) UpdateProfile(_ context.Context, id string, exp core.Experience) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[id]
	p.Experiences = append(p.Experiences, exp)
	p.Version++
	m.profiles[id] = p
	return nil
}

func setup(t *testing.T) (*Projector, *memorySource) {
	t.Helper()
	reg := registry.New()
	src := newMemorySource()
	src.profiles["alice"] = core.ProfileData{
		AgentID: "alice",
		Text:    "I draft legal contracts\nI bake sourdough on weekends\nI review contracts for startups",
		Version: 1,
	}
	require.NoError(t, reg.Register(core.AgentIdentity{ID: "alice", SourceType: "memory", Type: core.AgentGeneral}))

	enc := encoder.New(encoder.NewHashingEmbedder(256), encoder.Config{Dim: 2048, Seed: 11, CacheTTL: time.Minute})
	p := New(reg, enc, time.Minute)
	p.RegisterSource("memory", src)
	return p, src
}

func TestDeriveIsDeterministic(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()

	v1, err := p.Derive(ctx, "alice", "")
	require.NoError(t, err)
	v2, err := p.Derive(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, v1.Equal(v2))

	// A fresh projector with no cache must agree bit for bit.
	fresh := New(p.registry, encoder.New(encoder.NewHashingEmbedder(256), encoder.Config{Dim: 2048, Seed: 11}), 0)
	fresh.RegisterSource("memory", p.sources["memory"])
	v3, err := fresh.Derive(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, v1.Equal(v3))
}

func TestDeriveFollowsDataVersion(t *testing.T) {
	p, src := setup(t)
	ctx := context.Background()

	before, err := p.Project(ctx, "alice", "")
	require.NoError(t, err)

	require.NoError(t, src.UpdateProfile(ctx, "alice", core.Experience{
		Kind: core.OutcomeCompleted, Summary: "delivered franchise agreement for a chain of cafes", Weight: 1,
	}))

	after, err := p.Project(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, before.Version+1, after.Version)
	assert.False(t, before.Vector.Equal(after.Vector), "new experience must change the projection")
	assert.Contains(t, after.Keys, "franchise")
}

func TestSpecializedAgentReadsParentData(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()
	c := NewCrystallizer(p, DefaultCrystallizerConfig())

	child, err := c.Seed(ctx, "alice", "contracts")
	require.NoError(t, err)
	assert.Equal(t, "alice", child.ParentID)
	assert.Equal(t, core.AgentSpecialized, child.Type)

	owner, err := p.Owner(child.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner.ID)

	snap, err := p.Snapshot(ctx, child.ID)
	require.NoError(t, err)
	direct, err := p.Derive(ctx, "alice", "contracts")
	require.NoError(t, err)
	assert.True(t, snap.Vector.Equal(direct), "specialization is the same projection with a narrower lens")
	assert.NotContains(t, snap.Keys, "sourdough")

	_, err = c.Seed(ctx, "alice", "contracts")
	assert.ErrorIs(t, err, core.ErrInvalidAgent, "duplicate specialization")
}

func TestMissingSourceType(t *testing.T) {
	p, _ := setup(t)
	require.NoError(t, p.registry.Register(core.AgentIdentity{ID: "bob", SourceType: "crm", Type: core.AgentGeneral}))
	_, err := p.Derive(context.Background(), "bob", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDetectCrystallizesDominantLens(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()
	cfg := DefaultCrystallizerConfig()
	cfg.MinObservations = 10
	cfg.MinClusterSize = 5
	c := NewCrystallizer(p, cfg)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Observe(ctx, "alice", "contracts"))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Observe(ctx, "alice", "sourdough"))
	}

	created, err := c.Detect(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "contracts", created[0].Lens)
	assert.Len(t, p.registry.Children("alice"), 1)

	// Observations are consumed once crystallized.
	again, err := c.Detect(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDetectNeedsEnoughObservations(t *testing.T) {
	p, _ := setup(t)
	c := NewCrystallizer(p, DefaultCrystallizerConfig())
	require.NoError(t, c.Observe(context.Background(), "alice", "contracts"))
	created, err := c.Detect(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, created)
}

// versionedSource reports versions without a profile read.
type versionedSource struct {
	*memorySource
	probes int
}

func (v *versionedSource) ProfileVersion(_ context.Context, id string) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.probes++
	p, ok := v.profiles[id]
	if !ok {
		return 0, fmt.Errorf("%w: profile %s", core.ErrNotFound, id)
	}
	return p.Version, nil
}

func TestSnapshotSkipsProfileReadWhenVersionUnchanged(t *testing.T) {
	p, mem := setup(t)
	src := &versionedSource{memorySource: mem}
	p.RegisterSource("memory", src)
	ctx := context.Background()

	first, err := p.Snapshot(ctx, "alice")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Snapshot(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, first.Vector.Equal(again.Vector))
	}
	assert.Equal(t, 1, mem.reads, "only the first snapshot loads the profile")
	assert.Equal(t, 6, src.probes)

	require.NoError(t, src.UpdateProfile(ctx, "alice", core.Experience{Kind: core.OutcomeCompleted, Summary: "franchise agreement", Weight: 1}))
	after, err := p.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, after.Version)
	assert.Equal(t, 2, mem.reads, "a new version loads the profile again")
}

func TestSnapshotWithoutVersionerReadsProfile(t *testing.T) {
	p, mem := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := p.Snapshot(ctx, "alice")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, mem.reads)
}
