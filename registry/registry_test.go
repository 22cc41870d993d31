package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
)

func general(id string) core.AgentIdentity {
	return core.AgentIdentity{ID: id, SourceType: "template", Type: core.AgentGeneral}
}

func TestRegisterIsAppendOnly(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(general("a")))
	require.NoError(t, r.Register(general("b")))

	err := r.Register(general("a"))
	assert.ErrorIs(t, err, core.ErrInvalidAgent)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestSpecializedNeedsRegisteredParent(t *testing.T) {
	r := New()
	child := core.AgentIdentity{ID: "a/logo", SourceType: "template", Type: core.AgentSpecialized, ParentID: "a", Lens: "logo"}

	assert.ErrorIs(t, r.Register(child), core.ErrInvalidAgent)

	require.NoError(t, r.Register(general("a")))
	require.NoError(t, r.Register(child))
	assert.Equal(t, []core.AgentIdentity{child}, r.Children("a"))
}

func TestSpecializedMustNarrowParentLens(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(general("a")))
	require.NoError(t, r.Register(core.AgentIdentity{ID: "a/design", SourceType: "template", Type: core.AgentSpecialized, ParentID: "a", Lens: "design"}))

	sibling := core.AgentIdentity{ID: "a/design2", SourceType: "template", Type: core.AgentSpecialized, ParentID: "a/design", Lens: "design"}
	assert.ErrorIs(t, r.Register(sibling), core.ErrInvalidAgent)

	narrower := core.AgentIdentity{ID: "a/design/logo", SourceType: "template", Type: core.AgentSpecialized, ParentID: "a/design", Lens: "design logo"}
	assert.NoError(t, r.Register(narrower))
}

func TestSpecializedSharesParentSource(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(general("a")))
	child := core.AgentIdentity{ID: "a/x", SourceType: "chat", Type: core.AgentSpecialized, ParentID: "a", Lens: "x"}
	assert.ErrorIs(t, r.Register(child), core.ErrInvalidAgent)
}

func TestGetUnknown(t *testing.T) {
	_, err := New().Get("nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
