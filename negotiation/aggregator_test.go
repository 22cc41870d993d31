package negotiation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
)

func TestMaskKeepsFactsOnly(t *testing.T) {
	masked := Mask([]core.Offer{
		offer("designer", "Hello! As a senior designer, I think I can deliver a logo in three days. *smiles* Let me know if you need anything.", 0.8),
		offer("copycat", "I can deliver a logo in three days! Portfolio includes forty bakeries", 0.6),
	})
	require.Len(t, masked, 2)
	assert.Equal(t, []string{"I can deliver a logo in three days"}, masked[0].Facts)
	assert.Equal(t, 0.8, masked[0].Confidence)
	assert.Equal(t, []string{"I can deliver a logo in three days", "Portfolio includes forty bakeries"}, masked[1].Facts)
	assert.Equal(t, map[string][]string{"I can deliver a logo in three days": {"copycat"}}, masked[0].CorroboratedBy)
	assert.Equal(t, map[string][]string{"I can deliver a logo in three days": {"designer"}}, masked[1].CorroboratedBy)
	assert.Equal(t, []string{"I can deliver a logo in three days", "Portfolio includes forty bakeries"}, Facts(masked))

	text := Render(masked)
	assert.Contains(t, text, "designer (confidence 0.80, round 1)")
	assert.Contains(t, text, "- I can deliver a logo in three days (also stated by copycat)")
	assert.NotContains(t, text, "smiles")
	assert.NotContains(t, text, "Hello")
}

func TestMaskDropsRepeatsWithinOneOffer(t *testing.T) {
	masked := Mask([]core.Offer{
		offer("a", "Logo in three days. Logo in three days!\nLogo in three days", 0.7),
	})
	require.Len(t, masked, 1)
	assert.Equal(t, []string{"Logo in three days"}, masked[0].Facts)
	assert.Nil(t, masked[0].CorroboratedBy)
}

func TestMaskKeepsDecimalsAndModality(t *testing.T) {
	masked := Mask([]core.Offer{
		offer("printer", "Budget is 1.5k for 2.75 hours of press time. We can possibly deliver by Friday. Maybe not before.", 0.6),
	})
	require.Len(t, masked, 1)
	assert.Equal(t, []string{
		"Budget is 1.5k for 2.75 hours of press time",
		"We can possibly deliver by Friday",
		"Maybe not before",
	}, masked[0].Facts)
}

func quorumInput(payload string, offers ...core.Offer) Input {
	return Input{
		NegotiationID: "n-1",
		Signal:        core.Signal{ID: "s-1", Payload: payload},
		Round:         1,
		Offers:        Mask(offers),
	}
}

func TestQuorumAggregatorPlan(t *testing.T) {
	agg := NewQuorumAggregator(DefaultQuorumConfig())
	r, err := agg.Aggregate(context.Background(), quorumInput("bakery logo design",
		offer("a", "Logo design for small shops", 0.8),
		offer("b", "Bakery branding portfolio", 0.6),
	))
	require.NoError(t, err)
	plan, ok := r.(core.Plan)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, []string{"a", "b"}, plan.Contributors)
	assert.Len(t, plan.Steps, 2)
}

func TestQuorumAggregatorGap(t *testing.T) {
	agg := NewQuorumAggregator(DefaultQuorumConfig())
	r, err := agg.Aggregate(context.Background(), quorumInput("bakery logo packaging photography",
		offer("a", "Logo sketches", 0.8),
	))
	require.NoError(t, err)
	gap, ok := r.(core.HasGap)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, []string{"bakery", "packaging", "photography"}, gap.Missing)
	assert.Equal(t, []string{"a"}, gap.Participants)
	assert.True(t, core.WantsRoundTwo(r))
}

func TestQuorumAggregatorLowConfidenceTriggersExchange(t *testing.T) {
	agg := NewQuorumAggregator(DefaultQuorumConfig())
	r, err := agg.Aggregate(context.Background(), quorumInput("bakery logo",
		offer("a", "Bakery logo maybe", 0.2),
		offer("b", "Logo for a bakery, rough idea", 0.3),
	))
	require.NoError(t, err)
	p2p, ok := r.(core.TriggerP2P)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, []string{"b", "a"}, p2p.Participants)
}

func TestQuorumAggregatorContract(t *testing.T) {
	cfg := DefaultQuorumConfig()
	cfg.WorkflowPrefix = "wf-"
	agg := NewQuorumAggregator(cfg)
	r, err := agg.Aggregate(context.Background(), quorumInput("bakery logo",
		offer("a", "Bakery logo in three days", 0.9),
		offer("b", "Logo printing on bakery boxes", 0.95),
	))
	require.NoError(t, err)
	c, ok := r.(core.Contract)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "wf-n-1", c.WorkflowRef)
	assert.Equal(t, []string{"b", "a"}, c.Parties)
}

func TestQuorumAggregatorCountsIdenticalOffers(t *testing.T) {
	cfg := DefaultQuorumConfig()
	cfg.WorkflowPrefix = "wf-"
	agg := NewQuorumAggregator(cfg)
	r, err := agg.Aggregate(context.Background(), quorumInput("bakery logo",
		offer("a", "Bakery logo in three days", 0.9),
		offer("b", "Bakery logo in three days", 0.9),
	))
	require.NoError(t, err)
	c, ok := r.(core.Contract)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, []string{"a", "b"}, c.Parties)
	assert.Equal(t, "Bakery logo in three days", c.Terms)

	r, err = NewQuorumAggregator(DefaultQuorumConfig()).Aggregate(context.Background(), quorumInput("bakery logo",
		offer("a", "Bakery logo in three days", 0.6),
		offer("b", "Bakery logo in three days", 0.5),
	))
	require.NoError(t, err)
	plan, ok := r.(core.Plan)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, []string{"a", "b"}, plan.Contributors)
	assert.Equal(t, "2 of 2 responders cover the request", plan.Summary)
}

func TestQuorumAggregatorNothingUsable(t *testing.T) {
	agg := NewQuorumAggregator(DefaultQuorumConfig())
	r, err := agg.Aggregate(context.Background(), quorumInput("bakery logo",
		offer("a", "Hello! Hope this helps.", 0.9),
	))
	require.NoError(t, err)
	assert.Equal(t, core.KindNeedMoreInfo, r.Kind())
}

type staticProfiles map[string]core.ProfileData

func (s staticProfiles) Profile(_ context.Context, agentID string) (core.ProfileData, error) {
	p, ok := s[agentID]
	if !ok {
		return core.ProfileData{}, core.ErrNotFound
	}
	return p, nil
}

func TestProfileExchangerAddsUnstatedContext(t *testing.T) {
	ex := NewProfileExchanger(staticProfiles{
		"a": {AgentID: "a", Text: "Brand identity for bakeries\nPackaging design for food brands\nI also print menus"},
	})
	got, err := ex.Exchange(context.Background(), ExchangeRequest{
		NegotiationID: "n-1",
		AgentID:       "a",
		Missing:       []string{"packaging"},
		Original:      offer("a", "Brand identity for bakeries", 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Packaging design for food brands", got.Content)
	assert.Equal(t, 2, got.Round)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestProfileExchangerNothingNew(t *testing.T) {
	ex := NewProfileExchanger(staticProfiles{"a": {AgentID: "a", Text: "Brand identity for bakeries"}})
	_, err := ex.Exchange(context.Background(), ExchangeRequest{
		AgentID:  "a",
		Original: offer("a", "Brand identity for bakeries", 0.7),
	})
	assert.True(t, errors.Is(err, ErrNothingNew))

	_, err = ex.Exchange(context.Background(), ExchangeRequest{AgentID: "ghost"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
