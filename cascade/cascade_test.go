package cascade

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
	"github.com/NatureBlueee/Towow-sub000/profile"
	"github.com/NatureBlueee/Towow-sub000/projector"
	"github.com/NatureBlueee/Towow-sub000/registry"
	"github.com/NatureBlueee/Towow-sub000/threshold"
)

const signalText = "skill003 skill077 skill050"

type world struct {
	projector *projector.Projector
	encoder   *encoder.Encoder
	source    *profile.MemorySource
	experts   []string
}

// newWorld registers n random agents drawing perAgent words from a vocabulary
// of vocab words, plus the given number of experts whose profile opens with
// the signal text.
func newWorld(t *testing.T, n, vocab, perAgent, experts, embDim int) *world {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	reg := registry.New()
	src := profile.NewMemorySource()
	w := &world{source: src}

	for i := 0; i < n; i++ {
		words := make([]string, perAgent)
		for j := range words {
			words[j] = fmt.Sprintf("skill%03d", rng.Intn(vocab))
		}
		id := fmt.Sprintf("agent-%04d", i)
		require.NoError(t, reg.Register(core.AgentIdentity{ID: id, SourceType: "memory", Type: core.AgentGeneral}))
		src.Put(core.ProfileData{AgentID: id, Text: strings.Join(words, " "), Version: 1})
	}
	for i := 0; i < experts; i++ {
		id := fmt.Sprintf("expert-%02d", i)
		require.NoError(t, reg.Register(core.AgentIdentity{ID: id, SourceType: "memory", Type: core.AgentGeneral}))
		src.Put(core.ProfileData{AgentID: id, Text: signalText + fmt.Sprintf(" skill%03d", 100+i), Version: 1})
		w.experts = append(w.experts, id)
	}

	w.encoder = encoder.New(encoder.NewHashingEmbedder(embDim), encoder.Config{Dim: 2048, Seed: 9, CacheTTL: time.Minute})
	w.projector = projector.New(reg, w.encoder, time.Minute)
	w.projector.RegisterSource("memory", src)
	return w
}

type relevantEvaluator struct {
	calls atomic.Int64
	fail  bool
	delay time.Duration
}

func (e *relevantEvaluator) Evaluate(ctx context.Context, sig core.Signal, agent core.AgentIdentity, data core.ProfileData) (Verdict, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}
	if e.fail {
		return Verdict{}, errors.New("evaluator: 503 service unavailable")
	}
	return Verdict{Relevant: true, Content: "I can help: " + data.Text, Confidence: 0.8}, nil
}

func signal(t *testing.T) core.Signal {
	sig, err := core.NewSignal(signalText, "origin", "design", nil)
	require.NoError(t, err)
	return sig
}

func TestGateHasNoFalseNegatives(t *testing.T) {
	w := newWorld(t, 200, 100, 12, 5, 2048)
	ctx := context.Background()
	sig := signal(t)
	keys := encoder.SignalKeys(sig, "")

	gate := NewGate(0.01)
	var rejected int
	for _, a := range w.projector.Registry().All() {
		proj, err := w.projector.Snapshot(ctx, a.ID)
		require.NoError(t, err)
		shared := false
		for _, k := range proj.Keys {
			for _, sk := range keys {
				shared = shared || k == sk
			}
		}
		admitted := gate.Admit(proj, keys)
		if shared {
			assert.True(t, admitted, "gate rejected %s which shares a key with the signal", a.ID)
		}
		if !admitted {
			rejected++
		}
	}
	assert.Greater(t, rejected, 0, "gate must eliminate irrelevant agents")
}

func TestFilterNeverDropsAgentsAboveTheta(t *testing.T) {
	w := newWorld(t, 500, 100, 12, 5, 2048)
	ctx := context.Background()
	sig := signal(t)
	sigVec, err := w.encoder.ProjectSignal(ctx, sig, "")
	require.NoError(t, err)

	c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig())
	for _, k := range []int{10, 50, 200} {
		sel, err := c.Filter(ctx, sig, core.Scene{ID: "design", KStar: k})
		require.NoError(t, err)
		require.NoError(t, sel.Degraded)

		selected := map[string]bool{}
		for _, id := range sel.CandidateIDs() {
			selected[id] = true
		}
		for _, a := range w.projector.Registry().All() {
			proj, err := w.projector.Snapshot(ctx, a.ID)
			require.NoError(t, err)
			if sim := sigVec.SimilarityTo(proj.Vector); sim > sel.Theta {
				assert.True(t, selected[a.ID], "k*=%d: %s scores %.4f above theta %.4f but was dropped", k, a.ID, sim, sel.Theta)
			}
		}
		assert.Len(t, sel.Candidates, k)
		if k == 200 {
			// Fewer than k* agents share a term with the signal, so the
			// sweep has to bring gate-rejected agents back.
			assert.Less(t, sel.GatePassed, k)
			assert.Greater(t, sel.Rescued, 0)
		}
	}
}

func TestFilterFillsKStarWhenGateAdmitsNobody(t *testing.T) {
	w := newWorld(t, 60, 40, 10, 0, 256)
	sig, err := core.NewSignal("bakery franchise", "origin", "design", nil)
	require.NoError(t, err)

	c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig())
	sel, err := c.Filter(context.Background(), sig, core.Scene{ID: "design", KStar: 5})
	require.NoError(t, err)
	// Only bloom false positives get through.
	assert.Less(t, sel.GatePassed, 5)
	assert.Len(t, sel.Candidates, 5)
	assert.GreaterOrEqual(t, sel.Rescued, 5-sel.GatePassed)
	assert.Less(t, sel.Theta, 1.0)
}

func TestGateOpenAgentAlwaysPasses(t *testing.T) {
	g := NewGate(0.01)
	assert.True(t, g.Admit(projector.Projection{AgentID: "open", Version: 1}, []string{"anything"}))
	assert.False(t, g.Admit(projector.Projection{AgentID: "closed", Version: 1, Keys: []string{"bakery"}}, []string{"kubernetes"}))
}

func TestGateRebuildsOnNewVersion(t *testing.T) {
	g := NewGate(0.001)
	p := projector.Projection{AgentID: "a", Version: 1, Keys: []string{"logo"}}
	assert.False(t, g.Admit(p, []string{"franchise"}))

	p.Version = 2
	p.Keys = []string{"logo", "franchise"}
	assert.True(t, g.Admit(p, []string{"franchise"}))
	assert.Equal(t, 1, g.Size())
}

func TestThousandAgentScenario(t *testing.T) {
	w := newWorld(t, 990, 100, 12, 10, 256)
	eval := &relevantEvaluator{}
	c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig(), WithEvaluator(eval))

	sel, err := c.Run(context.Background(), signal(t), core.Scene{ID: "design", KStar: 10})
	require.NoError(t, err)

	assert.Equal(t, 1000, sel.Population)
	assert.InDelta(t, 300, sel.GatePassed, 120, "stage 1 passes roughly a third")
	require.Len(t, sel.Candidates, 10, "stage 2 passes exactly k*")
	assert.ElementsMatch(t, w.experts, sel.CandidateIDs())
	assert.Len(t, sel.Offers, 10)
	assert.Equal(t, int64(10), eval.calls.Load())
	assert.False(t, sel.LowConfidence)
	assert.NoError(t, sel.Degraded)
	for _, cand := range sel.Candidates {
		assert.GreaterOrEqual(t, cand.Score, sel.Theta)
	}
}

func TestKStarIndependentOfPopulation(t *testing.T) {
	for _, n := range []int{50, 400} {
		w := newWorld(t, n, 40, 10, 0, 256)
		c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig())
		sel, err := c.Filter(context.Background(), signal(t), core.Scene{ID: "dev", KStar: 7})
		require.NoError(t, err)
		assert.Len(t, sel.Candidates, 7, "population %d", n)
	}
}

func TestAdaptiveKStarOverridesScene(t *testing.T) {
	w := newWorld(t, 100, 30, 10, 0, 256)
	tuner := threshold.NewTuner(threshold.TunerConfig{MinKStar: 1, MaxKStar: 20, LowWatermark: 0.5, HighWatermark: 0.9, MinSamples: 1, Step: 3})
	tuner.ObserveOffers("dev", 10)
	tuner.Revise(func(string) int { return 5 })

	c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig(), WithTuner(tuner))
	assert.Equal(t, 8, c.KStar(core.Scene{ID: "dev", KStar: 5, Adaptive: true}))
	assert.Equal(t, 5, c.KStar(core.Scene{ID: "dev", KStar: 5}))
}

func TestAllEvaluatorsDownIsAggregationUnavailable(t *testing.T) {
	w := newWorld(t, 100, 100, 12, 3, 256)
	c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig(), WithEvaluator(&relevantEvaluator{fail: true}))

	_, err := c.Run(context.Background(), signal(t), core.Scene{ID: "design", KStar: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAggregationUnavailable)
	assert.True(t, core.IsRetryable(err))
}

func TestStageBudgetDegradesInsteadOfFailing(t *testing.T) {
	w := newWorld(t, 100, 100, 12, 3, 256)
	cfg := DefaultConfig()
	cfg.EvaluateBudget = 20 * time.Millisecond
	eval := &relevantEvaluator{delay: time.Second}
	c := New(w.projector, w.encoder, threshold.NewController(), cfg, WithEvaluator(eval))

	sel, err := c.Filter(context.Background(), signal(t), core.Scene{ID: "design", KStar: 3})
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 3)

	var verdicts atomic.Int64
	err = c.Evaluate(context.Background(), signal(t), &sel, func(v Verdict) {
		verdicts.Add(1)
		assert.Error(t, v.Err)
	})
	assert.ErrorIs(t, err, core.ErrAggregationUnavailable)
	assert.Equal(t, int64(3), verdicts.Load(), "every candidate gets a verdict")
	assert.True(t, sel.LowConfidence)
	assert.ErrorIs(t, sel.Degraded, core.ErrCascadeTimeout)

	cfg = DefaultConfig()
	cfg.GateBudget = time.Nanosecond
	c = New(w.projector, w.encoder, threshold.NewController(), cfg)
	sel, err = c.Filter(context.Background(), signal(t), core.Scene{ID: "design", KStar: 3})
	require.NoError(t, err)
	assert.True(t, sel.LowConfidence)
	assert.ErrorIs(t, sel.Degraded, core.ErrCascadeTimeout)
}

type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("dial tcp: connection refused")
}
func (downEmbedder) Model() string { return "down" }

func TestEncoderDownIsEncodingUnavailable(t *testing.T) {
	w := newWorld(t, 10, 20, 5, 0, 64)
	enc := encoder.New(downEmbedder{}, encoder.Config{Dim: 2048, Seed: 9})
	c := New(w.projector, enc, threshold.NewController(), DefaultConfig())
	_, err := c.Filter(context.Background(), signal(t), core.Scene{ID: "x", KStar: 3})
	assert.ErrorIs(t, err, core.ErrEncodingUnavailable)
}

func TestProfilesWithoutTermsAreSkippedNotOutages(t *testing.T) {
	w := newWorld(t, 0, 20, 5, 2, 64)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("blank-%d", i)
		require.NoError(t, w.projector.Registry().Register(core.AgentIdentity{ID: id, SourceType: "memory", Type: core.AgentGeneral}))
		w.source.Put(core.ProfileData{AgentID: id, Text: "... !!", Version: 1})
	}
	c := New(w.projector, w.encoder, threshold.NewController(), DefaultConfig())

	sel, err := c.Filter(context.Background(), signal(t), core.Scene{ID: "x", KStar: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, sel.Population)
	assert.ElementsMatch(t, w.experts, sel.CandidateIDs())

	blanks := newWorld(t, 0, 20, 5, 0, 64)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("blank-%d", i)
		require.NoError(t, blanks.projector.Registry().Register(core.AgentIdentity{ID: id, SourceType: "memory", Type: core.AgentGeneral}))
		blanks.source.Put(core.ProfileData{AgentID: id, Text: "... !!", Version: 1})
	}
	sel, err = New(blanks.projector, blanks.encoder, threshold.NewController(), DefaultConfig()).
		Filter(context.Background(), signal(t), core.Scene{ID: "x", KStar: 5})
	require.NoError(t, err, "an all-blank population is not an encoder outage")
	assert.Empty(t, sel.Candidates)
}
