package threshold

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCandidates(rng *rand.Rand, n int) []Scored {
	out := make([]Scored, n)
	for i := range out {
		// quantized scores force ties at the cutoff
		out[i] = Scored{AgentID: fmt.Sprintf("agent-%05d", i), Score: float64(rng.Intn(200)) / 200}
	}
	return out
}

func TestSelectPassesExactlyKStar(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c := NewController()
	for _, n := range []int{10, 11, 100, 1000, 25000} {
		for _, k := range []int{1, 5, 10, 50} {
			cands := randomCandidates(rng, n)
			passed, theta := c.Select(k, cands)
			want := k
			if n < k {
				want = n
			}
			require.Len(t, passed, want, "n=%d k=%d", n, k)
			for _, p := range passed {
				assert.GreaterOrEqual(t, p.Score, theta)
			}
		}
	}
}

func TestSelectWithFewerThanKStarAcceptsAll(t *testing.T) {
	cands := []Scored{{"a", 0.2}, {"b", 0.9}, {"c", 0.4}}
	passed, theta := NewController().Select(10, cands)
	assert.Len(t, passed, 3)
	assert.Equal(t, 0.2, theta)
}

func TestSelectTieBreakIsDeterministic(t *testing.T) {
	cands := []Scored{{"c", 0.5}, {"a", 0.5}, {"b", 0.5}, {"d", 0.9}}
	passed, _ := NewController().Select(2, cands)
	require.Len(t, passed, 2)
	assert.Equal(t, "d", passed[0].AgentID)
	assert.Equal(t, "a", passed[1].AgentID)
}

func TestThetaIsKthHighest(t *testing.T) {
	assert.Equal(t, 0.7, Theta(2, []float64{0.1, 0.9, 0.7, 0.3}))
	assert.Equal(t, 0.1, Theta(10, []float64{0.1, 0.9}))
	assert.Equal(t, 1.0, Theta(3, nil))
}

func TestFixedMode(t *testing.T) {
	c, err := NewFixedController(0.6)
	require.NoError(t, err)
	passed, theta := c.Select(1, []Scored{{"a", 0.59}, {"b", 0.6}, {"c", 0.8}})
	assert.Equal(t, 0.6, theta)
	assert.Len(t, passed, 2)

	_, err = NewFixedController(1.5)
	assert.Error(t, err)
}

func TestTunerRaisesKStarOnPoorConversion(t *testing.T) {
	tu := NewTuner(TunerConfig{MinKStar: 1, MaxKStar: 12, LowWatermark: 0.2, HighWatermark: 0.6, MinSamples: 10, Step: 2})
	tu.ObserveOffers("design", 20)
	tu.ObserveOutcome("design", "n-1", "a", true)
	tu.ObserveOutcome("design", "n-2", "b", false)

	changed := tu.Revise(func(string) int { return 10 })
	assert.Equal(t, map[string]int{"design": 12}, changed)
	assert.Equal(t, 12, tu.KStar("design", 10))

	tu.ObserveOffers("design", 20)
	changed = tu.Revise(func(string) int { return 10 })
	assert.Empty(t, changed, "already at the upper bound")
}

func TestTunerLowersKStarOnHighConversion(t *testing.T) {
	tu := NewTuner(DefaultTunerConfig())
	tu.ObserveOffers("dev", 20)
	for i := 0; i < 15; i++ {
		tu.ObserveOutcome("dev", fmt.Sprintf("n-%d", i), "a", true)
	}
	tu.Revise(func(string) int { return 5 })
	assert.Equal(t, 4, tu.KStar("dev", 5))
}

func TestTunerWaitsForSamples(t *testing.T) {
	tu := NewTuner(DefaultTunerConfig())
	tu.ObserveOffers("dev", 3)
	assert.Empty(t, tu.Revise(func(string) int { return 5 }))
	assert.Equal(t, 5, tu.KStar("dev", 5))
}

func TestTunerCountsEachOfferOnce(t *testing.T) {
	tu := NewTuner(DefaultTunerConfig())
	tu.ObserveOffers("design", 20)
	for _, agent := range []string{"a", "b", "c"} {
		// delivered, confirmed, completed
		for i := 0; i < 3; i++ {
			tu.ObserveOutcome("design", "n-1", agent, true)
		}
	}

	changed := tu.Revise(func(string) int { return 10 })
	assert.Equal(t, map[string]int{"design": 11}, changed, "3 of 20 offers converted")

	tu.ObserveOffers("design", 20)
	tu.ObserveOutcome("design", "n-1", "a", true)
	changed = tu.Revise(func(string) int { return 10 })
	assert.Equal(t, map[string]int{"design": 12}, changed, "a credited offer stays credited across windows")
}
