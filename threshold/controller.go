package threshold

import (
	"fmt"
	"sort"
)

// Mode selects how the cutoff is derived.
type Mode string

const (
	// ModeTargetCount derives θ from the scene's k*.
	ModeTargetCount Mode = "k_star"
	// ModeFixed pins θ to an operator-supplied value.
	ModeFixed Mode = "fixed"
)

// Scored is a candidate with its hypervector similarity to the signal.
type Scored struct {
	AgentID string
	Score   float64
}

// Controller turns the business knob k* into the similarity cutoff θ.
type Controller struct {
	Mode       Mode
	FixedTheta float64
}

// NewController returns a k*-driven controller.
func NewController() *Controller {
	return &Controller{Mode: ModeTargetCount}
}

// NewFixedController returns a controller pinned to theta.
func NewFixedController(theta float64) (*Controller, error) {
	if theta < 0 || theta > 1 {
		return nil, fmt.Errorf("theta %.3f outside [0,1]", theta)
	}
	return &Controller{Mode: ModeFixed, FixedTheta: theta}, nil
}

// Theta returns the k*-th highest score. With fewer than k* scores it returns
// the lowest one, i.e. everyone who reached this stage is accepted.
func Theta(kStar int, scores []float64) float64 {
	if len(scores) == 0 {
		return 1
	}
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if kStar <= 0 {
		kStar = 1
	}
	if kStar > len(sorted) {
		kStar = len(sorted)
	}
	return sorted[kStar-1]
}

// rank orders candidates by score descending with the agent id as tie-break,
// so equal scores at the cutoff are resolved the same way every time.
func rank(candidates []Scored) []Scored {
	out := append([]Scored(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Select applies the cutoff. In k* mode exactly min(k*, len(candidates))
// candidates pass. In fixed mode every candidate scoring at least θ passes.
// The returned θ is the cutoff actually applied.
func (c *Controller) Select(kStar int, candidates []Scored) ([]Scored, float64) {
	ranked := rank(candidates)
	if c.Mode == ModeFixed {
		n := sort.Search(len(ranked), func(i int) bool { return ranked[i].Score < c.FixedTheta })
		return ranked[:n], c.FixedTheta
	}
	if len(ranked) == 0 {
		return nil, 1
	}
	if kStar <= 0 {
		kStar = 1
	}
	if kStar > len(ranked) {
		kStar = len(ranked)
	}
	return ranked[:kStar], ranked[kStar-1].Score
}
