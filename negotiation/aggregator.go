package negotiation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
)

// Input is everything one aggregation pass sees.
type Input struct {
	NegotiationID string
	Signal        core.Signal
	Scene         core.Scene
	Round         int
	Offers        []MaskedOffer
	LowConfidence bool
}

// Aggregator synthesizes all collected offers into exactly one Result.
type Aggregator interface {
	Aggregate(ctx context.Context, in Input) (core.Result, error)
}

// AggregatorFunc adapts a function to Aggregator.
type AggregatorFunc func(ctx context.Context, in Input) (core.Result, error)

func (f AggregatorFunc) Aggregate(ctx context.Context, in Input) (core.Result, error) {
	return f(ctx, in)
}

// QuorumConfig tunes the deterministic aggregator.
type QuorumConfig struct {
	CoverageQuorum     float64 // share of signal terms the offers must cover
	LowConfidence      float64 // below this best confidence a peer exchange is requested
	ContractConfidence float64 // mean confidence needed to emit a contract
	WorkflowPrefix     string  // contract references are WorkflowPrefix+negotiation id; empty disables contracts
	MaxParticipants    int
}

// DefaultQuorumConfig returns standard thresholds.
func DefaultQuorumConfig() QuorumConfig {
	return QuorumConfig{
		CoverageQuorum:     0.5,
		LowConfidence:      0.35,
		ContractConfidence: 0.85,
		MaxParticipants:    3,
	}
}

// QuorumAggregator is a deterministic aggregator counting how well the
// offers cover the signal and how confident their authors are. It needs no
// external service and serves as the fallback when no model is configured.
type QuorumAggregator struct {
	cfg QuorumConfig
}

func NewQuorumAggregator(cfg QuorumConfig) *QuorumAggregator {
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 3
	}
	return &QuorumAggregator{cfg: cfg}
}

func (q *QuorumAggregator) Aggregate(_ context.Context, in Input) (core.Result, error) {
	ranked := rankByConfidence(in.Offers)
	contributors := make([]string, 0, len(ranked))
	var sum, best float64
	for _, m := range ranked {
		if len(m.Facts) == 0 {
			continue
		}
		contributors = append(contributors, m.AgentID)
		sum += m.Confidence
		if m.Confidence > best {
			best = m.Confidence
		}
	}
	if len(contributors) == 0 {
		return core.NeedMoreInfo{
			Reason:    "no offer contained usable facts",
			Questions: []string{"Can you describe the request in more detail?"},
		}, nil
	}

	missing := uncovered(in.Signal.Payload, in.Offers)
	wanted := len(encoder.UniqueTerms(in.Signal.Payload))
	top := contributors
	if len(top) > q.cfg.MaxParticipants {
		top = top[:q.cfg.MaxParticipants]
	}

	if wanted > 0 && float64(wanted-len(missing))/float64(wanted) < q.cfg.CoverageQuorum {
		return core.HasGap{Missing: missing, Participants: top}, nil
	}
	if best < q.cfg.LowConfidence && len(contributors) > 1 {
		return core.TriggerP2P{Topic: in.Signal.Payload, Participants: top}, nil
	}
	mean := sum / float64(len(contributors))
	if q.cfg.WorkflowPrefix != "" && len(contributors) > 1 && mean >= q.cfg.ContractConfidence {
		return core.Contract{
			WorkflowRef: q.cfg.WorkflowPrefix + in.NegotiationID,
			Parties:     contributors,
			Terms:       strings.Join(Facts(in.Offers), "; "),
		}, nil
	}

	steps := make([]string, 0, len(ranked))
	for _, m := range ranked {
		if len(m.Facts) > 0 {
			steps = append(steps, fmt.Sprintf("%s: %s", m.AgentID, strings.Join(m.Facts, "; ")))
		}
	}
	return core.Plan{
		Summary:      fmt.Sprintf("%d of %d responders cover the request", len(contributors), len(in.Offers)),
		Steps:        steps,
		Contributors: contributors,
	}, nil
}

func rankByConfidence(offers []MaskedOffer) []MaskedOffer {
	out := append([]MaskedOffer(nil), offers...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// uncovered returns the signal terms no offer mentions, sorted.
func uncovered(payload string, offers []MaskedOffer) []string {
	covered := make(map[string]bool)
	for _, m := range offers {
		for _, f := range m.Facts {
			for _, t := range encoder.Terms(f) {
				covered[t] = true
			}
		}
	}
	var missing []string
	for _, t := range encoder.UniqueTerms(payload) {
		if !covered[t] {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return missing
}
