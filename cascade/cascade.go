package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
	"github.com/NatureBlueee/Towow-sub000/logging"
	"github.com/NatureBlueee/Towow-sub000/metrics"
	"github.com/NatureBlueee/Towow-sub000/projector"
	"github.com/NatureBlueee/Towow-sub000/threshold"
)

// Stage names used in logs and metrics.
const (
	StageGate     = "gate"
	StageFilter   = "hypervector"
	StageEvaluate = "evaluate"
)

// Config holds the stage budgets and fan-out limits.
type Config struct {
	GateBudget      time.Duration
	FilterBudget    time.Duration
	EvaluateBudget  time.Duration
	EvalConcurrency int
	BloomFPRate     float64
	DefaultKStar    int
}

// DefaultConfig returns standard cascade configuration.
func DefaultConfig() Config {
	return Config{
		GateBudget:      2 * time.Second,
		FilterBudget:    500 * time.Millisecond,
		EvaluateBudget:  20 * time.Second,
		EvalConcurrency: 8,
		BloomFPRate:     0.01,
		DefaultKStar:    10,
	}
}

// Verdict is the deep evaluator's judgment of one candidate.
type Verdict struct {
	AgentID    string
	Relevant   bool
	Content    string
	Confidence float64
	Reason     string
	Err        error
}

// Offer converts a relevant verdict into a first-round offer.
func (v Verdict) Offer() core.Offer {
	return core.Offer{
		AgentID:    v.AgentID,
		Content:    v.Content,
		Confidence: v.Confidence,
		Timestamp:  time.Now().UTC(),
		Round:      1,
	}
}

// Evaluator is the expensive semantic stage. It is the only stage allowed to
// block on external I/O.
type Evaluator interface {
	Evaluate(ctx context.Context, sig core.Signal, agent core.AgentIdentity, profile core.ProfileData) (Verdict, error)
}

// Selection reports what each stage kept.
type Selection struct {
	SignalID   string
	SceneID    string
	Population int
	GatePassed int
	Rescued    int // selected agents the gate had turned away
	Candidates []threshold.Scored // stage 2 survivors, best first
	Theta      float64
	KStar      int

	Offers   []core.Offer // stage 3, filled by Run
	Declined []string

	LowConfidence bool
	Degraded      error

	GateDuration     time.Duration
	FilterDuration   time.Duration
	EvaluateDuration time.Duration
}

// CandidateIDs returns the ids of the stage 2 survivors.
func (s Selection) CandidateIDs() []string {
	ids := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		ids[i] = c.AgentID
	}
	return ids
}

func (s *Selection) degrade(stage string) {
	s.LowConfidence = true
	s.Degraded = fmt.Errorf("%w: %s", core.ErrCascadeTimeout, stage)
}

type candidate struct {
	agent core.AgentIdentity
	proj  projector.Projection
}

// KStarSource resolves the responder target for a scene.
type KStarSource interface {
	KStar(sceneID string, fallback int) int
}

// Cascade runs the three-stage funnel over every registered agent.
type Cascade struct {
	projector  *projector.Projector
	encoder    *encoder.Encoder
	controller *threshold.Controller
	kStars     KStarSource
	evaluator  Evaluator
	gate       *Gate
	cfg        Config
	metrics    *metrics.Metrics
	logger     *logrus.Entry
}

// Option customizes a Cascade.
type Option func(*Cascade)

// WithEvaluator installs the deep evaluator. Without one, Run stops after
// stage 2 and the selected agents answer on their own.
func WithEvaluator(e Evaluator) Option { return func(c *Cascade) { c.evaluator = e } }

// WithTuner lets an adaptive tuner override scene k* values.
func WithTuner(k KStarSource) Option { return func(c *Cascade) { c.kStars = k } }

// WithMetrics records stage metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Cascade) { c.metrics = m } }

// New creates a cascade.
func New(p *projector.Projector, enc *encoder.Encoder, ctrl *threshold.Controller, cfg Config, opts ...Option) *Cascade {
	if cfg.EvalConcurrency <= 0 {
		cfg.EvalConcurrency = 1
	}
	if cfg.DefaultKStar <= 0 {
		cfg.DefaultKStar = 10
	}
	c := &Cascade{
		projector:  p,
		encoder:    enc,
		controller: ctrl,
		gate:       NewGate(cfg.BloomFPRate),
		cfg:        cfg,
		logger:     logging.For("cascade"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HasEvaluator reports whether stage 3 is configured.
func (c *Cascade) HasEvaluator() bool { return c.evaluator != nil }

// KStar returns the responder target for scene.
func (c *Cascade) KStar(scene core.Scene) int {
	k := scene.KStar
	if k <= 0 {
		k = c.cfg.DefaultKStar
	}
	if c.kStars != nil && scene.Adaptive {
		k = c.kStars.KStar(scene.ID, k)
	}
	return k
}

// Filter runs stages 1 and 2.
func (c *Cascade) Filter(ctx context.Context, sig core.Signal, scene core.Scene) (Selection, error) {
	lens := scene.Lens(sig.Scope)
	sel := Selection{SignalID: sig.ID, SceneID: scene.ID, KStar: c.KStar(scene)}
	log := c.logger.WithFields(logrus.Fields{"signal_id": sig.ID, "scene_id": scene.ID})

	sigVec, err := c.encoder.ProjectSignal(ctx, sig, lens)
	if err != nil {
		return sel, err
	}
	keys := encoder.SignalKeys(sig, lens)

	// Stage 1
	start := time.Now()
	gateCtx, cancel := context.WithTimeout(ctx, c.cfg.GateBudget)
	passed, rejected, population, err := c.admit(gateCtx, sigVec.Dim(), keys, log)
	cancel()
	if err != nil {
		return sel, err
	}
	sel.Population = population
	sel.GatePassed = len(passed)
	sel.GateDuration = time.Since(start)
	if gateCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		sel.degrade(StageGate)
	}
	c.metrics.ObserveStage(StageGate, len(passed), sel.GateDuration)

	// Stage 2
	start = time.Now()
	filterCtx, cancel := context.WithTimeout(ctx, c.cfg.FilterBudget)
	defer cancel()
	scored, complete := scoreAll(filterCtx, sigVec, passed)
	sel.Candidates, sel.Theta = c.controller.Select(sel.KStar, scored)

	// Agents turned away by the gate are scored too. Those at or above the
	// applied θ rejoin the ranking, and all of them do while the gate left
	// fewer than k* candidates, so the result is what stage 2 would pick from
	// the whole population. Once k* agents are ranked, adding more can only
	// raise θ, so one sweep is enough.
	if complete && len(rejected) > 0 {
		var swept []threshold.Scored
		swept, complete = scoreAll(filterCtx, sigVec, rejected)
		short := len(sel.Candidates) < sel.KStar
		added := make(map[string]bool)
		for _, s := range swept {
			if short || s.Score >= sel.Theta {
				scored = append(scored, s)
				added[s.AgentID] = true
			}
		}
		if len(added) > 0 {
			sel.Candidates, sel.Theta = c.controller.Select(sel.KStar, scored)
			for _, cand := range sel.Candidates {
				if added[cand.AgentID] {
					sel.Rescued++
				}
			}
		}
	}
	if !complete && ctx.Err() == nil {
		sel.degrade(StageFilter)
	}
	sel.FilterDuration = time.Since(start)
	c.metrics.ObserveStage(StageFilter, len(sel.Candidates), sel.FilterDuration)
	c.metrics.ObserveTheta(sel.Theta, sel.LowConfidence)

	if err := ctx.Err(); err != nil {
		return sel, err
	}
	log.WithFields(logrus.Fields{
		"population": sel.Population,
		"gate":       sel.GatePassed,
		"rescued":    sel.Rescued,
		"selected":   len(sel.Candidates),
		"theta":      sel.Theta,
		"k_star":     sel.KStar,
	}).Info("cascade filtered")
	return sel, nil
}

// admit projects every registered agent and splits them by the gate's
// answer. An agent whose projection fails is skipped; if the encoder is down
// for every agent the whole stage fails.
func (c *Cascade) admit(ctx context.Context, dim int, keys []string, log *logrus.Entry) (passed, rejected []candidate, population int, err error) {
	agents := c.projector.Registry().All()
	passed = make([]candidate, 0, len(agents))
	var encodingFailures, processed int
	for _, a := range agents {
		if ctx.Err() != nil {
			break
		}
		processed++
		proj, err := c.projector.Snapshot(ctx, a.ID)
		if err != nil {
			if errors.Is(err, core.ErrEncodingUnavailable) {
				encodingFailures++
			}
			log.WithError(err).WithField("agent_id", a.ID).Debug("agent skipped")
			continue
		}
		if proj.Vector.Dim() != dim {
			log.WithField("agent_id", a.ID).Warn("agent projection width mismatch")
			continue
		}
		if c.gate.Admit(proj, keys) {
			passed = append(passed, candidate{agent: a, proj: proj})
		} else {
			rejected = append(rejected, candidate{agent: a, proj: proj})
		}
	}
	if processed > 0 && encodingFailures == processed {
		return nil, nil, len(agents), fmt.Errorf("project agents: %w", core.ErrEncodingUnavailable)
	}
	return passed, rejected, len(agents), nil
}

// Evaluate runs stage 3 over the selected candidates and hands every verdict
// to emit as soon as it is known. emit may be called concurrently. Calls that
// fail or run past the budget are emitted with Err set. If no call succeeds
// the error is ErrAggregationUnavailable.
func (c *Cascade) Evaluate(ctx context.Context, sig core.Signal, sel *Selection, emit func(Verdict)) error {
	if c.evaluator == nil {
		return fmt.Errorf("%w: no evaluator configured", core.ErrAggregationUnavailable)
	}
	if len(sel.Candidates) == 0 {
		return nil
	}
	start := time.Now()
	evalCtx, cancel := context.WithTimeout(ctx, c.cfg.EvaluateBudget)
	defer cancel()

	var (
		mu        sync.Mutex
		succeeded int
		lastErr   error
	)
	g, gctx := errgroup.WithContext(evalCtx)
	g.SetLimit(c.cfg.EvalConcurrency)
	for _, cand := range sel.Candidates {
		agentID := cand.AgentID
		g.Go(func() error {
			v, err := c.evaluateOne(gctx, sig, agentID)
			mu.Lock()
			if err != nil {
				lastErr = err
			} else {
				succeeded++
			}
			mu.Unlock()
			if err != nil {
				v = Verdict{AgentID: agentID, Err: err}
			}
			emit(v)
			// Per-agent failures must not cancel the siblings.
			return nil
		})
	}
	_ = g.Wait()

	sel.EvaluateDuration = time.Since(start)
	c.metrics.ObserveStage(StageEvaluate, succeeded, sel.EvaluateDuration)
	if evalCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		sel.degrade(StageEvaluate)
	}
	if succeeded == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", core.ErrAggregationUnavailable, lastErr)
	}
	return nil
}

func (c *Cascade) evaluateOne(ctx context.Context, sig core.Signal, agentID string) (Verdict, error) {
	agent, err := c.projector.Registry().Get(agentID)
	if err != nil {
		return Verdict{}, err
	}
	data, err := c.projector.Profile(ctx, agentID)
	if err != nil {
		return Verdict{}, err
	}
	v, err := c.evaluator.Evaluate(ctx, sig, agent, data)
	if err != nil {
		return Verdict{}, err
	}
	v.AgentID = agentID
	return v, nil
}

// Run executes all three stages and collects the verdicts into the selection.
func (c *Cascade) Run(ctx context.Context, sig core.Signal, scene core.Scene) (Selection, error) {
	sel, err := c.Filter(ctx, sig, scene)
	if err != nil || c.evaluator == nil {
		return sel, err
	}
	var mu sync.Mutex
	err = c.Evaluate(ctx, sig, &sel, func(v Verdict) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case v.Err != nil:
		case v.Relevant:
			sel.Offers = append(sel.Offers, v.Offer())
		default:
			sel.Declined = append(sel.Declined, v.AgentID)
		}
	})
	return sel, err
}
