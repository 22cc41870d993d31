package threshold

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/logging"
)

// TunerConfig bounds the adaptive k* revision.
type TunerConfig struct {
	MinKStar      int
	MaxKStar      int
	LowWatermark  float64 // raise k* when conversion falls below this
	HighWatermark float64 // lower k* when conversion rises above this
	MinSamples    int     // offers observed before a scene is revised
	Step          int
	// OutcomeMemory is how long a credited (negotiation, agent) pair is
	// remembered so later lifecycle stages of the same offer are not counted.
	OutcomeMemory time.Duration
}

// DefaultTunerConfig returns standard tuner bounds.
func DefaultTunerConfig() TunerConfig {
	return TunerConfig{
		MinKStar:      1,
		MaxKStar:      100,
		LowWatermark:  0.2,
		HighWatermark: 0.6,
		MinSamples:    20,
		Step:          1,
		OutcomeMemory: 72 * time.Hour,
	}
}

type sceneStats struct {
	offers    int
	successes int
	failures  int
}

// Tuner keeps per-scene offer conversion observed through echo events and
// periodically revises the scene's k*.
type Tuner struct {
	cfg    TunerConfig
	mu     sync.Mutex
	stats    map[string]*sceneStats
	kStars   map[string]int
	credited *cache.Cache
	logger   *logrus.Entry
}

// NewTuner creates a tuner.
func NewTuner(cfg TunerConfig) *Tuner {
	if cfg.Step <= 0 {
		cfg.Step = 1
	}
	if cfg.OutcomeMemory <= 0 {
		cfg.OutcomeMemory = DefaultTunerConfig().OutcomeMemory
	}
	return &Tuner{
		cfg:      cfg,
		stats:    make(map[string]*sceneStats),
		kStars:   make(map[string]int),
		credited: cache.New(cfg.OutcomeMemory, cfg.OutcomeMemory/4),
		logger:   logging.For("threshold"),
	}
}

func (t *Tuner) scene(id string) *sceneStats {
	s, ok := t.stats[id]
	if !ok {
		s = &sceneStats{}
		t.stats[id] = s
	}
	return s
}

// ObserveOffers records how many offers a negotiation in scene produced.
func (t *Tuner) ObserveOffers(sceneID string, n int) {
	if sceneID == "" || n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scene(sceneID).offers += n
}

// ObserveOutcome records one real-world outcome of an agent's offer in a
// negotiation. An offer converts at most once: a delivered, confirmed and
// completed sequence for the same negotiation and agent counts as one
// success. Outcomes without a negotiation id cannot be matched and each
// count.
func (t *Tuner) ObserveOutcome(sceneID, negotiationID, agentID string, success bool) {
	if sceneID == "" {
		return
	}
	if negotiationID != "" {
		key := strings.Join([]string{sceneID, negotiationID, agentID, outcomeLabel(success)}, "|")
		if err := t.credited.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			return
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.scene(sceneID)
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// KStar returns the tuned k* for scene, or fallback if none was computed yet.
func (t *Tuner) KStar(sceneID string, fallback int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if k, ok := t.kStars[sceneID]; ok {
		return k
	}
	return fallback
}

// Revise adjusts k* for every scene with enough samples and resets its window.
// base supplies the configured k* for scenes not yet tuned. It returns the
// scenes whose k* changed.
func (t *Tuner) Revise(base func(sceneID string) int) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := make(map[string]int)
	for id, s := range t.stats {
		if s.offers < t.cfg.MinSamples {
			continue
		}
		current, ok := t.kStars[id]
		if !ok {
			current = base(id)
		}
		conversion := float64(s.successes) / float64(s.offers)
		next := current
		switch {
		case conversion < t.cfg.LowWatermark:
			next = current + t.cfg.Step
		case conversion > t.cfg.HighWatermark:
			next = current - t.cfg.Step
		}
		if next < t.cfg.MinKStar {
			next = t.cfg.MinKStar
		}
		if t.cfg.MaxKStar > 0 && next > t.cfg.MaxKStar {
			next = t.cfg.MaxKStar
		}
		t.kStars[id] = next
		if next != current {
			changed[id] = next
			t.logger.WithFields(logrus.Fields{
				"scene_id":   id,
				"conversion": conversion,
				"from":       current,
				"to":         next,
			}).Info("revised k*")
		}
		t.stats[id] = &sceneStats{}
	}
	return changed
}
