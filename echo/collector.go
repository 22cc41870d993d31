package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/communication"
	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/logging"
	"github.com/NatureBlueee/Towow-sub000/metrics"
)

var (
	// ErrNotExternal rejects events that did not come from the outside world.
	ErrNotExternal = errors.New("echo source is not external")
	// ErrDuplicate rejects an event that was already recorded.
	ErrDuplicate = errors.New("echo already recorded")
)

// ProfileUpdater appends experiences to the data behind an agent.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, agentID string, exp core.Experience) error
}

// CancelChecker reports whether a negotiation was cancelled.
type CancelChecker interface {
	Cancelled(negotiationID string) bool
}

// OutcomeObserver is fed the success or failure of each echoed offer. One
// offer may echo several lifecycle stages; the observer counts it once.
type OutcomeObserver interface {
	ObserveOutcome(sceneID, negotiationID, agentID string, success bool)
}

// Config tunes the collector.
type Config struct {
	ConsensusQuorum      int     // confirmations a failure needs to count at full weight
	LowWeight            float64 // weight of failures below the quorum
	UpdateRetries        uint64
	RetryInitialInterval time.Duration
	DedupeWindow         time.Duration
}

// DefaultConfig returns standard collector configuration.
func DefaultConfig() Config {
	return Config{
		ConsensusQuorum:      2,
		LowWeight:            0.25,
		UpdateRetries:        3,
		RetryInitialInterval: 200 * time.Millisecond,
		DedupeWindow:         time.Hour,
	}
}

// Collector turns externally observed outcomes into profile experiences. It
// is the only writer of experiences in the system.
type Collector struct {
	profiles ProfileUpdater
	cfg      Config

	cancelled CancelChecker
	outcomes  OutcomeObserver
	metrics   *metrics.Metrics
	hub       *communication.Hub

	seen   *cache.Cache
	logger *logrus.Entry
}

type Option func(*Collector)

// WithCancelChecker blocks echoes for cancelled negotiations.
func WithCancelChecker(c CancelChecker) Option { return func(col *Collector) { col.cancelled = c } }

// WithOutcomeObserver feeds the threshold tuner.
func WithOutcomeObserver(o OutcomeObserver) Option { return func(col *Collector) { col.outcomes = o } }

func WithMetrics(m *metrics.Metrics) Option { return func(col *Collector) { col.metrics = m } }

func WithHub(h *communication.Hub) Option { return func(col *Collector) { col.hub = h } }

// NewCollector creates a collector writing through profiles.
func NewCollector(profiles ProfileUpdater, cfg Config, opts ...Option) *Collector {
	def := DefaultConfig()
	if cfg.ConsensusQuorum <= 0 {
		cfg.ConsensusQuorum = def.ConsensusQuorum
	}
	if cfg.LowWeight <= 0 || cfg.LowWeight >= 1 {
		cfg.LowWeight = def.LowWeight
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = def.DedupeWindow
	}
	c := &Collector{
		profiles: profiles,
		cfg:      cfg,
		seen:     cache.New(cfg.DedupeWindow, cfg.DedupeWindow/2),
		logger:   logging.For("echo"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Experience converts an event into the experience it would append. A
// failure without enough independent confirmations is kept at low weight
// and marked low-confidence instead of being discarded.
func (c *Collector) Experience(ev core.EchoEvent) (core.Experience, error) {
	if err := ev.Validate(); err != nil {
		return core.Experience{}, err
	}
	if !core.ExternalSource(ev.Source) {
		return core.Experience{}, fmt.Errorf("%w: %q", ErrNotExternal, ev.Source)
	}
	exp := core.Experience{
		Kind:          ev.Kind,
		Summary:       summarize(ev),
		Weight:        1,
		NegotiationID: ev.NegotiationID,
		ObservedAt:    ev.ObservedAt.UTC(),
	}
	if ev.Kind == core.OutcomeFailed && ev.Confirmations < c.cfg.ConsensusQuorum {
		exp.Weight = c.cfg.LowWeight
		exp.LowConfidence = true
	}
	return exp, nil
}

func summarize(ev core.EchoEvent) string {
	var detail struct {
		Summary string `json:"summary"`
	}
	if len(ev.Payload) > 0 && json.Unmarshal(ev.Payload, &detail) == nil && strings.TrimSpace(detail.Summary) != "" {
		return strings.TrimSpace(detail.Summary)
	}
	s := fmt.Sprintf("%s via %s", ev.Kind, ev.Source)
	if ev.NegotiationID != "" {
		s += " for negotiation " + ev.NegotiationID
	}
	return s
}

func dedupeKey(ev core.EchoEvent) string {
	return strings.Join([]string{ev.AgentID, ev.NegotiationID, string(ev.Kind), string(ev.Source),
		ev.ObservedAt.UTC().Format(time.RFC3339Nano)}, "|")
}

// Record validates an event and appends the resulting experience to the
// agent's data source. Events for cancelled negotiations are rejected.
func (c *Collector) Record(ctx context.Context, ev core.EchoEvent) error {
	log := c.logger.WithFields(logrus.Fields{
		"agent_id":       ev.AgentID,
		"negotiation_id": ev.NegotiationID,
		"kind":           ev.Kind,
		"source":         ev.Source,
	})

	exp, err := c.Experience(ev)
	if err != nil {
		c.metrics.Echo(string(ev.Kind), "rejected")
		return err
	}
	if ev.NegotiationID != "" && c.cancelled != nil && c.cancelled.Cancelled(ev.NegotiationID) {
		c.metrics.Echo(string(ev.Kind), "rejected")
		return fmt.Errorf("echo for negotiation %s: %w", ev.NegotiationID, core.ErrCancelled)
	}
	key := dedupeKey(ev)
	if err := c.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		c.metrics.Echo(string(ev.Kind), "duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	op := func() error {
		err := c.profiles.UpdateProfile(ctx, ev.AgentID, exp)
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrInvalidAgent) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInitialInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.UpdateRetries), ctx)); err != nil {
		c.seen.Delete(key)
		c.metrics.Echo(string(ev.Kind), "failed")
		log.WithError(err).Warn("Failed to append experience")
		return fmt.Errorf("append experience for %s: %w", ev.AgentID, err)
	}

	disposition := "recorded"
	if exp.LowConfidence {
		disposition = "low_weight"
		log.WithError(core.ErrConsensusFailure).
			WithField("confirmations", ev.Confirmations).Warn("Failure recorded at low weight")
	} else if ev.SceneID != "" && c.outcomes != nil {
		c.outcomes.ObserveOutcome(ev.SceneID, ev.NegotiationID, ev.AgentID, ev.Kind.Positive())
	}
	c.metrics.Echo(string(ev.Kind), disposition)
	c.hub.Broadcast(communication.EventEchoRecorded, map[string]interface{}{
		"agentId":       ev.AgentID,
		"negotiationId": ev.NegotiationID,
		"kind":          ev.Kind,
		"weight":        exp.Weight,
	})
	log.WithField("weight", exp.Weight).Info("Echo recorded")
	return nil
}
