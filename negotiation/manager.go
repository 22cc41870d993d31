package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/cascade"
	"github.com/NatureBlueee/Towow-sub000/communication"
	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
	"github.com/NatureBlueee/Towow-sub000/logging"
	"github.com/NatureBlueee/Towow-sub000/metrics"
	"github.com/NatureBlueee/Towow-sub000/offerpool"
	"github.com/NatureBlueee/Towow-sub000/storage"
)

// ErrNotCollecting rejects offers for a negotiation whose barrier is not open yet.
var ErrNotCollecting = errors.New("negotiation is not collecting offers")

// Config holds the manager's timing and sizing knobs.
type Config struct {
	CollectTimeout        time.Duration // round-one barrier timeout unless the scene sets one
	Round2Timeout         time.Duration
	AggregateTimeout      time.Duration // per aggregation attempt
	MinResponders         int           // unless the scene sets one
	MaxRound2Participants int
	AggregateRetries      uint64
	RetryInitialInterval  time.Duration
}

// DefaultConfig returns standard manager configuration.
func DefaultConfig() Config {
	return Config{
		CollectTimeout:        30 * time.Second,
		Round2Timeout:         15 * time.Second,
		AggregateTimeout:      60 * time.Second,
		MinResponders:         1,
		MaxRound2Participants: 3,
		AggregateRetries:      3,
		RetryInitialInterval:  500 * time.Millisecond,
	}
}

// SubmitRequest is a caller's demand.
type SubmitRequest struct {
	Payload       string   `json:"payload" binding:"required"`
	OriginAgentID string   `json:"origin_agent_id"`
	SceneID       string   `json:"scene_id"`
	Scope         []string `json:"scope"`
}

// SceneResolver looks up scene parameters by id. Unknown ids get defaults.
type SceneResolver interface {
	Scene(id string) core.Scene
}

// OfferObserver is told how many offers each negotiation collected.
type OfferObserver interface {
	ObserveOffers(sceneID string, offers int)
}

// LensObserver is told which agents answered under a narrow lens.
type LensObserver interface {
	Observe(ctx context.Context, agentID, lens string) error
}

// ContractWatcher follows the external workflow of a Contract result.
type ContractWatcher interface {
	Watch(notice core.WorkflowNotice) error
}

type negotiation struct {
	id     string
	signal core.Signal
	scene  core.Scene

	mu            sync.Mutex
	state         State
	round         int
	barrier       *Barrier
	expected      []string
	offers        []core.Offer
	result        core.Result
	err           error
	lowConfidence bool
	createdAt     time.Time
	closedAt      time.Time
	cancel        context.CancelFunc
	subscribers   []chan Outcome
}

func (n *negotiation) outcomeLocked() Outcome {
	o := Outcome{
		NegotiationID: n.id,
		SignalID:      n.signal.ID,
		SceneID:       n.scene.ID,
		State:         n.state,
		Rounds:        n.round,
		Offers:        len(n.offers),
		Expected:      append([]string(nil), n.expected...),
		LowConfidence: n.lowConfidence,
		CreatedAt:     n.createdAt,
		ClosedAt:      n.closedAt,
	}
	if n.state == StateTerminal {
		o.Result = n.result
	}
	if n.err != nil {
		o.Error = n.err.Error()
	}
	return o
}

func (n *negotiation) outcome() Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outcomeLocked()
}

func (n *negotiation) transition(to State) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := checkTransition(n.state, to); err != nil {
		return err
	}
	n.state = to
	return nil
}

// Manager drives negotiations from signal to result. Each negotiation runs
// in its own goroutine; the manager only holds the index.
type Manager struct {
	cascade    *cascade.Cascade
	aggregator Aggregator
	scenes     SceneResolver
	cfg        Config

	exchanger Exchanger
	pool      *offerpool.Pool
	board     *communication.Board
	archive   *storage.ArchiveRepository
	broker    *core.NATSBroker
	messenger *communication.Messenger
	hub       *communication.Hub
	metrics   *metrics.Metrics
	offers    OfferObserver
	lenses    LensObserver
	watcher   ContractWatcher

	mu           sync.RWMutex
	negotiations map[string]*negotiation
	cancelled    map[string]time.Time

	logger *logrus.Entry
}

type Option func(*Manager)

func WithExchanger(e Exchanger) Option { return func(m *Manager) { m.exchanger = e } }

func WithPool(p *offerpool.Pool) Option { return func(m *Manager) { m.pool = p } }

func WithBoard(b *communication.Board) Option { return func(m *Manager) { m.board = b } }

// WithArchive keeps closed negotiations in the compressed archive.
func WithArchive(a *storage.ArchiveRepository) Option { return func(m *Manager) { m.archive = a } }

// WithBroker publishes signal broadcasts and workflow notices on NATS.
func WithBroker(b *core.NATSBroker) Option { return func(m *Manager) { m.broker = b } }

// WithMessenger notifies round-two participants on their private subjects,
// announces the exchange and accepts replies on the negotiation's subjects.
func WithMessenger(ms *communication.Messenger) Option {
	return func(m *Manager) { m.messenger = ms }
}

func WithHub(h *communication.Hub) Option { return func(m *Manager) { m.hub = h } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func WithOfferObserver(o OfferObserver) Option { return func(m *Manager) { m.offers = o } }

func WithLensObserver(o LensObserver) Option { return func(m *Manager) { m.lenses = o } }

func WithContractWatcher(w ContractWatcher) Option { return func(m *Manager) { m.watcher = w } }

// NewManager creates a manager. scenes may be nil, in which case every scene
// runs on defaults.
func NewManager(c *cascade.Cascade, agg Aggregator, scenes SceneResolver, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = def.CollectTimeout
	}
	if cfg.Round2Timeout <= 0 {
		cfg.Round2Timeout = def.Round2Timeout
	}
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = def.AggregateTimeout
	}
	if cfg.MinResponders <= 0 {
		cfg.MinResponders = def.MinResponders
	}
	if cfg.MaxRound2Participants <= 0 {
		cfg.MaxRound2Participants = def.MaxRound2Participants
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	m := &Manager{
		cascade:      c,
		aggregator:   agg,
		scenes:       scenes,
		cfg:          cfg,
		negotiations: make(map[string]*negotiation),
		cancelled:    make(map[string]time.Time),
		logger:       logging.For("negotiation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pool == nil {
		m.pool = offerpool.New(0)
	}
	if m.board == nil {
		m.board = communication.NewBoard()
	}
	return m
}

func (m *Manager) scene(id string) core.Scene {
	if m.scenes == nil {
		return core.Scene{ID: id}
	}
	s := m.scenes.Scene(id)
	if s.ID == "" {
		s.ID = id
	}
	return s
}

func (m *Manager) get(id string) (*negotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.negotiations[id]
	if !ok {
		return nil, fmt.Errorf("negotiation %s: %w", id, core.ErrNotFound)
	}
	return n, nil
}

// Submit starts a negotiation and returns its id without waiting for the result.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sig, err := core.NewSignal(req.Payload, req.OriginAgentID, req.SceneID, req.Scope)
	if err != nil {
		return "", err
	}
	if len(encoder.Terms(sig.Payload)) == 0 {
		return "", fmt.Errorf("%w: signal payload has no content terms", core.ErrInvalidInput)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	n := &negotiation{
		id:        uuid.New().String(),
		signal:    sig,
		scene:     m.scene(req.SceneID),
		state:     StateCollecting,
		round:     1,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.negotiations[n.id] = n
	m.mu.Unlock()

	m.metrics.NegotiationStarted()
	m.hub.Broadcast(communication.EventNegotiationStarted, map[string]interface{}{
		"negotiationId": n.id,
		"sceneId":       n.scene.ID,
		"payload":       sig.Payload,
	})
	logging.WithNegotiation(m.logger, n.id, n.scene.ID).
		WithField("signal_id", sig.ID).Info("Negotiation started")

	go m.run(runCtx, n)
	return n.id, nil
}

// run executes round one: cascade, barrier, aggregation.
func (m *Manager) run(ctx context.Context, n *negotiation) {
	log := logging.WithNegotiation(m.logger, n.id, n.scene.ID)

	sel, err := m.cascade.Filter(ctx, n.signal, n.scene)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("Cascade failed")
		m.fail(n, err)
		return
	}

	timeout := m.cfg.CollectTimeout
	if n.scene.CollectTimeout > 0 {
		timeout = n.scene.CollectTimeout
	}
	responders := sel.CandidateIDs()
	barrier := NewBarrier(responders, timeout)

	n.mu.Lock()
	if n.state != StateCollecting {
		n.mu.Unlock()
		barrier.Cancel()
		return
	}
	n.barrier = barrier
	n.expected = responders
	n.lowConfidence = sel.LowConfidence
	n.mu.Unlock()

	log.WithFields(logrus.Fields{
		"population":  sel.Population,
		"gate_passed": sel.GatePassed,
		"responders":  len(responders),
		"theta":       sel.Theta,
		"k_star":      sel.KStar,
	}).Info("Responders selected")
	m.hub.Broadcast(communication.EventCascadeSelected, map[string]interface{}{
		"negotiationId": n.id,
		"responders":    responders,
		"theta":         sel.Theta,
		"kStar":         sel.KStar,
		"lowConfidence": sel.LowConfidence,
	})
	if m.broker != nil {
		err := m.broker.PublishJSON(core.SubjectSignalBroadcast, Broadcast{
			NegotiationID: n.id,
			Signal:        n.signal,
			Responders:    responders,
			Deadline:      time.Now().Add(timeout).UTC(),
		})
		if err != nil {
			log.WithError(err).Warn("Failed to publish signal broadcast")
		}
	}

	var evalErr error
	evalDone := make(chan struct{})
	if m.cascade.HasEvaluator() {
		go func() {
			defer close(evalDone)
			evalErr = m.cascade.Evaluate(ctx, n.signal, &sel, func(v cascade.Verdict) {
				if v.Err != nil || !v.Relevant {
					m.decline(n, barrier, v.AgentID)
					return
				}
				m.accept(n, barrier, v.Offer())
			})
			if sel.LowConfidence {
				n.mu.Lock()
				n.lowConfidence = true
				n.mu.Unlock()
			}
		}()
	} else {
		close(evalDone)
	}

	select {
	case <-barrier.Done():
	case <-ctx.Done():
		return
	}
	if barrier.Reason() == FiredCancelled {
		return
	}
	offers := barrier.Offers()
	log.WithFields(logrus.Fields{
		"reason":   barrier.Reason(),
		"offers":   len(offers),
		"declined": len(barrier.Declined()),
		"missing":  len(barrier.Missing()),
	}).Info("Barrier fired")
	m.hub.Broadcast(communication.EventBarrierFired, map[string]interface{}{
		"negotiationId": n.id,
		"reason":        barrier.Reason(),
		"offers":        len(offers),
		"missing":       barrier.Missing(),
	})

	if len(offers) == 0 && m.cascade.HasEvaluator() {
		select {
		case <-evalDone:
		case <-ctx.Done():
			return
		}
		if errors.Is(evalErr, core.ErrAggregationUnavailable) {
			log.WithError(evalErr).Warn("Every evaluation failed")
			m.preserve(n, nil, 1)
			m.fail(n, evalErr)
			return
		}
	}

	if err := n.transition(StateReadyToAggregate); err != nil {
		log.WithError(err).Debug("Negotiation left collecting before aggregation")
		return
	}
	m.aggregate(ctx, n, offers, 1)
}

func (m *Manager) accept(n *negotiation, b *Barrier, offer core.Offer) error {
	if offer.Round == 0 {
		offer.Round = 1
	}
	if offer.Timestamp.IsZero() {
		offer.Timestamp = time.Now().UTC()
	}
	if err := b.Submit(offer); err != nil {
		disposition := "rejected"
		if errors.Is(err, ErrBarrierClosed) {
			disposition = "late"
		}
		m.metrics.Offer(disposition)
		logging.WithNegotiation(m.logger, n.id, n.scene.ID).
			WithError(err).WithField("agent_id", offer.AgentID).Debug("Offer not accepted")
		return err
	}
	m.metrics.Offer("accepted")
	m.hub.Broadcast(communication.EventOfferReceived, map[string]interface{}{
		"negotiationId": n.id,
		"agentId":       offer.AgentID,
		"round":         offer.Round,
		"confidence":    offer.Confidence,
	})
	return nil
}

func (m *Manager) decline(n *negotiation, b *Barrier, agentID string) error {
	if err := b.Decline(agentID); err != nil {
		return err
	}
	m.metrics.Offer("declined")
	return nil
}

// openBarrier returns the barrier currently collecting for id and the round
// it collects for.
func (m *Manager) openBarrier(id string) (*negotiation, *Barrier, int, error) {
	n, err := m.get(id)
	if err != nil {
		return nil, nil, 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.state == StateCancelled:
		return nil, nil, 0, fmt.Errorf("negotiation %s: %w", id, core.ErrCancelled)
	case n.barrier == nil:
		return nil, nil, 0, fmt.Errorf("negotiation %s: %w", id, ErrNotCollecting)
	}
	return n, n.barrier, n.round, nil
}

// SubmitOffer delivers an offer from an external agent to the open barrier.
// The offer is stamped with the round that barrier collects for. Offers after
// the barrier fired are rejected with ErrBarrierClosed.
func (m *Manager) SubmitOffer(id string, offer core.Offer) error {
	n, b, round, err := m.openBarrier(id)
	if err != nil {
		return err
	}
	if round > 0 {
		offer.Round = round
	}
	return m.accept(n, b, offer)
}

// Decline records that an expected agent will not offer.
func (m *Manager) Decline(id, agentID string) error {
	n, b, _, err := m.openBarrier(id)
	if err != nil {
		return err
	}
	return m.decline(n, b, agentID)
}

// aggregate runs from ready_to_aggregate to a closed state. A round-one result
// asking for a peer exchange gets exactly one more round.
func (m *Manager) aggregate(ctx context.Context, n *negotiation, offers []core.Offer, round int) {
	log := logging.WithNegotiation(m.logger, n.id, n.scene.ID)

	required := m.cfg.MinResponders
	if n.scene.MinResponders > 0 {
		required = n.scene.MinResponders
	}
	if len(offers) < required {
		log.WithFields(logrus.Fields{"offers": len(offers), "required": required}).Info("Too few responders")
		m.complete(n, offers, core.NeedMoreInfo{
			Reason:    fmt.Sprintf("%v: %d of %d required offers", core.ErrInsufficientResponders, len(offers), required),
			Questions: []string{"Can the request be broadened or given more detail?"},
		})
		return
	}

	result, err := m.aggregateOnce(ctx, n, offers, round)
	if err != nil {
		m.aggregationFailed(ctx, n, offers, round, err)
		return
	}

	if core.WantsRoundTwo(result) && round < 2 {
		if err := n.transition(StateAwaitingRound2); err != nil {
			return
		}
		extra := m.roundTwo(ctx, n, offers, result)
		offers = append(offers, extra...)
		round = 2
		if err := n.transition(StateReadyToAggregate); err != nil {
			return
		}
		result, err = m.aggregateOnce(ctx, n, offers, round)
		if err != nil {
			m.aggregationFailed(ctx, n, offers, round, err)
			return
		}
	}
	m.complete(n, offers, result)
}

func (m *Manager) aggregationFailed(_ context.Context, n *negotiation, offers []core.Offer, round int, err error) {
	n.mu.Lock()
	cancelled := n.state == StateCancelled
	n.mu.Unlock()
	if cancelled {
		return
	}
	logging.WithNegotiation(m.logger, n.id, n.scene.ID).WithError(err).Warn("Aggregation failed, offers preserved")
	m.preserve(n, offers, round)
	m.fail(n, err)
}

func (m *Manager) aggregateOnce(ctx context.Context, n *negotiation, offers []core.Offer, round int) (core.Result, error) {
	n.mu.Lock()
	n.round = round
	in := Input{
		NegotiationID: n.id,
		Signal:        n.signal,
		Scene:         n.scene,
		Round:         round,
		Offers:        Mask(offers),
		LowConfidence: n.lowConfidence,
	}
	n.mu.Unlock()

	var (
		result   core.Result
		attempts int
	)
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, m.cfg.AggregateTimeout)
		defer cancel()
		start := time.Now()
		r, err := m.aggregator.Aggregate(actx, in)
		m.metrics.ObserveAggregation(time.Since(start), attempts > 1)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if r == nil {
			return errors.New("aggregator returned no result")
		}
		result = r
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.RetryInitialInterval
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, m.cfg.AggregateRetries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, core.ErrAggregationUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrAggregationUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

// roundTwo runs the bounded peer exchange and returns the offers it produced.
func (m *Manager) roundTwo(ctx context.Context, n *negotiation, offers []core.Offer, result core.Result) []core.Offer {
	log := logging.WithNegotiation(m.logger, n.id, n.scene.ID)
	participants := m.roundTwoParticipants(offers, result)
	if len(participants) == 0 {
		return nil
	}

	var (
		topic   string
		missing []string
	)
	switch r := result.(type) {
	case core.TriggerP2P:
		topic = r.Topic
	case core.HasGap:
		missing = r.Missing
		if len(missing) > 0 {
			topic = "missing: " + strings.Join(missing, ", ")
		}
	}

	deadline := time.Now().Add(m.cfg.Round2Timeout)
	b := NewBarrier(participants, m.cfg.Round2Timeout)
	n.mu.Lock()
	if n.state == StateCancelled {
		n.mu.Unlock()
		b.Cancel()
		return nil
	}
	n.barrier = b
	n.round = 2
	n.mu.Unlock()

	m.board.CreateThread(n.id, topic, "coordinator")
	log.WithField("participants", participants).Info("Round two started")
	m.hub.Broadcast(communication.EventRoundTwo, map[string]interface{}{
		"negotiationId": n.id,
		"participants":  participants,
		"topic":         topic,
		"missing":       missing,
	})

	originals := make(map[string]core.Offer, len(offers))
	for _, o := range offers {
		originals[o.AgentID] = o
	}
	xctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if m.messenger != nil {
		notice := ExchangeNotice{
			NegotiationID: n.id,
			Topic:         topic,
			Missing:       missing,
			Participants:  participants,
			ReplySubject:  communication.RepliesSubject(n.id),
			Deadline:      deadline.UTC(),
		}
		sub, err := m.messenger.SubscribeGlobal(notice.ReplySubject, func(msg *nats.Msg) {
			var offer core.Offer
			if err := core.DecodeJSON(msg.Data, &offer); err != nil {
				log.WithError(err).Debug("Malformed round-two reply")
				return
			}
			offer.Round = 2
			if m.accept(n, b, offer) == nil {
				_, _ = m.board.AddReply(n.id, offer.AgentID, offer.Content)
			}
		})
		if err != nil {
			log.WithError(err).Warn("Failed to subscribe to round-two replies")
		} else {
			defer sub.Unsubscribe()
		}
		if err := m.messenger.PublishGlobal(communication.RoundTwoSubject(n.id), notice); err != nil {
			log.WithError(err).Warn("Failed to announce round two")
		}
		for _, p := range participants {
			if err := m.messenger.PublishPrivateJSON(p, notice); err != nil {
				log.WithError(err).WithField("agent_id", p).Warn("Failed to notify round-two participant")
			}
		}
	}

	for _, p := range participants {
		if m.exchanger == nil {
			continue
		}
		go func(agentID string) {
			offer, err := m.exchanger.Exchange(xctx, ExchangeRequest{
				NegotiationID: n.id,
				AgentID:       agentID,
				Signal:        n.signal,
				Topic:         topic,
				Missing:       missing,
				Original:      originals[agentID],
			})
			if err != nil {
				_ = m.decline(n, b, agentID)
				return
			}
			offer.AgentID = agentID
			offer.Round = 2
			if m.accept(n, b, offer) == nil {
				_, _ = m.board.AddReply(n.id, agentID, offer.Content)
			}
		}(p)
	}

	select {
	case <-b.Done():
	case <-ctx.Done():
		return nil
	}
	return b.Offers()
}

// roundTwoParticipants keeps the named participants that actually answered,
// or the most confident responders when none were named.
func (m *Manager) roundTwoParticipants(offers []core.Offer, result core.Result) []string {
	responded := make(map[string]core.Offer, len(offers))
	for _, o := range offers {
		responded[o.AgentID] = o
	}
	var out []string
	for _, id := range core.RoundTwoParticipants(result) {
		if _, ok := responded[id]; ok {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		ranked := append([]core.Offer(nil), offers...)
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Confidence != ranked[j].Confidence {
				return ranked[i].Confidence > ranked[j].Confidence
			}
			return ranked[i].AgentID < ranked[j].AgentID
		})
		for _, o := range ranked {
			out = append(out, o.AgentID)
		}
	}
	if len(out) > m.cfg.MaxRound2Participants {
		out = out[:m.cfg.MaxRound2Participants]
	}
	return out
}

func (m *Manager) preserve(n *negotiation, offers []core.Offer, round int) {
	m.pool.Preserve(offerpool.Entry{
		NegotiationID: n.id,
		Signal:        n.signal,
		Scene:         n.scene,
		Offers:        offers,
		Round:         round,
	})
}

// complete commits the result and moves the negotiation to terminal.
func (m *Manager) complete(n *negotiation, offers []core.Offer, result core.Result) {
	n.mu.Lock()
	if n.state == StateReadyToAggregate {
		n.state = StateAggregated
	}
	if err := checkTransition(n.state, StateTerminal); err != nil {
		n.mu.Unlock()
		return
	}
	n.state = StateTerminal
	n.result = result
	n.offers = offers
	n.err = nil
	n.closedAt = time.Now().UTC()
	outcome := n.outcomeLocked()
	subs := n.subscribers
	n.subscribers = nil
	n.mu.Unlock()

	m.pool.Release(n.id)
	m.closed(n, outcome, offers, subs)

	if m.offers != nil {
		m.offers.ObserveOffers(n.scene.ID, countRound(offers, 1))
	}
	if lens := n.scene.Lens(n.signal.Scope); lens != "" && m.lenses != nil {
		go func(offers []core.Offer) {
			for _, o := range offers {
				if o.Round != 1 {
					continue
				}
				if err := m.lenses.Observe(context.Background(), o.AgentID, lens); err != nil {
					m.logger.WithError(err).WithField("agent_id", o.AgentID).Debug("Lens observation failed")
				}
			}
		}(offers)
	}
	if c, ok := result.(core.Contract); ok {
		m.announceContract(n, c)
	}
}

func (m *Manager) announceContract(n *negotiation, c core.Contract) {
	log := logging.WithNegotiation(m.logger, n.id, n.scene.ID).WithField("workflow_ref", c.WorkflowRef)
	notice := core.WorkflowNotice{
		WorkflowRef:   c.WorkflowRef,
		NegotiationID: n.id,
		SceneID:       n.scene.ID,
		Parties:       c.Parties,
		CreatedAt:     time.Now().UTC(),
	}
	if m.watcher != nil {
		if err := m.watcher.Watch(notice); err != nil {
			log.WithError(err).Warn("Failed to watch workflow")
		}
	}
	if m.broker != nil {
		if err := m.broker.PublishJSON(core.SubjectWorkflowCreated, notice); err != nil {
			log.WithError(err).Warn("Failed to publish workflow notice")
		}
	}
}

func (m *Manager) fail(n *negotiation, cause error) {
	n.mu.Lock()
	if err := checkTransition(n.state, StateFailed); err != nil {
		n.mu.Unlock()
		return
	}
	n.state = StateFailed
	n.err = cause
	n.closedAt = time.Now().UTC()
	outcome := n.outcomeLocked()
	subs := n.subscribers
	n.subscribers = nil
	n.mu.Unlock()

	m.closed(n, outcome, nil, subs)
}

// closed fans out a closed outcome to subscribers, metrics, the hub and the archive.
func (m *Manager) closed(n *negotiation, outcome Outcome, offers []core.Offer, subs []chan Outcome) {
	for _, ch := range subs {
		ch <- outcome
		close(ch)
	}

	resultKind := ""
	if outcome.Result != nil {
		resultKind = string(outcome.Result.Kind())
	}
	m.metrics.NegotiationFinished(string(outcome.State), resultKind, outcome.Rounds)

	event := communication.EventResultReady
	switch outcome.State {
	case StateFailed:
		event = communication.EventNegotiationFailed
	case StateCancelled:
		event = communication.EventNegotiationCancelled
	}
	m.hub.Broadcast(event, outcome)

	logging.WithNegotiation(m.logger, n.id, n.scene.ID).WithFields(logrus.Fields{
		"state":  outcome.State,
		"result": resultKind,
		"rounds": outcome.Rounds,
		"offers": outcome.Offers,
	}).Info("Negotiation closed")

	if m.archive != nil {
		rec := Record{Outcome: outcome, Signal: n.signal, Offers: offers}
		if err := m.archive.Save(n.id, outcome.ClosedAt, rec); err != nil {
			m.logger.WithError(err).WithField("negotiation_id", n.id).Warn("Failed to archive negotiation")
		}
	}
}

func countRound(offers []core.Offer, round int) int {
	c := 0
	for _, o := range offers {
		if o.Round == round {
			c++
		}
	}
	return c
}

// Cancel stops a negotiation. No result is committed afterwards and every
// collected offer is released.
func (m *Manager) Cancel(id string) error {
	n, err := m.get(id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if err := checkTransition(n.state, StateCancelled); err != nil {
		n.mu.Unlock()
		return err
	}
	n.state = StateCancelled
	n.err = core.ErrCancelled
	n.result = nil
	n.offers = nil
	n.closedAt = time.Now().UTC()
	b := n.barrier
	cancel := n.cancel
	outcome := n.outcomeLocked()
	subs := n.subscribers
	n.subscribers = nil
	n.mu.Unlock()

	if b != nil {
		b.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	m.pool.Release(id)
	m.board.Remove(id)

	m.mu.Lock()
	m.cancelled[id] = outcome.ClosedAt
	m.mu.Unlock()

	m.closed(n, outcome, nil, subs)
	return nil
}

// Cancelled reports whether the negotiation was cancelled. Echo events for
// cancelled negotiations are rejected.
func (m *Manager) Cancelled(id string) bool {
	m.mu.RLock()
	_, ok := m.cancelled[id]
	m.mu.RUnlock()
	if ok {
		return true
	}
	if m.archive == nil {
		return false
	}
	var rec Record
	if err := m.archive.Load(id, &rec); err != nil {
		return false
	}
	return rec.Outcome.State == StateCancelled
}

// Retry re-enters a failed negotiation. Preserved offers are re-aggregated
// synchronously; without them the negotiation starts collecting again and
// Retry returns immediately.
func (m *Manager) Retry(ctx context.Context, id string) (Outcome, error) {
	n, err := m.get(id)
	if err != nil {
		return Outcome{}, err
	}
	n.mu.Lock()
	if n.state != StateFailed {
		o := n.outcomeLocked()
		n.mu.Unlock()
		return o, fmt.Errorf("%w: negotiation %s is %s, only failed negotiations can be retried",
			ErrIllegalTransition, id, o.State)
	}
	n.mu.Unlock()

	m.metrics.NegotiationStarted()
	logging.WithNegotiation(m.logger, n.id, n.scene.ID).Info("Retrying negotiation")

	if entry, ok := m.pool.Get(id); ok && len(entry.Offers) > 0 {
		n.mu.Lock()
		n.state = StateReadyToAggregate
		n.err = nil
		n.closedAt = time.Time{}
		n.mu.Unlock()
		m.aggregate(ctx, n, entry.Offers, entry.Round)
		return n.outcome(), nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.state = StateCollecting
	n.err = nil
	n.closedAt = time.Time{}
	n.barrier = nil
	n.round = 1
	n.cancel = cancel
	o := n.outcomeLocked()
	n.mu.Unlock()
	m.pool.Release(id)
	go m.run(runCtx, n)
	return o, nil
}

// Result returns the outcome of a negotiation. It returns core.ErrPending
// with the current state while the negotiation is still open.
func (m *Manager) Result(id string) (Outcome, error) {
	n, err := m.get(id)
	if err == nil {
		o := n.outcome()
		if !o.State.Closed() {
			return o, fmt.Errorf("negotiation %s: %w", id, core.ErrPending)
		}
		return o, nil
	}
	if m.archive != nil {
		var rec Record
		if aerr := m.archive.Load(id, &rec); aerr == nil {
			return rec.Outcome, nil
		}
	}
	return Outcome{}, err
}

// Subscribe returns a channel that receives the next closed outcome of the
// negotiation and is then closed.
func (m *Manager) Subscribe(id string) (<-chan Outcome, error) {
	ch := make(chan Outcome, 1)
	n, err := m.get(id)
	if err != nil {
		o, aerr := m.Result(id)
		if aerr != nil {
			return nil, err
		}
		ch <- o
		close(ch)
		return ch, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.Closed() {
		ch <- n.outcomeLocked()
		close(ch)
		return ch, nil
	}
	n.subscribers = append(n.subscribers, ch)
	return ch, nil
}

// Wait blocks until the negotiation closes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Outcome, error) {
	ch, err := m.Subscribe(id)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Active returns the number of negotiations that have not closed.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := 0
	for _, n := range m.negotiations {
		n.mu.Lock()
		if !n.state.Closed() {
			c++
		}
		n.mu.Unlock()
	}
	return c
}

// List returns the outcomes of every negotiation still held in memory,
// newest first.
func (m *Manager) List() []Outcome {
	m.mu.RLock()
	out := make([]Outcome, 0, len(m.negotiations))
	for _, n := range m.negotiations {
		out = append(out, n.outcome())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Evict drops closed negotiations that closed before cutoff from memory.
// Archived ones stay readable through Result. Failed negotiations with
// preserved offers are kept so they can still be retried.
func (m *Manager) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, n := range m.negotiations {
		n.mu.Lock()
		drop := n.state.Closed() && n.closedAt.Before(cutoff)
		state := n.state
		n.mu.Unlock()
		if !drop {
			continue
		}
		if state == StateFailed {
			if _, ok := m.pool.Get(id); ok {
				continue
			}
		}
		delete(m.negotiations, id)
		m.board.Remove(id)
		evicted++
	}
	for id, at := range m.cancelled {
		if at.Before(cutoff) {
			delete(m.cancelled, id)
		}
	}
	return evicted
}
