package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/logging"
)

// Workflow lifecycle stages published by external workflow runners.
const (
	StageCreated   = "created"
	StageAccepted  = "accepted"
	StageDelivered = "delivered"
	StageConfirmed = "confirmed"
	StageSettled   = "settled"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

var stageOutcomes = map[string]core.OutcomeKind{
	StageDelivered: core.OutcomeDelivered,
	StageConfirmed: core.OutcomeConfirmed,
	StageSettled:   core.OutcomeSettled,
	StageCompleted: core.OutcomeCompleted,
	StageFailed:    core.OutcomeFailed,
}

// WorkflowEvent is one lifecycle event on workflow.<ref>.events.
type WorkflowEvent struct {
	WorkflowRef   string          `json:"workflow_ref"`
	Stage         string          `json:"stage"`
	AgentID       string          `json:"agent_id,omitempty"` // empty applies to every party
	Confirmations int             `json:"confirmations,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	At            time.Time       `json:"at"`
}

// Recorder accepts echo events.
type Recorder interface {
	Record(ctx context.Context, ev core.EchoEvent) error
}

type watch struct {
	notice core.WorkflowNotice
	sub    *nats.Subscription
}

// WorkflowListener follows the external workflows of contracts and converts
// their lifecycle events into echo events for the contract parties.
type WorkflowListener struct {
	broker   *core.NATSBroker
	recorder Recorder
	timeout  time.Duration

	mu      sync.Mutex
	watches map[string]*watch

	logger *logrus.Entry
}

// NewWorkflowListener creates a listener recording through rec.
func NewWorkflowListener(broker *core.NATSBroker, rec Recorder) *WorkflowListener {
	return &WorkflowListener{
		broker:   broker,
		recorder: rec,
		timeout:  10 * time.Second,
		watches:  make(map[string]*watch),
		logger:   logging.For("workflow-listener"),
	}
}

// Watch subscribes to the lifecycle events of the notice's workflow.
func (l *WorkflowListener) Watch(notice core.WorkflowNotice) error {
	if notice.WorkflowRef == "" {
		return fmt.Errorf("workflow notice for %s has no reference", notice.NegotiationID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.watches[notice.WorkflowRef]; ok {
		return nil
	}
	sub, err := l.broker.Subscribe(core.WorkflowEventsSubject(notice.WorkflowRef), func(msg *nats.Msg) {
		l.handle(notice, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("watch workflow %s: %w", notice.WorkflowRef, err)
	}
	l.watches[notice.WorkflowRef] = &watch{notice: notice, sub: sub}
	l.logger.WithFields(logrus.Fields{
		"workflow_ref":   notice.WorkflowRef,
		"negotiation_id": notice.NegotiationID,
	}).Info("Watching workflow")
	return nil
}

// Watching returns the number of workflows being followed.
func (l *WorkflowListener) Watching() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watches)
}

// Unwatch stops following a workflow.
func (l *WorkflowListener) Unwatch(ref string) {
	l.mu.Lock()
	w, ok := l.watches[ref]
	delete(l.watches, ref)
	l.mu.Unlock()
	if ok {
		_ = w.sub.Unsubscribe()
	}
}

// Close stops following every workflow.
func (l *WorkflowListener) Close() {
	l.mu.Lock()
	refs := make([]string, 0, len(l.watches))
	for ref := range l.watches {
		refs = append(refs, ref)
	}
	l.mu.Unlock()
	for _, ref := range refs {
		l.Unwatch(ref)
	}
}

func (l *WorkflowListener) handle(notice core.WorkflowNotice, data []byte) {
	log := l.logger.WithField("workflow_ref", notice.WorkflowRef)
	var ev WorkflowEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.WithError(err).Warn("Malformed workflow event")
		return
	}
	kind, isOutcome := stageOutcomes[ev.Stage]
	if !isOutcome {
		log.WithField("stage", ev.Stage).Debug("Workflow progressed")
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	parties := notice.Parties
	if ev.AgentID != "" {
		parties = nil
		for _, p := range notice.Parties {
			if p == ev.AgentID {
				parties = []string{p}
			}
		}
		if parties == nil {
			log.WithField("agent_id", ev.AgentID).Warn("Workflow event for an agent outside the contract")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	for _, agentID := range parties {
		err := l.recorder.Record(ctx, core.EchoEvent{
			AgentID:       agentID,
			NegotiationID: notice.NegotiationID,
			SceneID:       notice.SceneID,
			Kind:          kind,
			Source:        core.SourceWorkflow,
			Payload:       ev.Payload,
			Confirmations: ev.Confirmations,
			ObservedAt:    ev.At,
		})
		if err != nil {
			log.WithError(err).WithField("agent_id", agentID).Warn("Workflow echo not recorded")
		}
	}

	if ev.Stage == StageCompleted || ev.Stage == StageFailed {
		l.Unwatch(notice.WorkflowRef)
	}
}
