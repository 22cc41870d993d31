package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutcomeKind is something that actually happened in the world.
type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered"
	OutcomeConfirmed OutcomeKind = "confirmed"
	OutcomeSettled   OutcomeKind = "settled"
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
)

// EchoSource names where an outcome was observed. Every value is external to
// the negotiation core. Aggregator output has no source value.
type EchoSource string

const (
	SourceWorkflow    EchoSource = "workflow"
	SourceMessaging   EchoSource = "messaging"
	SourceCounterpart EchoSource = "counterpart"
	SourceOperator    EchoSource = "operator"
)

// ExternalSource reports whether s is one of the accepted external sources.
func ExternalSource(s EchoSource) bool {
	switch s {
	case SourceWorkflow, SourceMessaging, SourceCounterpart, SourceOperator:
		return true
	}
	return false
}

// Positive reports whether the outcome counts as a success.
func (k OutcomeKind) Positive() bool {
	switch k {
	case OutcomeDelivered, OutcomeConfirmed, OutcomeSettled, OutcomeCompleted:
		return true
	}
	return false
}

// Valid reports whether k is a known outcome.
func (k OutcomeKind) Valid() bool {
	return k.Positive() || k == OutcomeFailed
}

// EchoEvent records an externally verifiable outcome for one agent.
type EchoEvent struct {
	AgentID       string          `json:"agent_id"`
	NegotiationID string          `json:"negotiation_id,omitempty"`
	SceneID       string          `json:"scene_id,omitempty"`
	Kind          OutcomeKind     `json:"outcome_kind"`
	Source        EchoSource      `json:"source"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Confirmations int             `json:"confirmations,omitempty"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Validate checks the structural fields of the event.
func (e EchoEvent) Validate() error {
	if e.AgentID == "" {
		return fmt.Errorf("echo event has no agent id")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown outcome kind %q", e.Kind)
	}
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("echo event for %s has no observation time", e.AgentID)
	}
	return nil
}

// Experience is the append-only record a data source receives from the echo collector.
type Experience struct {
	Kind          OutcomeKind `json:"kind"`
	Summary       string      `json:"summary"`
	Weight        float64     `json:"weight"`
	LowConfidence bool        `json:"low_confidence,omitempty"`
	NegotiationID string      `json:"negotiation_id,omitempty"`
	ObservedAt    time.Time   `json:"observed_at"`
}

// WorkflowNotice announces the external workflow a Contract result refers to.
// The core publishes it and listens for lifecycle events; it never runs it.
type WorkflowNotice struct {
	WorkflowRef   string    `json:"workflow_ref"`
	NegotiationID string    `json:"negotiation_id"`
	SceneID       string    `json:"scene_id,omitempty"`
	Parties       []string  `json:"parties"`
	CreatedAt     time.Time `json:"created_at"`
}
