package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signal is the broadcast unit. It lives only as long as the negotiation that consumes it.
type Signal struct {
	ID            string    `json:"id"`
	Payload       string    `json:"payload"`
	OriginAgentID string    `json:"origin_agent_id,omitempty"`
	SceneID       string    `json:"scene_id,omitempty"`
	Scope         []string  `json:"scope,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewSignal creates a Signal with a fresh id.
func NewSignal(payload, originAgentID, sceneID string, scope []string) (Signal, error) {
	if strings.TrimSpace(payload) == "" {
		return Signal{}, fmt.Errorf("%w: signal payload is empty", ErrInvalidInput)
	}
	return Signal{
		ID:            uuid.New().String(),
		Payload:       payload,
		OriginAgentID: originAgentID,
		SceneID:       sceneID,
		Scope:         scope,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Offer is a candidate response to a Signal.
type Offer struct {
	AgentID    string    `json:"agent_id"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Round      int       `json:"round"`
}

// Validate checks the offer is usable by aggregation.
func (o Offer) Validate() error {
	if o.AgentID == "" {
		return fmt.Errorf("offer has no agent id")
	}
	if strings.TrimSpace(o.Content) == "" {
		return fmt.Errorf("offer from %s has no content", o.AgentID)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("offer from %s has confidence %.3f outside [0,1]", o.AgentID, o.Confidence)
	}
	return nil
}
