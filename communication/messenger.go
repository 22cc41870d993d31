package communication

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// PrivateSubject is the direct channel of one agent.
func PrivateSubject(agentID string) string {
	return fmt.Sprintf("agent.%s.private", agentID)
}

// RoundTwoSubject carries the announcement of a negotiation's peer exchange.
func RoundTwoSubject(negotiationID string) string {
	return fmt.Sprintf("negotiation.%s.round2", negotiationID)
}

// RepliesSubject is where round-two participants publish their replies.
func RepliesSubject(negotiationID string) string {
	return fmt.Sprintf("negotiation.%s.replies", negotiationID)
}

// Messenger encapsulates a NATS connection.
type Messenger struct {
	NC *nats.Conn
}

// NewMessenger connects to url.
func NewMessenger(url string) (*Messenger, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Messenger{NC: nc}, nil
}

// NewMessengerFromConn shares an existing connection.
func NewMessengerFromConn(nc *nats.Conn) *Messenger {
	return &Messenger{NC: nc}
}

// PublishGlobal publishes v as JSON on a shared subject every listener sees.
func (m *Messenger) PublishGlobal(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.NC.Publish(subject, data)
}

// PublishPrivate sends a message directly to a specific agent by using a private subject.
func (m *Messenger) PublishPrivate(agentID string, data []byte) error {
	return m.NC.Publish(PrivateSubject(agentID), data)
}

// PublishPrivateJSON encodes v and sends it to agentID.
func (m *Messenger) PublishPrivateJSON(agentID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.PublishPrivate(agentID, data)
}

// SubscribeGlobal subscribes to a shared subject.
func (m *Messenger) SubscribeGlobal(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return m.NC.Subscribe(subject, handler)
}

// SubscribePrivate subscribes to private messages for an agent.
func (m *Messenger) SubscribePrivate(agentID string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return m.NC.Subscribe(PrivateSubject(agentID), handler)
}
