package core

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/NatureBlueee/Towow-sub000/logging"
)

// Subjects used on the message bus.
const (
	SubjectSignalBroadcast = "signal.broadcast"
	SubjectSignalOffers    = "signal.offers"
	SubjectWorkflowCreated = "workflow.created"
)

// WorkflowEventsSubject is where an external workflow publishes lifecycle events.
func WorkflowEventsSubject(ref string) string {
	return fmt.Sprintf("workflow.%s.events", ref)
}

// NATSBroker encapsulates a NATS connection.
type NATSBroker struct {
	Conn *nats.Conn
}

// NewNATSBroker creates a new NATSBroker connected to the provided URL.
func NewNATSBroker(url string) (*NATSBroker, error) {
	nc, err := nats.Connect(url,
		nats.Name("resonance-core"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	logging.For("broker").WithField("url", url).Info("connected to NATS")
	return &NATSBroker{Conn: nc}, nil
}

// Publish sends data on the provided subject.
func (b *NATSBroker) Publish(subject string, data []byte) error {
	logging.For("broker").WithField("subject", subject).Debug("publishing")
	return b.Conn.Publish(subject, data)
}

// PublishJSON encodes v and publishes it on subject.
func (b *NATSBroker) PublishJSON(subject string, v interface{}) error {
	data, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	return b.Publish(subject, data)
}

// Subscribe registers a callback for a specific subject.
func (b *NATSBroker) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return b.Conn.Subscribe(subject, cb)
}

// Close drains and closes the connection.
func (b *NATSBroker) Close() {
	if b == nil || b.Conn == nil {
		return
	}
	if err := b.Conn.Drain(); err != nil {
		b.Conn.Close()
	}
}
