package communication

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/logging"
)

type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventNegotiationStarted   = "NEGOTIATION_STARTED"
	EventCascadeSelected      = "CASCADE_SELECTED"
	EventOfferReceived        = "OFFER_RECEIVED"
	EventBarrierFired         = "BARRIER_FIRED"
	EventRoundTwo             = "ROUND_TWO"
	EventResultReady          = "RESULT_READY"
	EventNegotiationFailed    = "NEGOTIATION_FAILED"
	EventNegotiationCancelled = "NEGOTIATION_CANCELLED"
	EventAgentRegistered      = "AGENT_REGISTERED"
	EventEchoRecorded         = "ECHO_RECORDED"
)

const broadcastBuffer = 256

// Hub fans events out to every connected websocket client.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan WSEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	// OnConnections, if set, receives +1/-1 as clients come and go.
	OnConnections func(delta int)
	logger        *logrus.Entry
}

// NewHub creates a hub and starts its event loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan WSEvent, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logging.For("hub"),
	}
	go h.run()
	return h
}

func (h *Hub) connections(delta int) {
	if h.OnConnections != nil {
		h.OnConnections(delta)
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.connections(1)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.connections(-1)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					h.logger.WithError(err).Debug("dropping websocket client")
					client.Close()
					delete(h.clients, client)
					h.connections(-1)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues an event for every client. It never blocks a caller:
// when the queue is full the event is dropped.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- WSEvent{Type: eventType, Payload: payload}:
	case <-h.done:
	default:
		h.logger.WithField("type", eventType).Warn("websocket queue full, event dropped")
	}
}

// Register adds a client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
	}
}

// Unregister removes and closes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and ends the loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
