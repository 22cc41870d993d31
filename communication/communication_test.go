package communication

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardThreads(t *testing.T) {
	b := NewBoard()
	b.CreateThread("n1", "round two", "coordinator")
	_, err := b.AddReply("n1", "alice", "I also hold a liquor licence")
	require.NoError(t, err)
	_, err = b.AddReply("missing", "bob", "x")
	assert.Error(t, err)

	th, err := b.GetThread("n1")
	require.NoError(t, err)
	require.Len(t, th.Messages, 1)
	assert.Equal(t, "alice", th.Messages[0].Sender)
	assert.Equal(t, []string{"n1"}, b.Threads())

	b.Remove("n1")
	_, err = b.GetThread("n1")
	assert.Error(t, err)
}

func TestMessengerPrivateSubject(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	defer s.Shutdown()

	m, err := NewMessenger(s.ClientURL())
	require.NoError(t, err)
	defer m.NC.Close()

	got := make(chan string, 1)
	_, err = m.SubscribePrivate("alice", func(msg *nats.Msg) { got <- string(msg.Data) })
	require.NoError(t, err)
	require.NoError(t, m.NC.Flush())

	require.NoError(t, m.PublishPrivateJSON("alice", map[string]string{"q": "availability?"}))
	select {
	case data := <-got:
		assert.JSONEq(t, `{"q":"availability?"}`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("private message not delivered")
	}
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(EventResultReady, map[string]string{"negotiation_id": "n1"})

	var ev WSEvent
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, client.ReadJSON(&ev))
	assert.Equal(t, EventResultReady, ev.Type)
}

func TestNilHubBroadcastIsNoop(t *testing.T) {
	var h *Hub
	h.Broadcast(EventOfferReceived, nil)
}
