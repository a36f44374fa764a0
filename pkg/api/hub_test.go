package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshradar/meshradar/pkg/models"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.serveLive))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients", want)
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPublishReachesSubscriber(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	waitForClients(t, hub, 1)

	sent := &models.Packet{
		PacketID: 42,
		From:     0x12345678,
		Port:     models.PortTextMessage,
		PortName: "text",
	}
	hub.Publish(sent)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var got models.Packet
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint32(42), got.PacketID)
	assert.Equal(t, uint32(0x12345678), got.From)
}

func TestHubSubscriberDisconnect(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)

	// Publishing to an empty hub is a no-op.
	hub.Publish(&models.Packet{PacketID: 1})
}
