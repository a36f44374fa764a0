package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshradar/meshradar/pkg/models"
)

const (
	clientSendBuffer = 32
	writeTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from anywhere; the feed is read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

type liveClient struct {
	conn *websocket.Conn
	send chan *models.Packet
}

// Hub fans freshly ingested packets out to websocket subscribers. Publish
// never blocks the capture pipeline: a subscriber that cannot keep up is
// dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*liveClient]struct{})}
}

// Publish delivers a committed packet to every subscriber. It is the
// capture pipeline's sink.
func (h *Hub) Publish(p *models.Packet) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- p:
		default:
			// Slow consumer; closing send makes its writer exit.
			go h.remove(client)
		}
	}
}

// ClientCount reports the current number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *Hub) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	client := &liveClient{
		conn: conn,
		send: make(chan *models.Packet, clientSendBuffer),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

func (h *Hub) writeLoop(client *liveClient) {
	defer func() {
		if err := client.conn.Close(); err != nil {
			log.Printf("Error closing websocket connection: %v", err)
		}
	}()

	for pkt := range client.send {
		if err := client.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			h.remove(client)
			return
		}

		if err := client.conn.WriteJSON(pkt); err != nil {
			h.remove(client)
			return
		}
	}
}

// readLoop discards inbound frames; the feed is one-way, but reading is
// required to notice the peer closing.
func (h *Hub) readLoop(client *liveClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *Hub) remove(client *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)
}
