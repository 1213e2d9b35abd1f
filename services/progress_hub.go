package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	MaxProgressClients   = 50 // Maximum concurrent WebSocket clients
	ProgressWriteTimeout = 10 * time.Second
	ProgressPongTimeout  = 60 * time.Second
	ProgressPingInterval = 30 * time.Second
)

// HubMessage is a message broadcast to progress subscribers
type HubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

type progressClient struct {
	conn *websocket.Conn
	send chan []byte
}

// ProgressHub pushes scrape progress and scheduler state changes to
// WebSocket clients. The scraper goroutine is the only producer;
// clients are read-only consumers.
type ProgressHub struct {
	clients    map[*progressClient]bool
	broadcast  chan HubMessage
	register   chan *progressClient
	unregister chan *progressClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	tracker *ProgressTracker
}

// NewProgressHub creates the hub and starts its dispatch loop.
func NewProgressHub(tracker *ProgressTracker) *ProgressHub {
	hub := &ProgressHub{
		clients:    make(map[*progressClient]bool),
		broadcast:  make(chan HubMessage, 256),
		register:   make(chan *progressClient),
		unregister: make(chan *progressClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		tracker: tracker,
	}

	go hub.run()

	return hub
}

// Shutdown closes every client connection and stops the dispatch loop.
func (h *ProgressHub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*progressClient]bool)
	h.mu.Unlock()

	log.Println("Progress hub shutdown complete")
}

func (h *ProgressHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxProgressClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("Progress client rejected: max clients reached (%d)", MaxProgressClients)
				continue
			}
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("Progress client connected. Total clients: %d", clientCount)

			// New clients get the current snapshot right away
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("Progress client disconnected. Total clients: %d", clientCount)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling progress message: %v", err)
				continue
			}

			h.mu.Lock()
			deadClients := make([]*progressClient, 0)
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, mark for removal
					deadClients = append(deadClients, client)
				}
			}
			for _, client := range deadClients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

func (h *ProgressHub) sendSnapshot(client *progressClient) {
	if h.tracker == nil {
		return
	}
	msg := HubMessage{
		Type: "progress",
		Data: h.tracker.Snapshot(),
		Time: time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// HandleWebSocket upgrades the connection and attaches it to the hub
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxProgressClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &progressClient{
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump writes queued messages and keepalive pings to the client
func (c *progressClient) writePump() {
	ticker := time.NewTicker(ProgressPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(ProgressWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(ProgressWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are seen.
// Clients have nothing to say; inbound payloads are discarded.
func (c *progressClient) readPump(h *ProgressHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(ProgressPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(ProgressPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}
	}
}

// Broadcast queues a message for every connected client.
func (h *ProgressHub) Broadcast(msgType string, data interface{}) {
	select {
	case h.broadcast <- HubMessage{
		Type: msgType,
		Data: data,
		Time: time.Now().Format(time.RFC3339),
	}:
	default:
		// Hub queue full, drop rather than block the scraper
	}
}

// ClientCount returns the number of connected clients
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
