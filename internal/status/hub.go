package status

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub pushes status snapshots to websocket clients so a dashboard can render
// stage verdicts live instead of polling.
type Hub struct {
	pub       *Publisher
	logger    *log.Logger
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
}

func NewHub(pub *Publisher, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		pub:     pub,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type statusMessage struct {
	Type      string   `json:"type"`
	Status    Snapshot `json:"status"`
	Timestamp int64    `json:"timestamp"`
}

// Run forwards published snapshots to every connected client until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	updates := h.pub.Subscribe()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case snap := <-updates:
			h.broadcast(statusMessage{
				Type:      "status",
				Status:    snap,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

// HandleWebSocket upgrades the request and keeps the connection alive. The
// read loop exists only to detect disconnects; clients are not expected to
// send anything.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws: upgrade error: %v", err)
		return
	}

	// Current state first, so a fresh dashboard is never blank. This write
	// must happen before the conn is registered: once registered, broadcast
	// owns the conn's write side, and gorilla conns do not tolerate
	// concurrent writers.
	conn.WriteJSON(statusMessage{
		Type:      "status",
		Status:    h.pub.Current(),
		Timestamp: time.Now().UnixMilli(),
	})

	h.register(conn)
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	const (
		writeWait      = 10 * time.Second
		pongWait       = 60 * time.Second
		pingPeriod     = (pongWait * 9) / 10
		maxMessageSize = 512
	)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.clients[conn] = true
	h.logger.Printf("ws: client connected, total %d", len(h.clients))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Printf("ws: client disconnected, total %d", len(h.clients))
	}
}

func (h *Hub) broadcast(msg statusMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("ws: marshal error: %v", err)
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
