package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/escape-exam/score-service/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate carries the current top page
type LeaderboardUpdate struct {
	Scores []domain.LeaderboardEntry `json:"scores"`
}

// SnapshotFunc returns the page a newly connected client starts from
type SnapshotFunc func(ctx context.Context) ([]domain.LeaderboardEntry, error)

// Hub maintains the set of connected clients and fans leaderboard pages out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu       sync.RWMutex
	logger   *slog.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub. allowedOrigins limits browser origins; "*" allows any.
func NewHub(logger *slog.Logger, snapshot SnapshotFunc, allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger,
		snapshot:   snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			// Closing the connection ends both pumps; send stays open because
			// readPump may still be queueing a reply.
			for client := range h.clients {
				delete(h.clients, client)
				client.conn.Close()
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case data := <-h.broadcast:
			h.fanOut(data)
		}
	}
}

// Stop stops the hub and closes every client
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// BroadcastLeaderboard pushes the given top page to every connected client
func (h *Hub) BroadcastLeaderboard(entries []domain.LeaderboardEntry) {
	data, err := encode(MessageTypeLeaderboardUpdate, LeaderboardUpdate{Scores: entries})
	if err != nil {
		h.logger.Error("failed to marshal leaderboard update", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping leaderboard update")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the connection to the hub. The
// client first receives the current leaderboard page.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h, conn, h.logger)
	if h.snapshot != nil {
		entries, err := h.snapshot(r.Context())
		if err != nil {
			h.logger.Warn("loading leaderboard snapshot", "error", err)
			client.sendError("leaderboard unavailable")
		} else if data, err := encode(MessageTypeLeaderboardUpdate, LeaderboardUpdate{Scores: entries}); err == nil {
			client.send <- data
		}
	}
	h.Register(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	h.logger.Debug("new websocket connection", "client_id", client.id)
}

func encode(messageType string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
