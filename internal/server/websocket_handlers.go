package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 64
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, you should check against allowed origins
		return true
	},
}

// Message types sent to websocket clients.
const (
	MessageFrame  = "frame"
	MessageResult = "result"
	MessageStatus = "status"
)

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans presenter callbacks out to websocket clients. It implements
// pipeline.Presenter and never blocks the caller: a client whose buffer is
// full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *slog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*wsClient]struct{}), logger: logger}
}

func (h *Hub) OnFrameDisplayed(frame pipeline.FrameInfo) {
	h.broadcast(WebSocketMessage{Type: MessageFrame, Payload: frame})
}

func (h *Hub) OnExtractionResult(result *pipeline.ExtractionResult) {
	h.broadcast(WebSocketMessage{Type: MessageResult, Payload: result})
}

func (h *Hub) OnStatus(message string) {
	h.broadcast(WebSocketMessage{Type: MessageStatus, Payload: message})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg WebSocketMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", "type", msg.Type, "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	websocketConnections.Inc()
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	websocketConnections.Dec()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
		websocketConnections.Dec()
	}
}

// eventsWebSocketHandler streams session events to a client.
func (s *Server) eventsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !s.hub.register(c) {
		_ = conn.Close()
		return
	}
	s.log().Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	go s.hub.writePump(c)
	s.hub.readPump(c)
}

// readPump discards client messages and unregisters the client once the
// connection drops.
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "error", err)
			}
			return
		}
	}
}

// writePump owns all writes to the connection.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Failed to send WebSocket message", "error", err)
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
