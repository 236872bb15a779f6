package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/earthring/terrain/internal/auth"
	"github.com/earthring/terrain/internal/compression"
	"github.com/earthring/terrain/internal/terrain"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "terrain-v1"

	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second

	// Maximum size of a client message
	maxMessageSize = 4096

	sendBuffer   = 256
	commitBuffer = 1024
)

// Message types sent to viewers
const (
	MessageChunkMesh    = "chunk_mesh"
	MessageChunkCleared = "chunk_cleared"
	MessagePong         = "pong"
	MessageError        = "error"
)

// WebSocketConnection represents an active WebSocket connection
type WebSocketConnection struct {
	conn    *websocket.Conn
	subject string
	role    string
	version string
	send    chan []byte
	hub     *WebSocketHub
	// closed is set under hub.mu when send is closed
	closed bool
}

// WebSocketHub fans committed meshes out to every connected viewer
type WebSocketHub struct {
	connections map[*WebSocketConnection]bool
	broadcast   chan []byte
	commits     chan terrain.CommitEvent
	register    chan *WebSocketConnection
	unregister  chan *WebSocketConnection
	done        chan struct{}
	mu          sync.RWMutex
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChunkMeshMessage carries one committed chunk mesh
type ChunkMeshMessage struct {
	Chunk     terrain.Index                   `json:"chunk"`
	TaskID    string                          `json:"task_id,omitempty"`
	Layout    string                          `json:"layout,omitempty"`
	Detail    int                             `json:"detail"`
	Seam      string                          `json:"seam,omitempty"`
	Triangles int                             `json:"triangles"`
	SeamQuads []int                           `json:"seam_quads,omitempty"`
	BuildMS   float64                         `json:"build_ms,omitempty"`
	Geometry  *compression.CompressedGeometry `json:"geometry,omitempty"`
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		connections: make(map[*WebSocketConnection]bool),
		broadcast:   make(chan []byte, sendBuffer),
		commits:     make(chan terrain.CommitEvent, commitBuffer),
		register:    make(chan *WebSocketConnection),
		unregister:  make(chan *WebSocketConnection),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop. It closes every connection when ctx is done.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("[WS] Connection registered: subject=%s, version=%s", conn.subject, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				h.drop(conn)
			}
			h.mu.Unlock()
			log.Printf("[WS] Connection unregistered: subject=%s", conn.subject)

		case event := <-h.commits:
			message, err := encodeCommit(event)
			if err != nil {
				log.Printf("[WS] Failed to encode commit for chunk %s: %v", event.Task.Index, err)
				continue
			}
			h.fanOut(message)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.connections {
				h.drop(conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WebSocketHub) fanOut(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		select {
		case conn.send <- message:
		default:
			// Slow viewer; drop it rather than stall the hub.
			h.drop(conn)
		}
	}
}

// drop forgets conn and closes its send channel. h.mu must be held.
func (h *WebSocketHub) drop(conn *WebSocketConnection) {
	delete(h.connections, conn)
	if !conn.closed {
		conn.closed = true
		close(conn.send)
	}
}

// Broadcast sends a message to all connected clients
func (h *WebSocketHub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// BroadcastCommit queues a commit for encoding and delivery. It never blocks
// so it is safe to call from a commit hook on the owner context.
func (h *WebSocketHub) BroadcastCommit(event terrain.CommitEvent) {
	select {
	case h.commits <- event:
	default:
		log.Printf("[WS] Commit queue full, dropping mesh for chunk %s", event.Task.Index)
	}
}

// ConnectionCount returns the number of connected viewers
func (h *WebSocketHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// encodeCommit builds the chunk_mesh (or chunk_cleared) message for a commit
func encodeCommit(event terrain.CommitEvent) ([]byte, error) {
	payload := ChunkMeshMessage{
		Chunk:     event.Task.Index,
		TaskID:    event.Task.ID.String(),
		Layout:    event.Task.Params.Layout.String(),
		Detail:    event.Task.Params.Detail,
		Seam:      event.Task.Params.Seam.String(),
		Triangles: event.Result.TriangleCount(),
		SeamQuads: event.SeamQuads,
		BuildMS:   float64(event.BuildTime.Microseconds()) / 1000,
	}

	messageType := MessageChunkCleared
	if !event.Cleared() {
		geometry, err := compression.CompressAndFormatMesh(event.Result)
		if err != nil {
			return nil, err
		}
		payload.Geometry = geometry
		messageType = MessageChunkMesh
	}
	return encodeMessage(messageType, "", payload)
}

func encodeMessage(messageType, id string, payload any) ([]byte, error) {
	msg := WebSocketMessage{Type: messageType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// WebSocketHandlers handles WebSocket connections
type WebSocketHandlers struct {
	hub      *WebSocketHub
	manager  *terrain.Manager
	upgrader websocket.Upgrader
}

// NewWebSocketHandlers creates a new WebSocket handlers instance. Requests
// without an Origin header (non-browser viewers) are always accepted.
func NewWebSocketHandlers(hub *WebSocketHub, manager *terrain.Manager, originAllowed func(string) bool) *WebSocketHandlers {
	return &WebSocketHandlers{
		hub:     hub,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin)
			},
		},
	}
}

// HandleWebSocket handles WebSocket connection upgrades. It must run behind
// auth.Middleware.RequireToken.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.GetSubject(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	role, _ := auth.GetRole(r)

	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		log.Printf("[WS] Version negotiation failed: requested=%s", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	var responseHeaders http.Header
	if requestedVersions != "" {
		responseHeaders = http.Header{}
		responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	wsConn := &WebSocketConnection{
		conn:    conn,
		subject: subject,
		role:    role,
		version: selectedVersion,
		send:    make(chan []byte, sendBuffer),
		hub:     h.hub,
	}

	select {
	case h.hub.register <- wsConn:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go wsConn.writePump()
	go wsConn.readPump(h)
}

// negotiateVersion selects the highest supported protocol version
func negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		for _, candidate := range strings.Split(requested, ",") {
			if strings.TrimSpace(candidate) == supported {
				return supported
			}
		}
	}
	return ""
}

// readPump handles incoming messages from the WebSocket connection
func (c *WebSocketConnection) readPump(handlers *WebSocketHandlers) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] Failed to close connection: %v", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[WS] Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}

		handlers.handleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the WebSocket connection
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One JSON document per frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queue sends message without blocking; a full buffer drops it
func (c *WebSocketConnection) queue(message []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		log.Printf("[WS] Connection %s closed, dropping message", c.subject)
		return
	}
	select {
	case c.send <- message:
	default:
		log.Printf("[WS] Send buffer full for %s, dropping message", c.subject)
	}
}

// sendError sends an error message to the client
func (c *WebSocketConnection) sendError(id, errorMsg, code string) {
	messageBytes, err := json.Marshal(WebSocketError{
		Type:    MessageError,
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
	if err != nil {
		log.Printf("[WS] Failed to marshal error message: %v", err)
		return
	}
	c.queue(messageBytes)
}

// handleMessage routes messages to appropriate handlers
func (h *WebSocketHandlers) handleMessage(conn *WebSocketConnection, msg *WebSocketMessage) {
	switch msg.Type {
	case "ping":
		h.handlePing(conn, msg)
	case "snapshot":
		h.handleSnapshot(conn, msg)
	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

// handlePing responds to ping messages
func (h *WebSocketHandlers) handlePing(conn *WebSocketConnection, msg *WebSocketMessage) {
	response, err := encodeMessage(MessagePong, msg.ID, nil)
	if err != nil {
		log.Printf("[WS] Failed to marshal pong response: %v", err)
		return
	}
	conn.queue(response)
}

// handleSnapshot sends the active mesh of every chunk so a late viewer can
// catch up before live commits arrive.
func (h *WebSocketHandlers) handleSnapshot(conn *WebSocketConnection, msg *WebSocketMessage) {
	sent := 0
	for _, chunk := range h.manager.Chunks() {
		s, ok := h.manager.Surface(chunk.Index())
		if !ok {
			continue
		}
		active := s.Active()
		if active.Empty() {
			continue
		}

		status := chunk.Status()
		geometry, err := compression.CompressAndFormatMesh(active)
		if err != nil {
			log.Printf("[WS] Failed to compress chunk %s: %v", chunk.Index(), err)
			continue
		}
		message, err := encodeMessage(MessageChunkMesh, msg.ID, ChunkMeshMessage{
			Chunk:     chunk.Index(),
			Layout:    status.Layout,
			Detail:    status.Detail,
			Seam:      status.Seam,
			Triangles: active.TriangleCount(),
			Geometry:  geometry,
		})
		if err != nil {
			log.Printf("[WS] Failed to encode chunk %s: %v", chunk.Index(), err)
			continue
		}
		conn.queue(message)
		sent++
	}
	log.Printf("[WS] Snapshot of %d chunks sent to %s", sent, conn.subject)
}
