package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classline/classline/pkg/logger"
	"github.com/classline/classline/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	sendBufferSize = 64
)

// Message is the JSON payload pushed to realtime subscribers. Stream names
// the channel the payload belongs to; Event names what happened on it.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub multiplexes named streams over per-user websocket connections. A
// connection may listen on any subset of its allowed streams and can adjust
// that subset at runtime with subscribe/unsubscribe control messages.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]map[*connection]struct{}
	upgrader      websocket.Upgrader
	log           *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[string]map[*connection]struct{}),
		log:           logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrLoopback,
		},
	}
}

// Browsers send an Origin header; non-browser clients usually do not, and
// those already authenticated via token.
func sameOriginOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := hostWithoutPort(origin)
	return host == hostWithoutPort(r.Host) || isLoopback(host)
}

// Serve upgrades the request to a websocket, registers the connection on the
// requested streams and blocks until the peer goes away. A nil allowed set
// permits every stream.
func (h *Hub) Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &connection{
		hub:     h,
		socket:  sock,
		userID:  userID,
		send:    make(chan Message, sendBufferSize),
		allowed: allowed,
	}
	h.subscribe(conn, streams)
	metrics.WebsocketClients.Inc()

	go conn.writeLoop()
	conn.readLoop()
}

// BroadcastToUser delivers a message to every connection the user holds on a stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.subscriptions[stream][userID] {
		message.Stream = stream
		h.push(conn, message)
	}
}

// BroadcastToUsers delivers a message to each listed user on the stream.
func (h *Hub) BroadcastToUsers(stream string, userIDs []string, message Message) {
	for _, userID := range userIDs {
		h.BroadcastToUser(stream, userID, message)
	}
}

// BroadcastStream delivers a message to every subscriber of the stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	message.Stream = stream
	for _, conns := range h.subscriptions[stream] {
		for conn := range conns {
			h.push(conn, message)
		}
	}
}

func (h *Hub) subscribe(conn *connection, streams []string) {
	streams = uniqueStreams(streams)
	if len(streams) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range streams {
		if !conn.mayListen(stream) {
			h.log.Warn("ignoring unauthorized stream",
				zap.String("stream", stream),
				zap.String("user_id", conn.userID))
			continue
		}
		h.attachLocked(conn, stream)
	}
}

func (h *Hub) attachLocked(conn *connection, stream string) {
	if conn.streams == nil {
		conn.streams = make(map[string]struct{})
	}
	if _, ok := conn.streams[stream]; ok {
		return
	}
	conn.streams[stream] = struct{}{}

	byUser := h.subscriptions[stream]
	if byUser == nil {
		byUser = make(map[string]map[*connection]struct{})
		h.subscriptions[stream] = byUser
	}
	conns := byUser[conn.userID]
	if conns == nil {
		conns = make(map[*connection]struct{})
		byUser[conn.userID] = conns
	}
	conns[conn] = struct{}{}
}

func (h *Hub) unsubscribe(conn *connection, streams []string) {
	streams = uniqueStreams(streams)
	if len(streams) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range streams {
		h.detachLocked(conn, stream)
		delete(conn.streams, stream)
	}
}

func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range conn.streams {
		h.detachLocked(conn, stream)
	}
	conn.streams = nil
}

func (h *Hub) detachLocked(conn *connection, stream string) {
	byUser := h.subscriptions[stream]
	conns := byUser[conn.userID]
	if conns == nil {
		return
	}

	delete(conns, conn)
	if len(conns) == 0 {
		delete(byUser, conn.userID)
	}
	if len(byUser) == 0 {
		delete(h.subscriptions, stream)
	}
}

// push hands the message to the connection's writer without blocking the
// broadcast path. A full buffer means the peer stopped draining; it gets
// disconnected and is expected to reconnect and resync.
func (h *Hub) push(conn *connection, message Message) {
	select {
	case conn.send <- message:
	default:
		h.log.Warn("dropping backpressure client", zap.String("user_id", conn.userID))
		// close re-acquires the hub lock; broadcasts hold it for reading.
		go conn.close()
	}
}

type connection struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	streams map[string]struct{}
	send    chan Message
	once    sync.Once
	allowed map[string]struct{}
}

func (c *connection) mayListen(stream string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[stream]
	return ok
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}
		c.handleControl(payload)
	}
}

func (c *connection) handleControl(payload []byte) {
	var ctrl controlMessage
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		c.hub.log.Debug("invalid control payload", zap.String("user_id", c.userID), zap.Error(err))
		return
	}

	switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
	case "subscribe":
		c.hub.subscribe(c, ctrl.Streams)
	case "unsubscribe":
		c.hub.unsubscribe(c, ctrl.Streams)
	case "ping":
		c.send <- Message{Event: "pong"}
	default:
		c.hub.log.Debug("unsupported control action",
			zap.String("action", ctrl.Action),
			zap.String("user_id", c.userID))
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.send)
		_ = c.socket.Close()
		metrics.WebsocketClients.Dec()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil && parsed.Host != "" {
			host = parsed.Host
		}
	}

	if bare, _, err := net.SplitHostPort(host); err == nil {
		return bare
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	out := make([]string, 0, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, dup := seen[stream]; dup {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
