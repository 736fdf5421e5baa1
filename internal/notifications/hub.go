package notifications

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Event is the payload pushed to notification subscribers.
type Event struct {
	Event          string `json:"event"`
	Notification   any    `json:"notification,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	UnreadCount    *int64 `json:"unread_count,omitempty"`
}

const (
	clientSendBuffer = 16
	connectionTTL    = 5 * time.Minute
)

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans notification events out to each user's connected clients. Delivery
// is fire-and-forget: a client that stops draining its buffer loses events,
// and the persisted notification row remains the source of truth.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub constructs an empty notification hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Serve upgrades the request to a websocket and pumps events to the peer
// until it disconnects or the connection TTL lapses.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			config.Protocol = append(config.Protocol, "json")
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			h.pump(userID, conn)
		},
	}
	server.ServeHTTP(w, r)
}

func (h *Hub) pump(userID string, conn *websocket.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connectionTTL))

	cl := &client{conn: conn, send: make(chan Event, clientSendBuffer)}
	h.attach(userID, cl)
	defer h.detach(userID, cl)

	go func() {
		for event := range cl.send {
			if err := websocket.JSON.Send(cl.conn, event); err != nil {
				return
			}
		}
	}()

	// Drain the peer so pings and closes are noticed.
	for {
		var discard any
		if err := websocket.JSON.Receive(conn, &discard); err != nil {
			return
		}
	}
}

// Broadcast delivers an event to every client the user has connected.
func (h *Hub) Broadcast(userID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for cl := range h.clients[userID] {
		select {
		case cl.send <- event:
		default:
			// Full buffer; the row in the notifications table still has it.
		}
	}
}

// BroadcastMany delivers an event to each supplied user.
func (h *Hub) BroadcastMany(userIDs []string, event Event) {
	for _, userID := range userIDs {
		h.Broadcast(userID, event)
	}
}

func (h *Hub) attach(userID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[userID]
	if set == nil {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[cl] = struct{}{}
}

func (h *Hub) detach(userID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set := h.clients[userID]; set != nil {
		delete(set, cl)
		if len(set) == 0 {
			delete(h.clients, userID)
		}
	}
	close(cl.send)
	_ = cl.conn.Close()
}
