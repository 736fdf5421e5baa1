package notifications

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func dialNotificationHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := websocket.Dial(url, "json", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClient(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients[userID]) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubBroadcastDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	conn := dialNotificationHub(t, hub, "user-1")
	waitForClient(t, hub, "user-1")

	count := int64(2)
	hub.Broadcast("user-1", Event{
		Event:       EventNotificationCreated,
		UnreadCount: &count,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received Event
	require.NoError(t, websocket.JSON.Receive(conn, &received))
	require.Equal(t, EventNotificationCreated, received.Event)
	require.NotNil(t, received.UnreadCount)
	require.EqualValues(t, 2, *received.UnreadCount)
}

func TestHubBroadcastIgnoresOtherUsers(t *testing.T) {
	hub := NewHub()
	conn := dialNotificationHub(t, hub, "user-1")
	waitForClient(t, hub, "user-1")

	hub.Broadcast("user-2", Event{Event: "not.for.you"})
	hub.Broadcast("user-1", Event{Event: "for.you"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received Event
	require.NoError(t, websocket.JSON.Receive(conn, &received))
	require.Equal(t, "for.you", received.Event)
}

func TestHubBroadcastMany(t *testing.T) {
	hub := NewHub()
	first := dialNotificationHub(t, hub, "user-1")
	second := dialNotificationHub(t, hub, "user-2")
	waitForClient(t, hub, "user-1")
	waitForClient(t, hub, "user-2")

	hub.BroadcastMany([]string{"user-1", "user-2"}, Event{Event: "both"})

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var received Event
		require.NoError(t, websocket.JSON.Receive(conn, &received))
		require.Equal(t, "both", received.Event)
	}
}

func TestHubBroadcastWithoutSubscribersIsSafe(t *testing.T) {
	hub := NewHub()
	hub.Broadcast("nobody", Event{Event: "dropped"})
}
