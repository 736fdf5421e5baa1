package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/conversations"
	"github.com/classline/classline/internal/realtime"
	"github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
type RealtimeHandler struct {
	hub            *realtime.Hub
	jwt            *iauth.JWTService
	manager        *conversations.Manager
	allowedStreams map[string]struct{}
}

// NewRealtimeHandler constructs a realtime handler restricted to the known
// streams.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, manager *conversations.Manager) *RealtimeHandler {
	return &RealtimeHandler{
		hub:            hub,
		jwt:            jwt,
		manager:        manager,
		allowedStreams: realtime.KnownStreams(),
	}
}

// Stream validates the caller and upgrades the request to the realtime hub.
// Subscribing to the conversations stream acquires the viewer's aggregation
// subscription for the lifetime of the connection; the first connection
// triggers the cold load, later ones share the live state.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streams := splitStreams(c.Query("streams"))
	if len(streams) == 0 {
		streams = []string{realtime.StreamConversations}
	}

	if h.manager != nil && contains(streams, realtime.StreamConversations) {
		h.manager.Acquire(userID)
		defer h.manager.Release(userID)
	}

	// Serve blocks until the connection closes.
	h.hub.Serve(userID, streams, h.allowedStreams, c.Writer, c.Request)
}

func splitStreams(raw string) []string {
	var streams []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			streams = append(streams, part)
		}
	}
	return streams
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
