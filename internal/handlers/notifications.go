package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/notifications"
	"github.com/classline/classline/internal/services"
	"github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for notifications.
type NotificationHandler struct {
	service *services.NotificationService
	hub     *notifications.Hub
	jwt     *iauth.JWTService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService, hub *notifications.Hub, jwt *iauth.JWTService) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		hub:     hub,
		jwt:     jwt,
	}
}

// List returns notifications for the current user.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	page, err := h.service.List(requestContext(c), userID, unreadOnly, parsePage(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Items,
		response.PageMeta(page.Page, page.Limit, int(page.Total), page.TotalPages))
}

// UnreadCount returns the user's unread notification count.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread": count})
}

// MarkRead marks a notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	notification, err := h.service.MarkRead(requestContext(c), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, notification)
}

// MarkAllRead marks all of the user's notifications as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Delete(requestContext(c), userID, id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// ClearAll removes every notification for the user.
func (h *NotificationHandler) ClearAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	removed, err := h.service.ClearAll(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}

// Stream upgrades the connection to a WebSocket for notification streaming.
func (h *NotificationHandler) Stream(c *gin.Context) {
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

	h.hub.Serve(claims.UserID, c.Writer, c.Request)
}
