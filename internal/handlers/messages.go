package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classline/classline/internal/services"
	"github.com/classline/classline/pkg/response"
)

// MessageHandler exposes HTTP endpoints for the message log.
type MessageHandler struct {
	service *services.MessageService
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// Send creates a new message from the current user.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var input services.SendInput
	if !bindAndValidate(c, &input) {
		return
	}

	msg, err := h.service.Send(requestContext(c), userID, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// List returns one filtered page of the current user's messages.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	page, err := h.service.List(requestContext(c), userID, filter, parsePage(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Items,
		response.PageMeta(page.Page, page.Limit, page.Total, page.TotalPages))
}

// MarkRead marks a message as read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	h.updateReadState(c, true)
}

// MarkUnread marks a message as unread.
func (h *MessageHandler) MarkUnread(c *gin.Context) {
	h.updateReadState(c, false)
}

func (h *MessageHandler) updateReadState(c *gin.Context, read bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	msg, err := h.service.MarkRead(requestContext(c), userID, id, read)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// MarkAllRead marks the user's unread messages as read, optionally scoped by
// the shared filter parameters.
func (h *MessageHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	scope, err := parseFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	updated, err := h.service.MarkAllRead(requestContext(c), userID, scope)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a message the user participates in.
func (h *MessageHandler) Delete(c *gin.Context) {
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

// UnreadCount returns the user's total unread message count.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
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
