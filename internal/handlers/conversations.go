package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classline/classline/internal/conversations"
	"github.com/classline/classline/internal/services"
	"github.com/classline/classline/pkg/errors"
	"github.com/classline/classline/pkg/response"
)

// ConversationHandler exposes the aggregated conversation surface.
type ConversationHandler struct {
	messages *services.MessageService
	typing   *services.TypingService
}

// NewConversationHandler constructs a conversation handler.
func NewConversationHandler(messages *services.MessageService, typing *services.TypingService) *ConversationHandler {
	return &ConversationHandler{messages: messages, typing: typing}
}

// List returns the user's conversation list with the total unread count.
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	list, unread, err := h.messages.Conversations(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": list,
		"total_unread":  unread,
	})
}

// Thread returns one page of the identified conversation, newest first.
func (h *ConversationHandler) Thread(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	key := strings.TrimSpace(c.Param("key"))
	page, err := h.messages.Thread(requestContext(c), userID, key, parsePage(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Items,
		response.PageMeta(page.Page, page.Limit, page.Total, page.TotalPages))
}

// StartTyping records a typing indicator for the identified conversation.
func (h *ConversationHandler) StartTyping(c *gin.Context) {
	h.typingTransition(c, true)
}

// StopTyping clears a typing indicator for the identified conversation.
func (h *ConversationHandler) StopTyping(c *gin.Context) {
	h.typingTransition(c, false)
}

func (h *ConversationHandler) typingTransition(c *gin.Context, start bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	key, valid := conversations.ParseKey(strings.TrimSpace(c.Param("key")))
	if !valid {
		response.Error(c, errors.NewBadRequest("malformed conversation key"))
		return
	}

	var err error
	studentID := key.StudentID
	if start {
		err = h.typing.Start(requestContext(c), userID, key.CounterpartID, studentID)
	} else {
		err = h.typing.Stop(requestContext(c), userID, key.CounterpartID, studentID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"typing": start})
}
