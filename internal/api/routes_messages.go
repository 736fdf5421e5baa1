package api

import (
	"github.com/gin-gonic/gin"

	"github.com/classline/classline/internal/handlers"
)

func registerMessageRoutes(api *gin.RouterGroup, messages *handlers.MessageHandler, conversations *handlers.ConversationHandler) {
	group := api.Group("/messages")
	{
		group.POST("", messages.Send)
		group.GET("", messages.List)
		group.GET("/unread-count", messages.UnreadCount)
		group.POST("/read-all", messages.MarkAllRead)
		group.POST("/:id/read", messages.MarkRead)
		group.POST("/:id/unread", messages.MarkUnread)
		group.DELETE("/:id", messages.Delete)
	}

	conv := api.Group("/conversations")
	{
		conv.GET("", conversations.List)
		conv.GET("/:key/messages", conversations.Thread)
		conv.POST("/:key/typing", conversations.StartTyping)
		conv.DELETE("/:key/typing", conversations.StopTyping)
	}
}
