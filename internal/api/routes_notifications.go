package api

import (
	"github.com/gin-gonic/gin"

	"github.com/classline/classline/internal/handlers"
	"github.com/classline/classline/internal/middleware"
	"github.com/classline/classline/internal/models"
)

func registerNotificationRoutes(api *gin.RouterGroup, notifications *handlers.NotificationHandler, events *handlers.EventHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", notifications.List)
		group.GET("/unread-count", notifications.UnreadCount)
		group.POST("/read-all", notifications.MarkAllRead)
		group.POST("/:id/read", notifications.MarkRead)
		group.DELETE("/:id", notifications.Delete)
		group.DELETE("", notifications.ClearAll)
	}

	// Event intake is reserved for internal producers.
	api.POST("/events", middleware.RequireRole(string(models.RoleAdmin)), events.Intake)
}
