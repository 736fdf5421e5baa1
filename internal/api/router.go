package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/conversations"
	"github.com/classline/classline/internal/handlers"
	"github.com/classline/classline/internal/middleware"
	"github.com/classline/classline/internal/notifications"
	"github.com/classline/classline/internal/realtime"
	"github.com/classline/classline/internal/services"
)

// Deps bundles the constructed services and hubs the router wires together.
type Deps struct {
	DB              *gorm.DB
	JWT             *iauth.JWTService
	Messages        *services.MessageService
	Notifications   *services.NotificationService
	Typing          *services.TypingService
	Dispatcher      *notifications.Dispatcher
	NotificationHub *notifications.Hub
	RealtimeHub     *realtime.Hub
	Manager         *conversations.Manager
	RateStore       middleware.RateStore
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Messages == nil || deps.Notifications == nil || deps.Typing == nil {
		return nil, fmt.Errorf("services must be provided")
	}
	if deps.Dispatcher == nil || deps.NotificationHub == nil || deps.RealtimeHub == nil || deps.Manager == nil {
		return nil, fmt.Errorf("hubs and dispatcher must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	rateMax := deps.RateLimitMax
	if rateMax == 0 {
		rateMax = 300
	}
	rateWindow := deps.RateLimitWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	r.Use(middleware.RateLimit(deps.RateStore, rateMax, rateWindow))

	// Operational endpoints (public)
	r.GET("/health", handlers.Health())
	r.GET("/ready", handlers.Ready(deps.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(middleware.NotFoundHandler)

	messageHandler := handlers.NewMessageHandler(deps.Messages)
	conversationHandler := handlers.NewConversationHandler(deps.Messages, deps.Typing)
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, deps.NotificationHub, deps.JWT)
	eventHandler := handlers.NewEventHandler(deps.Dispatcher)
	realtimeHandler := handlers.NewRealtimeHandler(deps.RealtimeHub, deps.JWT, deps.Manager)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerMessageRoutes(api, messageHandler, conversationHandler)
	registerNotificationRoutes(api, notificationHandler, eventHandler)

	// Realtime entry points sit outside the auth middleware because
	// websocket clients authenticate via the token query parameter, which
	// the handlers validate themselves.
	r.GET("/ws", realtimeHandler.Stream)
	r.GET("/ws/notifications", notificationHandler.Stream)

	return r, nil
}
