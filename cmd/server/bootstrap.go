package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classline/classline/internal/api"
	"github.com/classline/classline/internal/app"
	"github.com/classline/classline/internal/app/maintenance"
	iauth "github.com/classline/classline/internal/auth"
	"github.com/classline/classline/internal/cache"
	"github.com/classline/classline/internal/conversations"
	"github.com/classline/classline/internal/database"
	"github.com/classline/classline/internal/feed"
	"github.com/classline/classline/internal/middleware"
	"github.com/classline/classline/internal/notifications"
	"github.com/classline/classline/internal/realtime"
	"github.com/classline/classline/internal/services"
	"github.com/classline/classline/internal/store"
	"github.com/classline/classline/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB             *gorm.DB
	Redis          cache.Store
	Broker         *feed.Broker
	Manager        *conversations.Manager
	Dispatcher     *notifications.Dispatcher
	Cleaner        *maintenance.Cleaner
	Router         *gin.Engine
	cancelRealtime context.CancelFunc
}

// bootstrapRuntime initialises the database, caches, the change-feed
// pipeline, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	cacheStore := cache.Store(dbStore)
	if stack.Redis != nil {
		cacheStore = stack.Redis
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	// Change-feed pipeline. The realtime context outlives requests and is
	// cancelled during shutdown.
	realtimeCtx, cancel := context.WithCancel(ctx)
	stack.cancelRealtime = cancel

	stack.Broker = feed.NewBroker()

	messageStore, err := store.NewMessageStore(stack.DB, stack.Broker)
	if err != nil {
		return nil, fmt.Errorf("initialise message store: %w", err)
	}

	realtimeHub := realtime.NewHub()
	sink := realtime.NewConversationSink(realtimeHub)

	stack.Manager = conversations.NewManager(realtimeCtx, messageStore, stack.Broker, sink, conversations.Options{
		Buffer:         cfg.Realtime.FeedBuffer,
		InitialBackoff: cfg.Realtime.InitialBackoff,
		MaxBackoff:     cfg.Realtime.MaxBackoff,
	})

	notificationHub := notifications.NewHub()
	stack.Dispatcher, err = notifications.NewDispatcher(stack.DB, stack.Broker, notificationHub)
	if err != nil {
		return nil, fmt.Errorf("initialise notification dispatcher: %w", err)
	}
	go stack.Dispatcher.Run(realtimeCtx)

	messageSvc, err := services.NewMessageService(stack.DB, messageStore, stack.Manager)
	if err != nil {
		return nil, fmt.Errorf("initialise message service: %w", err)
	}

	notificationSvc, err := services.NewNotificationService(stack.DB, notificationHub)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	typingSvc, err := services.NewTypingService(cacheStore, realtimeHub, cfg.Realtime.TypingTTL)
	if err != nil {
		return nil, fmt.Errorf("initialise typing service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.DB, dbStore,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithNotificationRetentionDays(cfg.Maintenance.NotificationRetentionDays),
			maintenance.WithMessagePurgeDays(cfg.Maintenance.MessagePurgeDays),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	var rateStore middleware.RateStore
	switch {
	case stack.Redis != nil:
		rateStore = middleware.NewCacheRateStore(stack.Redis)
	default:
		rateStore = middleware.NewCacheRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:              stack.DB,
		JWT:             jwtSvc,
		Messages:        messageSvc,
		Notifications:   notificationSvc,
		Typing:          typingSvc,
		Dispatcher:      stack.Dispatcher,
		NotificationHub: notificationHub,
		RealtimeHub:     realtimeHub,
		Manager:         stack.Manager,
		RateStore:       rateStore,
		RateLimitMax:    cfg.Server.RateLimit.MaxRequests,
		RateLimitWindow: cfg.Server.RateLimit.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.cancelRealtime != nil {
		s.cancelRealtime()
	}
	if s.Manager != nil {
		s.Manager.Shutdown()
	}
	if s.Broker != nil {
		s.Broker.Shutdown()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("failed to close redis connection", zap.Error(err))
		}
	}

	closeDatabase(s.DB, log)
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
