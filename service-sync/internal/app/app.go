package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redinc23/hathor-red-sub003/pkg/auth"
	"github.com/redinc23/hathor-red-sub003/pkg/config"
	"github.com/redinc23/hathor-red-sub003/pkg/database"
	"github.com/redinc23/hathor-red-sub003/pkg/logger"
	"github.com/redinc23/hathor-red-sub003/pkg/queue"
	"github.com/redinc23/hathor-red-sub003/pkg/redis"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/handler"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/hub"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/repository"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type AppServer struct {
	config      *config.Config
	handler     *handler.SyncHandler
	redisClient *redis.Client
	events      *queue.Publisher
}

// NewAppServer wires the sync server: Postgres for durable room, membership
// and playback rows, Redis for the playback cache and cross-instance event
// channels, RabbitMQ (optional) for the room event feed.
func NewAppServer(cfg *config.Config) *AppServer {
	db, err := database.NewPgDB(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	redisClient, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize Redis client: %v", err)
	}

	events, err := queue.NewPublisher(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize event publisher: %v", err)
	}

	roomRepo := repository.NewRoomRepository(db)
	playbackRepo := repository.NewPlaybackRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	connHub := hub.New()

	roomService := service.NewRoomService(roomRepo, cacheRepo, connHub, events, cfg.Sync.StoreTimeout)
	stateService := service.NewStateService(playbackRepo, cacheRepo, connHub, cfg.Sync.StoreTimeout)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret)

	syncHandler := handler.NewSyncHandler(roomService, stateService, jwtManager, connHub, cfg.Sync.SendBufferSize)

	return &AppServer{
		config:      cfg,
		handler:     syncHandler,
		redisClient: redisClient,
		events:      events,
	}
}

// Serve starts the sync server.
func (s *AppServer) Serve() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: true,
	}
	router.Use(cors.New(corsConfig))

	s.setupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.config.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("starting sync server on port %s", s.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("sync server failed to start: %v", err)
		}
	}()

	s.gracefulShutdown(server)

	logger.Info("sync server shutdown complete")
}

// setupRoutes configures the server routes.
func (s *AppServer) setupRoutes(router *gin.Engine) {
	// single websocket endpoint; rooms are joined via messages, not URLs
	router.GET("/ws", s.handler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.POST("/rooms", s.handler.CreateRoom)
		api.GET("/rooms/:roomID/state", s.handler.GetRoomState)
		api.GET("/rooms/:roomID/participants", s.handler.GetRoomParticipants)
		api.GET("/me/state", s.handler.GetMyState)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sync"})
	})
}

// gracefulShutdown handles graceful server shutdown.
func (s *AppServer) gracefulShutdown(server *http.Server) {
	ctx, stopCtx := context.WithCancel(context.Background())

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-signals

		if s.redisClient != nil {
			s.redisClient.Close()
		}
		if s.events != nil {
			s.events.Close()
		}

		err := server.Shutdown(ctx)
		if err != nil {
			logger.Error(err, "sync server shutdown error")
		} else {
			logger.Info("sync server graceful shutdown")
		}

		stopCtx()
	}()

	<-ctx.Done()
}
