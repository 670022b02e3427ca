package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collab-revisions/auth"
	"collab-revisions/internal/config"
	"collab-revisions/internal/db"
	"collab-revisions/internal/document"
	"collab-revisions/internal/effects"
	"collab-revisions/internal/logger"
	"collab-revisions/internal/middleware"
	"collab-revisions/internal/operation"
	"collab-revisions/internal/policy"
	"collab-revisions/internal/revision"
	"collab-revisions/internal/sync"
	"collab-revisions/internal/user"
	"collab-revisions/internal/worker"
	"collab-revisions/redis"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	log := logger.New(cfg.Environment)

	// Connect to database
	database, err := db.Connect(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting to db")
	}
	defer db.Close(database, log)

	// Migrate database schema
	if err := db.Migrate(database, log); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate db")
	}

	// Seed database with initial data (for development)
	if cfg.Environment == "development" {
		db.SeedData(context.Background(), database, log)
	}

	// Initialize Redis
	redisClient := redis.NewClient(context.Background(), cfg.RedisAddress, log)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := redis.NewCache(redisClient)

	// Initialize repository
	userRepo := user.NewRepository(database)
	docRepo := document.NewRepository(database)
	revisionStore := revision.NewGormStore(database)

	// Side effects run on the worker pool
	pool := worker.NewWorkerPool(cfg.WorkerPoolSize, log)
	effectOpts := effects.DefaultOptions()
	if cfg.EffectMaxRetry > 0 {
		effectOpts.MaxRetry = cfg.EffectMaxRetry
	}
	dispatcher := effects.NewDispatcher(pool, effectOpts, log)

	// Initialize service
	userService := user.NewService(userRepo)
	syncClient := sync.NewSyncClient(cfg.SyncServerAddress, cfg.InternalSecret)
	authorizer := policy.NewRoleAuthorizer(docRepo, cache, log)
	opService := operation.NewService(
		revisionStore,
		cache,
		docRepo,
		authorizer,
		dispatcher,
		operation.ServiceConfig{
			SnapshotEveryDocument: cfg.SnapshotEveryDocument,
			SnapshotEveryPane:     cfg.SnapshotEveryPane,
			CommitTimeout:         cfg.CommitTimeout,
		},
		log,
	)
	docService := document.NewService(docRepo, userService, syncClient, opService, authorizer, cache, log)

	dispatcher.Register(effects.KindSnapshot, effects.SnapshotExecutor(opService))
	dispatcher.Register(effects.KindFanout, effects.FanoutExecutor(syncClient))

	var producer sarama.SyncProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = effects.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatal().Err(err).Strs("brokers", cfg.KafkaBrokers).Msg("failed to connect kafka producer")
		}
		dispatcher.Register(effects.KindNotification, effects.NewKafkaNotifier(producer, cfg.KafkaTopic))
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, revision notifications are disabled")
	}

	// Initialize handler
	signer := auth.NewSigner(cfg.JWTSecret)
	userHandler := user.NewHandler(userService, signer, cfg.Environment == "production", log)
	docHandler := document.NewHandler(docService)
	opHandler := operation.NewHandler(opService)
	authMiddleware := &middleware.Auth{
		Signer:         signer,
		UserService:    userService,
		InternalSecret: cfg.InternalSecret,
	}

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler(log))

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if cfg.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{"https://production-frontend.com"}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.POST("/refresh", userHandler.RefreshToken)

	authed := router.Group("/", authMiddleware.AuthMiddleWare())
	authed.DELETE("/logout", userHandler.Logout)
	authed.GET("/profile", userHandler.GetProfile)
	authed.GET("/users", userHandler.SearchUsers)

	// Document routes
	authed.POST("/documents", docHandler.Create)
	authed.GET("/documents", docHandler.ShowUserDocuments)
	authed.GET("/documents/:id", docHandler.ShowDocument)
	authed.POST("/documents/:id/archive", docHandler.ArchiveDocument)
	authed.POST("/documents/:id/panes", docHandler.CreatePane)
	authed.POST("/documents/:id/panes/:paneId/archive", docHandler.ArchivePane)
	authed.GET("/documents/:id/collaborators", docHandler.ListCollaborators)
	authed.POST("/documents/:id/collaborators", docHandler.AddCollaborator)

	// Operations, revisions and content
	opHandler.RegisterRoutes(authed)

	// internal use routes
	internal := router.Group("/internal", authMiddleware.InternalAuthMiddleware())
	internal.GET("/documents/:id/permission", docHandler.ShowUserRole)
	internal.POST("/snapshots/:kind/:id", opHandler.CreateSnapshot)

	// Server configuration
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("server listening")
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	// Drain effects queued by the last commits
	if err := pool.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("worker pool shutdown error")
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}

	log.Info().Msg("server shutdown complete")
}
