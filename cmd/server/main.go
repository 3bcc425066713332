package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yakka/backend/config"
	"github.com/yakka/backend/internal/auth"
	"github.com/yakka/backend/internal/cache"
	"github.com/yakka/backend/internal/chat"
	"github.com/yakka/backend/internal/database"
	"github.com/yakka/backend/internal/envelope"
	"github.com/yakka/backend/internal/handlers"
	"github.com/yakka/backend/internal/middleware"
	"github.com/yakka/backend/internal/moderator"
	"github.com/yakka/backend/internal/observability"
	"github.com/yakka/backend/internal/push"
	"github.com/yakka/backend/internal/repository"
	"github.com/yakka/backend/internal/storage"
	"github.com/yakka/backend/internal/websocket"
)

func main() {
	log := observability.GlobalLogger

	fatal := func(msg string, err error) {
		log.Error(msg, slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	if cfg.Server.Env != "production" {
		observability.GlobalLogger = observability.NewLogger(os.Stdout, slog.LevelDebug)
		log = observability.GlobalLogger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer db.Close()

	// Run migrations
	log.Info("running database migrations")
	if err := database.RunMigrations(db.DB); err != nil {
		fatal("failed to run migrations", err)
	}

	// Connect to Redis
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("running without redis, rooms are local to this instance", slog.String("error", err.Error()))
		redis = nil
	} else {
		defer redis.Close()
	}

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	var vaultOpts []envelope.VaultOption
	if cfg.Crypto.LegacyWrites {
		vaultOpts = append(vaultOpts, envelope.WithLegacyWrites())
	}
	vault, err := envelope.NewVault(cfg.Crypto.KeyEncryptionKey, vaultOpts...)
	if err != nil {
		fatal("failed to create key vault", err)
	}

	media, err := storage.NewS3Store(ctx, storage.Options{
		Bucket:     cfg.Storage.Bucket,
		Region:     cfg.Storage.Region,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		PresignTTL: cfg.Storage.PresignTTL,
	})
	if err != nil {
		fatal("failed to configure object storage", err)
	}

	pusher := push.NewExpoSender(cfg.Push.URL, cfg.Push.AccessToken)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	modRepo := repository.NewModerationRepository(db)

	// Chat core
	hub := websocket.NewHub(redis)
	go hub.Run(ctx)

	gate := chat.NewGate(jwtService, userRepo, chatRepo, vault, media)
	relayOpts := []chat.RelayOption{chat.WithScheme(vault.Scheme())}
	if redis != nil {
		relayOpts = append(relayOpts, chat.WithTypingTracker(redis))
	}
	relay := chat.NewRelay(msgRepo, chatRepo, media, hub, pusher, relayOpts...)

	if cfg.Moderation.SweepEnabled {
		sweeper := moderator.NewSweeper(modRepo, vault, pusher, cfg.Moderation.SweepInterval)
		if redis != nil {
			sweeper.WithLocker(redis)
		}
		go sweeper.Run(ctx)
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userRepo, jwtService)
	chatHandler := handlers.NewChatHandler(chatRepo, msgRepo, userRepo, vault, media)
	wsHandler := websocket.NewHandler(hub, gate, relay, cfg.CORS.AllowedOrigins, cfg.API.RateLimitMessagesPerSec)

	// Initialize rate limiter
	var shared middleware.SharedLimiter
	if redis != nil {
		shared = redis
	}
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitMessagesPerSec, shared)
	rateLimiter.Cleanup(ctx)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public routes
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/logout", middleware.AuthMiddleware(jwtService, userRepo), authHandler.Logout)
	}

	// The websocket authenticates its own handshake
	router.GET("/ws", wsHandler.HandleWebSocket)

	// Protected routes
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtService, userRepo))
	{
		api.GET("/me", authHandler.GetMe)

		api.GET("/chats", chatHandler.GetChats)
		api.POST("/chats/:userId", middleware.RateLimitMiddleware(rateLimiter, "create_chat"), chatHandler.CreateChat)
		api.GET("/chats/:chatId", chatHandler.GetChat)
		api.PUT("/chats/:chatId/read", chatHandler.MarkRead)

		api.GET("/presence/:userId", wsHandler.GetPresence)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting yakka server", slog.String("addr", srv.Addr), slog.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("failed to start server", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", slog.String("error", err.Error()))
	}
}
