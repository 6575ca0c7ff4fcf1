// Package main runs the live-session platform HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pfa-elearn/backend/config"
	"github.com/pfa-elearn/backend/internal/auth"
	"github.com/pfa-elearn/backend/internal/enrollment"
	"github.com/pfa-elearn/backend/internal/middleware"
	"github.com/pfa-elearn/backend/internal/notifications"
	"github.com/pfa-elearn/backend/internal/polls"
	"github.com/pfa-elearn/backend/internal/realtime"
	"github.com/pfa-elearn/backend/internal/sessions"
	"github.com/pfa-elearn/backend/internal/worker"
	"github.com/pfa-elearn/backend/pkg/database"
	"github.com/pfa-elearn/backend/pkg/queue"
	"github.com/pfa-elearn/backend/pkg/redis"
	"github.com/pfa-elearn/backend/pkg/response"
	"github.com/pfa-elearn/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MaterialsBucket:      cfg.AWS.MaterialsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Courses and enrollments
	enrollRepo := enrollment.NewRepository(pool)
	enrollHandler := enrollment.NewHandler(enrollRepo)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	oracle := enrollment.NewOracle(sessionRepo, enrollRepo)

	// Notifications (queue-backed fan-out plus inbox reads)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notificationRepo := notifications.NewRepository(pool)
	notificationHandler := notifications.NewHandler(notificationRepo, logger)
	notifier := notifications.NewNotifier(enrollRepo, jobQueue, logger)
	notificationProcessor := worker.NewNotificationProcessor(notificationRepo, jobQueue, logger)

	sessionHandler := sessions.NewHandler(sessionRepo, authRepo, enrollRepo, oracle, notifier, hub, s3Client, logger)

	// Polls
	pollRepo := polls.NewRepository(pool)
	pollHandler := polls.NewHandler(pollRepo, sessionRepo, oracle, hub, logger)

	// Durable presence mirror written off the gateway's broadcast path.
	hub.SetPresenceWriter(func(sessionID, userID uuid.UUID, online bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sessionRepo.UpsertPresence(ctx, sessionID, userID, online); err != nil {
			logger.Warn("presence mirror write failed",
				zap.Error(err),
				zap.String("session_id", sessionID.String()),
				zap.String("user_id", userID.String()))
		}
	})

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (admin only)
		api.GET("/users", middleware.RequireRole("admin"), authHandler.List)

		// Courses
		api.GET("/courses", enrollHandler.ListCourses)
		api.POST("/courses", middleware.RequireRole("admin", "teacher"), enrollHandler.CreateCourse)
		api.POST("/courses/:id/enroll", enrollHandler.Enroll)

		// Live sessions
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.PATCH("/sessions/:id/status", sessionHandler.UpdateStatus)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.GET("/sessions/:id/audience_count", sessionHandler.AudienceCount)

		// Session materials
		api.GET("/sessions/:id/materials", sessionHandler.ListMaterials)
		api.PUT("/sessions/:id/materials", sessionHandler.SaveMaterials)
		api.POST("/sessions/:id/materials/upload", sessionHandler.UploadMaterial)

		// Polls
		api.POST("/sessions/:id/polls", pollHandler.Create)
		api.GET("/sessions/:id/polls", pollHandler.ListBySession)
		api.GET("/polls/:id", pollHandler.Get)
		api.POST("/polls/:id/vote", pollHandler.Vote)
		api.POST("/polls/:id/close", pollHandler.Close)

		// Notifications
		api.GET("/notifications", notificationHandler.List)
		api.POST("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process notification delivery; cmd/worker runs the same loop when
	// deployed separately.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go notificationProcessor.Run(workerCtx)
	logger.Info("notification worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
