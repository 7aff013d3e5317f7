// Package main runs the signage scheduler: the control API, the renderer
// module WebSocket endpoint and the scheduling loop for one display surface.
package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulseboard/signage/config"
	"github.com/pulseboard/signage/internal/auth"
	"github.com/pulseboard/signage/internal/catalogue"
	"github.com/pulseboard/signage/internal/eligibility"
	"github.com/pulseboard/signage/internal/history"
	"github.com/pulseboard/signage/internal/lottery"
	"github.com/pulseboard/signage/internal/middleware"
	"github.com/pulseboard/signage/internal/modules"
	"github.com/pulseboard/signage/internal/playback"
	"github.com/pulseboard/signage/internal/scheduler"
	"github.com/pulseboard/signage/internal/triggers"
	"github.com/pulseboard/signage/pkg/database"
	"github.com/pulseboard/signage/pkg/queue"
	"github.com/pulseboard/signage/pkg/redis"
	"github.com/pulseboard/signage/pkg/response"
	"github.com/pulseboard/signage/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Scheduling.Validate(); err != nil {
		logger.Fatal("scheduling config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), 0, logger)
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
			ContentBucket:        cfg.AWS.ContentBucket,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled, s3:// payload refs will not resolve", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Catalogue: restore persisted items, then follow the live update feed.
	cat := catalogue.New(logger)
	catRepo := catalogue.NewRepository(pool)
	items, err := catRepo.ListAll(ctx)
	if err != nil {
		logger.Fatal("restore catalogue", zap.Error(err))
	}
	cat.Load(items)
	logger.Info("catalogue restored", zap.Int("items", len(items)))
	catHandler := catalogue.NewHandler(cat, catRepo, logger)
	catFeed := catalogue.NewFeed(rdb.Client, cat, catRepo, logger)

	// Renderer module hub and playback session manager.
	hub := modules.NewHub(cfg.Scheduling.HeartbeatInterval, cfg.Scheduling.HeartbeatMisses, logger)
	manager := playback.NewManager(cfg.Scheduling.SurfaceID, hub, cat, cfg.Scheduling.AckTimeout, logger)
	hub.SetSessionSink(manager)
	if s3Client != nil {
		manager.SetResolver(s3Client)
	}
	jobQueue := queue.NewQueue(rdb.Client, logger)
	manager.SetReporter(jobQueue)

	// Scheduling loop for this surface.
	evaluator := eligibility.New(cfg.Scheduling, logger)
	selector := lottery.New(rand.NewSource(time.Now().UnixNano()))
	loop := scheduler.New(cat, evaluator, selector, manager, hub, cfg.Scheduling, logger)

	triggerHandler := triggers.NewHandler(loop, logger)
	triggerFeed := triggers.NewFeed(rdb.Client, loop, logger)

	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	histRepo := history.NewRepository(pool)
	histHandler := history.NewHandler(histRepo, cfg.Scheduling.SurfaceID)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		dlq, _ := jobQueue.DLQLength(c.Request.Context())
		response.OK(c, gin.H{
			"status":  "ok",
			"surface": cfg.Scheduling.SurfaceID,
			"modules": len(hub.List()),
			"dlq":     dlq,
		})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Accounts (admin)
		api.POST("/auth/register", middleware.RequireRole("admin"), authHandler.Register)
		api.GET("/auth/accounts", middleware.RequireRole("admin"), authHandler.List)
		api.POST("/auth/module-token", middleware.RequireRole("admin"), authHandler.ModuleToken)

		// Catalogue
		api.GET("/content", catHandler.List)
		api.GET("/content/:id", catHandler.Get)
		api.PUT("/content/:id", middleware.RequireRole("admin"), catHandler.Upsert)
		api.DELETE("/content/:id", middleware.RequireRole("admin"), catHandler.Delete)
		api.POST("/content/:id/suspend", middleware.RequireRole("admin", "operator"), catHandler.Suspend(true))
		api.POST("/content/:id/resume", middleware.RequireRole("admin", "operator"), catHandler.Suspend(false))

		// Payload media (only when S3 is configured)
		if s3Client != nil {
			mediaHandler := catalogue.NewMediaHandler(s3Client, logger)
			api.POST("/content/media/upload-url", middleware.RequireRole("admin"), mediaHandler.UploadURL)
			api.DELETE("/content/media", middleware.RequireRole("admin"), mediaHandler.Delete)
		}

		// Forced play
		api.POST("/triggers/play", middleware.RequireRole("admin", "operator"), triggerHandler.Force)

		// Proof of play
		api.GET("/history", histHandler.Recent)
		api.GET("/history/content/:id", histHandler.ByContent)

		// Connected renderer modules and the session on screen
		api.GET("/modules", func(c *gin.Context) { response.OK(c, hub.List()) })
		api.GET("/session", func(c *gin.Context) { response.OK(c, manager.Current()) })
	}

	// Renderer module WebSocket (module token in query)
	router.GET("/ws/module", modules.ServeWS(hub, logger, jwtService.ValidateModule))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(runCtx)
	go loop.Run(runCtx)
	go func() {
		// Items whose every validity window has passed can never play again.
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if n := cat.PruneExpired(time.Now()); n > 0 {
					logger.Info("pruned expired content", zap.Int("items", n))
				}
			}
		}
	}()
	go func() {
		if err := catFeed.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("catalogue feed stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := triggerFeed.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("trigger feed stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("scheduler stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
