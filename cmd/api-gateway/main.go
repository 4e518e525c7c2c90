package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/civicdesk/civicdesk-api/api/swagger"
	"github.com/civicdesk/civicdesk-api/internal/handler"
	"github.com/civicdesk/civicdesk-api/internal/middleware"
	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/internal/realtime"
	"github.com/civicdesk/civicdesk-api/internal/repository"
	"github.com/civicdesk/civicdesk-api/internal/service"
	"github.com/civicdesk/civicdesk-api/pkg/cache"
	"github.com/civicdesk/civicdesk-api/pkg/config"
	"github.com/civicdesk/civicdesk-api/pkg/database"
	"github.com/civicdesk/civicdesk-api/pkg/jobs"
	"github.com/civicdesk/civicdesk-api/pkg/logger"
	corsmiddleware "github.com/civicdesk/civicdesk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/civicdesk/civicdesk-api/pkg/middleware/requestid"
	"github.com/civicdesk/civicdesk-api/pkg/storage"
)

// @title CivicDesk API
// @version 1.0.0
// @description Municipal complaint intake and triage gateway
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching and cross-instance realtime disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Analytics.CacheTTL, logr, cfg.Analytics.Enabled)
	}

	complaintRepo := repository.NewComplaintRepository(db)
	complaintRepo.AttachMetrics(metrics)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditTrailRepository(db)

	classifier := service.NewClassifierService(cfg.Classifier, logr)
	classifier.AttachMetrics(metrics)

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(complaintRepo, notificationRepo, redisClient, metrics, logr, cfg.Realtime)
		go hub.Run(ctx)
	}

	complaintSvc := service.NewComplaintService(service.ComplaintServiceParams{
		Repo:          complaintRepo,
		Classifier:    classifier,
		Notifications: notificationRepo,
		Broadcaster:   hub,
		Cache:         cacheSvc,
		Validator:     validate,
		Logger:        logr,
	})

	classifyQueue := jobs.NewQueue("classify", complaintSvc.ClassifyJobHandler(), jobs.QueueConfig{
		Workers:    cfg.Classifier.Workers,
		MaxRetries: cfg.Classifier.MaxRetries,
		Logger:     logr,
	})
	classifyQueue.Start(ctx)
	defer classifyQueue.Stop()
	complaintSvc.AttachClassifyQueue(classifyQueue)

	statsSvc := service.NewStatsService(complaintRepo, cacheSvc, logr, service.StatsServiceConfig{CacheTTL: cfg.Analytics.CacheTTL})
	notificationSvc := service.NewNotificationService(notificationRepo, hub, logr)
	authSvc := service.NewAuthService(cfg.JWT, cfg.Directory, auditRepo, validate, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		exportStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		exportSvc = service.NewExportService(service.ExportServiceParams{
			Repo:      repository.NewExportRepository(db),
			Snapshots: complaintRepo,
			Storage:   exportStorage,
			Signer:    storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
			Logger:    logr,
		})
		exportQueue := jobs.NewQueue("export", exportSvc.JobHandler(), jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportSvc.AttachQueue(exportQueue)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	complaintHandler := handler.NewComplaintHandler(complaintSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	dashboardHandler := handler.NewDashboardHandler(statsSvc)
	publicHandler := handler.NewPublicHandler(statsSvc)

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.GET("/auth/me", middleware.JWT(authSvc), authHandler.Me)

	api.GET("/public/stats", publicHandler.Stats)

	api.POST("/complaints",
		middleware.OptionalJWT(authSvc),
		middleware.Audit(auditRepo, models.HTTPAuditActionComplaintCreate, "complaint"),
		complaintHandler.Create,
	)

	secured := api.Group("", middleware.JWT(authSvc))
	secured.GET("/complaints", complaintHandler.List)
	secured.GET("/complaints/:id", complaintHandler.Get)

	staff := secured.Group("", middleware.RequireStaff())
	staff.PATCH("/complaints/:id/status",
		middleware.Audit(auditRepo, models.HTTPAuditActionComplaintUpdate, "complaint"),
		complaintHandler.UpdateStatus,
	)
	staff.PATCH("/complaints/:id/assignee",
		middleware.Audit(auditRepo, models.HTTPAuditActionComplaintUpdate, "complaint"),
		complaintHandler.Assign,
	)
	staff.PATCH("/complaints/:id/triage",
		middleware.Audit(auditRepo, models.HTTPAuditActionComplaintUpdate, "complaint"),
		complaintHandler.UpdateTriage,
	)
	staff.GET("/notifications", notificationHandler.List)
	staff.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
	staff.GET("/dashboard/stats", dashboardHandler.Stats)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		staff.POST("/exports",
			middleware.Audit(auditRepo, models.HTTPAuditActionExportRequest, "export"),
			exportHandler.Request,
		)
		staff.GET("/exports/:id", exportHandler.Get)
		api.GET("/exports/download", exportHandler.Download)
	}

	if hub != nil {
		wsHandler := handler.NewWSHandler(hub, logr)
		secured.GET("/ws", wsHandler.Subscribe)
		api.GET("/ws/public", wsHandler.PublicFeed)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
